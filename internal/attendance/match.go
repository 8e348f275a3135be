package attendance

import (
	"math"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/imagehash"
)

// DefaultThreshold is the largest distance still accepted as the same person.
const DefaultThreshold = 0.3

// Match is the closest gallery entry to a probe hash.
type Match struct {
	Entry    GalleryEntry
	Distance float64
	// Checked counts the gallery entries that could be compared.
	Checked int
}

// Confidence is the similarity as a percentage rounded to two decimals.
func (m Match) Confidence() float64 {
	return Confidence(m.Distance)
}

// Accepted reports whether the match is within threshold.
func (m Match) Accepted(threshold float64) bool {
	return m.Checked > 0 && m.Distance <= threshold
}

// Confidence converts a distance into a percentage rounded to two decimals.
func Confidence(distance float64) float64 {
	return math.Round((1-distance)*100*100) / 100
}

// BestMatch scans the gallery and returns the entry closest to probe. Ties keep
// the earliest entry. Entries with unreadable hashes are skipped; ok is false
// when nothing could be compared.
func BestMatch(probe imagehash.Hash, gallery []GalleryEntry) (Match, bool) {
	best := Match{Distance: math.Inf(1)}
	for _, g := range gallery {
		h, err := imagehash.Parse(g.Hash)
		if err != nil {
			continue
		}
		best.Checked++
		if d := imagehash.Distance(probe, h); d < best.Distance {
			best.Entry = g
			best.Distance = d
		}
	}
	if best.Checked == 0 {
		return Match{}, false
	}
	return best, true
}
