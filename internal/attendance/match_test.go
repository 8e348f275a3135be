package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/imagehash"
)

func TestBestMatchPicksClosest(t *testing.T) {
	gallery := []GalleryEntry{
		{StudentID: "S1", Name: "Far", Hash: "ffffffffffffffff"},
		{StudentID: "S2", Name: "Near", Hash: "0f0f0f0f0f0f0f0e"},
		{StudentID: "S3", Name: "Broken", Hash: "nothex"},
	}

	m, ok := BestMatch(imagehash.Hash(0x0f0f0f0f0f0f0f0f), gallery)
	require.True(t, ok)
	assert.Equal(t, "S2", m.Entry.StudentID)
	assert.Equal(t, 1.0/64, m.Distance)
	assert.Equal(t, 2, m.Checked)
	assert.True(t, m.Accepted(DefaultThreshold))
	assert.Equal(t, 98.44, m.Confidence())
}

func TestBestMatchTieKeepsFirst(t *testing.T) {
	gallery := []GalleryEntry{
		{StudentID: "A", Hash: "00000000000000ff"},
		{StudentID: "B", Hash: "00000000000000ff"},
	}

	m, ok := BestMatch(imagehash.Hash(0xff), gallery)
	require.True(t, ok)
	assert.Equal(t, "A", m.Entry.StudentID)
	assert.Equal(t, 0.0, m.Distance)
	assert.Equal(t, 100.0, m.Confidence())
}

func TestBestMatchRejectsAboveThreshold(t *testing.T) {
	// 32 of 64 bits differ.
	gallery := []GalleryEntry{{StudentID: "S1", Hash: "00000000ffffffff"}}

	m, ok := BestMatch(imagehash.Hash(0), gallery)
	require.True(t, ok)
	assert.Equal(t, 0.5, m.Distance)
	assert.False(t, m.Accepted(DefaultThreshold))
	assert.Equal(t, 50.0, m.Confidence())
}

func TestBestMatchThresholdIsInclusive(t *testing.T) {
	m := Match{Distance: 0.3, Checked: 1}
	assert.True(t, m.Accepted(0.3))
}

func TestBestMatchEmptyGallery(t *testing.T) {
	_, ok := BestMatch(imagehash.Hash(0), nil)
	assert.False(t, ok)

	_, ok = BestMatch(imagehash.Hash(0), []GalleryEntry{{StudentID: "x", Hash: ""}})
	assert.False(t, ok)
}
