// Package imagehash computes 64-bit average hashes of photos and compares them.
package imagehash

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Side is the edge length of the downsampled grid; Side*Side bits make a hash.
const Side = 8

// Bits is the number of bits in a Hash.
const Bits = Side * Side

// MaxPixels caps width*height of images accepted for hashing.
const MaxPixels = 25_000_000

// ErrInvalidImage is returned when the payload cannot be decoded into an image.
var ErrInvalidImage = errors.New("imagehash: invalid image data")

// ErrInvalidHash is returned by Parse for strings that are not 16 hex digits.
var ErrInvalidHash = errors.New("imagehash: invalid hash")

// Hash is a 64-bit average hash. Bit 63 is the top-left pixel, bit 0 the
// bottom-right one.
type Hash uint64

// String renders the hash as 16 lowercase hex characters.
func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Parse reads a hash produced by Hash.String.
func Parse(s string) (Hash, error) {
	if len(s) != Bits/4 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	return Hash(v), nil
}

// FromBase64 decodes a base64 image, optionally prefixed with a data URL header
// such as "data:image/png;base64,", and hashes it.
func FromBase64(data string) (Hash, error) {
	raw, err := decodeBase64(data)
	if err != nil {
		return 0, err
	}
	return FromBytes(raw)
}

// FromBytes hashes an encoded image (JPEG, PNG, GIF, BMP or WebP).
func FromBytes(raw []byte) (Hash, error) {
	if len(raw) == 0 {
		return 0, ErrInvalidImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return 0, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, MaxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return FromImage(img), nil
}

// FromImage converts img to grayscale, shrinks it to 8x8 and sets one bit per
// pixel brighter than the mean, row by row.
func FromImage(img image.Image) Hash {
	small := image.NewGray(image.Rect(0, 0, Side, Side))
	draw.CatmullRom.Scale(small, small.Bounds(), grayscale(img), img.Bounds(), draw.Src, nil)

	var sum int
	for _, p := range small.Pix {
		sum += int(p)
	}
	mean := float64(sum) / Bits

	var h Hash
	for y := 0; y < Side; y++ {
		for x := 0; x < Side; x++ {
			h <<= 1
			if float64(small.GrayAt(x, y).Y) > mean {
				h |= 1
			}
		}
	}
	return h
}

// Distance is the fraction of differing bits between a and b, in [0, 1].
func Distance(a, b Hash) float64 {
	return float64(bits.OnesCount64(uint64(a^b))) / Bits
}

// grayscale applies ITU-R 601 luma on straight (non-premultiplied) channels.
func grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			l := (uint32(c.R)*299 + uint32(c.G)*587 + uint32(c.B)*114) / 1000
			out.SetGray(x, y, color.Gray{Y: uint8(l)})
		}
	}
	return out
}

func decodeBase64(data string) ([]byte, error) {
	if i := strings.IndexByte(data, ','); i >= 0 {
		data = data[i+1:]
	}
	data = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, data)
	if data == "" {
		return nil, ErrInvalidImage
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(data); err == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("%w: not base64", ErrInvalidImage)
}
