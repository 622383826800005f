package similarity

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/bits"
	"strconv"
	"strings"
)

// FingerprintBits is the length of every fingerprint produced here.
const FingerprintBits = 64

var ErrInvalidFingerprint = errors.New("invalid fingerprint")

// Fingerprint is a 64-bit average hash of an 8x8 luminance grid. The first
// grid cell (top-left) is the most significant bit.
type Fingerprint uint64

func ParseFingerprint(value string) (Fingerprint, error) {
	value = strings.TrimSpace(value)
	if len(value) != FingerprintBits/4 {
		return 0, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidFingerprint, FingerprintBits/4, len(value))
	}
	parsed, err := strconv.ParseUint(value, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	return Fingerprint(parsed), nil
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Distance is the Hamming distance between two fingerprints.
func Distance(a, b Fingerprint) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// FingerprintDistance parses two hex fingerprints and returns their distance.
func FingerprintDistance(a, b string) (int, error) {
	fa, err := ParseFingerprint(a)
	if err != nil {
		return 0, err
	}
	fb, err := ParseFingerprint(b)
	if err != nil {
		return 0, err
	}
	return Distance(fa, fb), nil
}

const gridSize = 8

// AverageHash box-samples img onto an 8x8 luminance grid and sets each bit
// whose cell is at or above the grid mean.
func AverageHash(img image.Image) Fingerprint {
	bounds := img.Bounds()
	if bounds.Empty() {
		return 0
	}

	var gray [gridSize * gridSize]float64
	sum := 0.0
	for row := 0; row < gridSize; row++ {
		y0, y1 := cellSpan(bounds.Min.Y, bounds.Dy(), row)
		for col := 0; col < gridSize; col++ {
			x0, x1 := cellSpan(bounds.Min.X, bounds.Dx(), col)
			total := 0.0
			count := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					total += luma(img, x, y)
					count++
				}
			}
			value := total / float64(count)
			gray[row*gridSize+col] = value
			sum += value
		}
	}

	avg := sum / float64(len(gray))
	var hash uint64
	for i, value := range gray {
		if value >= avg {
			hash |= 1 << uint(len(gray)-1-i)
		}
	}
	return Fingerprint(hash)
}

// cellSpan maps grid cell index onto [start, end) of a dimension. Cells are
// never empty, so images smaller than the grid repeat pixels.
func cellSpan(origin, size, index int) (int, int) {
	start := origin + index*size/gridSize
	end := origin + (index+1)*size/gridSize
	if end <= start {
		end = start + 1
	}
	if end > origin+size {
		end = origin + size
		start = end - 1
	}
	return start, end
}

func luma(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	return 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
}

// ArtBox is the focused art region of a card image: 10% in from the left,
// 23% down, 80% wide and 42% tall.
func ArtBox(bounds image.Rectangle) image.Rectangle {
	w := bounds.Dx()
	h := bounds.Dy()
	x0 := bounds.Min.X + w*10/100
	y0 := bounds.Min.Y + h*23/100
	return image.Rect(x0, y0, x0+w*80/100, y0+h*42/100)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// RegionHashes returns the full-card and art-box fingerprints of img.
func RegionHashes(img image.Image) (full, art Fingerprint) {
	full = AverageHash(img)
	box := ArtBox(img.Bounds())
	if box.Empty() {
		return full, full
	}
	if si, ok := img.(subImager); ok {
		return full, AverageHash(si.SubImage(box))
	}
	return full, AverageHash(&cropped{img: img, rect: box})
}

type cropped struct {
	img  image.Image
	rect image.Rectangle
}

func (c *cropped) ColorModel() color.Model { return c.img.ColorModel() }
func (c *cropped) Bounds() image.Rectangle { return c.rect }
func (c *cropped) At(x, y int) color.Color { return c.img.At(x, y) }
