package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// Preprocessor normalizes scanned pages before recognition: grayscale,
// contrast stretch, and upscaling of low-resolution input.
type Preprocessor struct {
	// MinWidth below which pages are upscaled; recognition quality drops
	// sharply under ~1000px for letter-sized scans.
	MinWidth int
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{MinWidth: 1200}
}

// Normalize decodes the page image and re-encodes it as normalized
// grayscale PNG.
func (p *Preprocessor) Normalize(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding page image: %w", err)
	}

	gray := toGray(img)
	gray = stretchContrast(gray)

	if p.MinWidth > 0 && gray.Bounds().Dx() < p.MinWidth {
		gray = upscale(gray, p.MinWidth)
	}

	var out bytes.Buffer
	if err := png.Encode(&out, gray); err != nil {
		return nil, fmt.Errorf("encoding normalized page: %w", err)
	}
	return out.Bytes(), nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	xdraw.Draw(gray, bounds, img, bounds.Min, xdraw.Src)
	return gray
}

// stretchContrast maps the observed intensity range onto the full [0,255]
// span. Low-contrast scans gain the most; already-normalized pages pass
// through unchanged.
func stretchContrast(g *image.Gray) *image.Gray {
	var min, max uint8 = 255, 0
	for _, px := range g.Pix {
		if px < min {
			min = px
		}
		if px > max {
			max = px
		}
	}
	if min == 0 && max == 255 || max <= min {
		return g
	}

	span := float64(max - min)
	out := image.NewGray(g.Bounds())
	for i, px := range g.Pix {
		out.Pix[i] = uint8(float64(px-min) / span * 255.0)
	}
	return out
}

func upscale(g *image.Gray, minWidth int) *image.Gray {
	bounds := g.Bounds()
	scale := float64(minWidth) / float64(bounds.Dx())
	dst := image.NewGray(image.Rect(0, 0, minWidth, int(float64(bounds.Dy())*scale)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), g, bounds, xdraw.Src, nil)
	return dst
}
