package classify

import (
	"bytes"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// imageFormat handles raster uploads. An image carries no extractable text,
// so a decodable image is always classified scanned.
type imageFormat struct{}

func (f *imageFormat) Name() string { return "image" }

func (f *imageFormat) Matches(data []byte) bool {
	return hasPrefix(data, pngMagic) || hasPrefix(data, jpegMagic) || hasPrefix(data, gifMagic)
}

func (f *imageFormat) Classify(data []byte) (Verdict, error) {
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return Verdict{Kind: KindUnknown}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	return Verdict{
		Kind:      KindScanned,
		PageCount: 1,
	}, nil
}
