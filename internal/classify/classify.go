// Package classify decides whether an uploaded document already carries
// machine-readable text or needs optical character recognition.
package classify

import (
	"bytes"
	"errors"
	"fmt"
	"unicode"
)

var ErrUnsupportedFormat = errors.New("unsupported document format")

// Verdict is the classification outcome for one document.
type Verdict struct {
	Kind            Kind
	PageCount       int
	CharsPerPage    float64
	MeaningfulRatio float64
}

type Kind string

const (
	KindTextNative Kind = "text_native"
	KindScanned    Kind = "scanned"
	KindUnknown    Kind = "unknown"
)

// Format is the per-variant capability resolved once at classification time.
type Format interface {
	// Name is the format tag ("pdf", "image/png", ...).
	Name() string
	// Matches sniffs the leading bytes of the stream.
	Matches(data []byte) bool
	// Classify inspects the full byte stream and returns a verdict.
	Classify(data []byte) (Verdict, error)
}

type Classifier struct {
	// MinCharsPerPage is the minimum average extractable-character count
	// per page for a text-native verdict.
	MinCharsPerPage int
	// MinMeaningfulRatio is the minimum ratio of alphanumeric characters
	// to total bytes scanned for a text-native verdict.
	MinMeaningfulRatio float64

	formats []Format
}

func NewClassifier(minCharsPerPage int, minMeaningfulRatio float64) *Classifier {
	c := &Classifier{
		MinCharsPerPage:    minCharsPerPage,
		MinMeaningfulRatio: minMeaningfulRatio,
	}
	c.formats = []Format{
		&pdfFormat{classifier: c},
		&imageFormat{},
	}
	return c
}

// Resolve returns the format capability for the byte stream, or
// ErrUnsupportedFormat when no registered format recognizes it. The result
// is resolved once and reused for the rest of the pipeline.
func (c *Classifier) Resolve(data []byte) (Format, error) {
	for _, f := range c.formats {
		if f.Matches(data) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: unrecognized byte stream", ErrUnsupportedFormat)
}

// Classify runs format resolution and the format's classification rule.
func (c *Classifier) Classify(data []byte) (Verdict, error) {
	if len(data) == 0 {
		return Verdict{Kind: KindUnknown}, fmt.Errorf("%w: empty document", ErrUnsupportedFormat)
	}

	format, err := c.Resolve(data)
	if err != nil {
		return Verdict{Kind: KindUnknown}, err
	}
	return format.Classify(data)
}

// decide applies the threshold rule shared by text-capable formats.
func (c *Classifier) decide(text string, pageCount int, bytesScanned int) Verdict {
	if pageCount < 1 {
		pageCount = 1
	}

	meaningful := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			meaningful++
		}
	}

	v := Verdict{
		PageCount:    pageCount,
		CharsPerPage: float64(extractableCount(text)) / float64(pageCount),
	}
	if bytesScanned > 0 {
		v.MeaningfulRatio = float64(meaningful) / float64(bytesScanned)
	}

	if v.CharsPerPage >= float64(c.MinCharsPerPage) && v.MeaningfulRatio >= c.MinMeaningfulRatio {
		v.Kind = KindTextNative
	} else {
		v.Kind = KindScanned
	}
	return v
}

func extractableCount(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			continue
		}
		n++
	}
	return n
}

// sniff helpers shared by the format implementations.

var (
	pdfMagic  = []byte("%PDF-")
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	gifMagic  = []byte("GIF8")
)

func hasPrefix(data, magic []byte) bool {
	return len(data) >= len(magic) && bytes.Equal(data[:len(magic)], magic)
}
