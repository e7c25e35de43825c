package classify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	pdfcpu "github.com/pdfcpu/pdfcpu/pkg/api"
	pdfcpumodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfFormat classifies PDF byte streams. Page count and structural validity
// come from pdfcpu; the embedded-text sample comes from ledongthuc/pdf.
type pdfFormat struct {
	classifier *Classifier
}

func (f *pdfFormat) Name() string { return "pdf" }

func (f *pdfFormat) Matches(data []byte) bool {
	return hasPrefix(data, pdfMagic)
}

func (f *pdfFormat) Classify(data []byte) (Verdict, error) {
	conf := pdfcpumodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfcpumodel.ValidationRelaxed

	ctx, err := pdfcpu.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return Verdict{Kind: KindUnknown}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return Verdict{Kind: KindUnknown}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	pageCount := ctx.PageCount

	text, err := f.ExtractText(data)
	if err != nil {
		// A structurally valid PDF whose text layer cannot be read is a
		// scan, not a corrupt file.
		return Verdict{Kind: KindScanned, PageCount: pageCount}, nil
	}

	return f.classifier.decide(text, pageCount, len(data)), nil
}

// ExtractText reads the embedded text layer of every page. Used both for
// classification sampling and for the synchronous extraction path.
func (f *pdfFormat) ExtractText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf text layer: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.WriteString(content)
	}
	return b.String(), nil
}

// TextExtractor is implemented by formats whose byte stream can yield text
// without recognition.
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}
