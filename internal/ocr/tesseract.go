package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Config for the tesseract-backed engine.
type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Language  string // default "eng"
	DPI       int    // rasterization DPI for scanned PDFs, default 300
}

// TesseractEngine runs the tesseract binary in TSV mode to obtain per-word
// confidences alongside the plain text.
type TesseractEngine struct {
	cfg    Config
	runner Runner
}

var _ Engine = (*TesseractEngine)(nil)

func NewTesseractEngine(cfg Config) *TesseractEngine {
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &TesseractEngine{cfg: cfg, runner: execRunner{}}
}

// WithRunner swaps the command runner; used by tests.
func (e *TesseractEngine) WithRunner(r Runner) *TesseractEngine {
	e.runner = r
	return e
}

func (e *TesseractEngine) Recognize(ctx context.Context, image []byte, language string) (Result, error) {
	if language == "" {
		language = e.cfg.Language
	}

	tmp, err := os.CreateTemp("", "docproc-ocr-*.png")
	if err != nil {
		return Result{}, &EngineError{Transient: true, Err: err}
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(image); err != nil {
		_ = tmp.Close()
		return Result{}, &EngineError{Transient: true, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return Result{}, &EngineError{Transient: true, Err: err}
	}

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract,
		tmp.Name(), "stdout", "-l", language, "--dpi", strconv.Itoa(e.cfg.DPI), "tsv")
	if err != nil {
		return Result{}, mapExecError(ctx, err, string(errb))
	}

	result := parseTSV(string(out))
	result.EngineVersion = "tesseract"
	return result, nil
}

// RasterizePDF renders each PDF page to a PNG via pdftoppm, returning them
// in page order.
func (e *TesseractEngine) RasterizePDF(ctx context.Context, data []byte) ([][]byte, error) {
	tmpDir, err := os.MkdirTemp("", "docproc-pp-*")
	if err != nil {
		return nil, &EngineError{Transient: true, Err: err}
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, &EngineError{Transient: true, Err: err}
	}

	prefix := filepath.Join(tmpDir, "page")
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-r", strconv.Itoa(e.cfg.DPI), "-png", in, prefix)
	if err != nil {
		return nil, mapExecError(ctx, err, string(errb))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, &EngineError{Transient: false, Err: errors.New("pdftoppm produced no images")}
	}

	pages := make([][]byte, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, &EngineError{Transient: true, Err: err}
		}
		pages = append(pages, b)
	}
	return pages, nil
}

// parseTSV reads tesseract's TSV output. Level 5 rows are words; text is
// rebuilt with line breaks on line-number changes.
func parseTSV(tsv string) Result {
	var (
		b        strings.Builder
		words    []Word
		confSum  float64
		lastLine = -1
	)

	for i, line := range strings.Split(tsv, "\n") {
		if i == 0 || strings.TrimSpace(line) == "" {
			// header or trailing blank
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		level, _ := strconv.Atoi(cols[0])
		if level != 5 {
			continue
		}

		lineNum, _ := strconv.Atoi(cols[4])
		left, _ := strconv.Atoi(cols[6])
		top, _ := strconv.Atoi(cols[7])
		width, _ := strconv.Atoi(cols[8])
		height, _ := strconv.Atoi(cols[9])
		conf, _ := strconv.ParseFloat(cols[10], 64)
		text := cols[11]
		if strings.TrimSpace(text) == "" || conf < 0 {
			continue
		}

		if b.Len() > 0 {
			if lineNum != lastLine {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		lastLine = lineNum
		b.WriteString(text)

		words = append(words, Word{
			Text:       text,
			Confidence: conf / 100.0,
			X:          left,
			Y:          top,
			Width:      width,
			Height:     height,
		})
		confSum += conf / 100.0
	}

	result := Result{Text: b.String(), Words: words}
	if len(words) > 0 {
		result.Confidence = confSum / float64(len(words))
	}
	return result
}

// mapExecError translates a failed engine invocation into the retry
// taxonomy. Context expiry surfaces as-is so the worker can account it as a
// timeout; unreadable input is fatal; anything else is worth another try.
func mapExecError(ctx context.Context, err error, stderr string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	lowered := strings.ToLower(stderr)
	for _, marker := range []string{
		"cannot be read",
		"corrupt",
		"unsupported image",
		"pixreadmem",
		"syntax error",
	} {
		if strings.Contains(lowered, marker) {
			return &EngineError{Transient: false, Err: fmt.Errorf("%v: %s", err, firstLine(stderr))}
		}
	}
	return &EngineError{Transient: true, Err: fmt.Errorf("%v: %s", err, firstLine(stderr))}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
