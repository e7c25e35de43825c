// Package ocr wraps the external recognition engine. The engine binary is a
// black box: slow, occasionally failing on malformed images, and driven
// through a Runner so tests can stub it out.
package ocr

import (
	"context"
	"errors"
	"fmt"
)

// Word is one recognized token with its confidence and layout box.
type Word struct {
	Text       string
	Confidence float64
	X          int
	Y          int
	Width      int
	Height     int
}

// Result is the output of one recognition call.
type Result struct {
	Text string
	// Confidence is the engine-reported mean word confidence in [0,1].
	Confidence    float64
	Words         []Word
	EngineVersion string
}

// Engine is the narrow contract the pipeline consumes.
type Engine interface {
	Recognize(ctx context.Context, image []byte, language string) (Result, error)
}

// EngineError distinguishes failures worth retrying (engine hiccups,
// resource exhaustion) from fatal ones (corrupt input).
type EngineError struct {
	Transient bool
	Err       error
}

func (e *EngineError) Error() string {
	if e.Transient {
		return fmt.Sprintf("transient engine error: %v", e.Err)
	}
	return fmt.Sprintf("fatal engine error: %v", e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// IsTransient reports whether err is an engine error worth retrying.
func IsTransient(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	return false
}
