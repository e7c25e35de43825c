package queue

import (
	"errors"
	"fmt"
)

// FatalError marks an attempt failure that no retry can fix, such as a
// corrupt byte stream. The pool fails the job immediately instead of
// burning the remaining attempts.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps an error as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether the error chain contains a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
