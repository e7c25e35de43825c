package store

import "errors"

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateKey    = errors.New("already exists")
	ErrConcurrentWrite = errors.New("concurrent write detected")
)
