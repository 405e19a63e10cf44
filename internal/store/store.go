// Package store holds the errors shared by the storage backends.
package store

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateEmail   = errors.New("associate email already exists")
	ErrUnknownReference = errors.New("referenced template or associate does not exist")
)
