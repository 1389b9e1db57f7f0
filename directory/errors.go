package directory

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a Directory operation matches one of them with errors.Is.
var (
	ErrNotFound = errors.New("file not found")
	ErrRemote   = errors.New("remote store failure")
	ErrLocalIO  = errors.New("local cache failure")
)

// FileError records a failed operation on a named file.
type FileError struct {
	Op   string
	Name string
	Kind error
	Err  error
}

func (e *FileError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Name, e.Kind, e.Err)
}

func (e *FileError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ReadError records a failed read of a cached file at Offset. It is always of kind ErrLocalIO.
type ReadError struct {
	Name   string
	Offset int64
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s at offset %d: %v", e.Name, e.Offset, e.Err)
}

func (e *ReadError) Unwrap() []error {
	return []error{ErrLocalIO, e.Err}
}
