package io

import "io"

type nopSeekCloser struct {
	io.ReadSeeker
}

func (nopSeekCloser) Close() error { return nil }

// NopSeekCloser returns an io.ReadSeekCloser whose Close does nothing,
// so the caller keeps ownership of the underlying reader.
func NopSeekCloser(r io.ReadSeeker) io.ReadSeekCloser {
	return nopSeekCloser{ReadSeeker: r}
}
