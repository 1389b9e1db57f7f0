package io

import "io"

// CountingWriter forwards writes to Writer and counts the bytes accepted by it.
type CountingWriter struct {
	Writer io.Writer
	n      int64
}

func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{Writer: w}
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.Writer.Write(p)
	c.n += int64(n)
	return n, err
}

// Count returns the number of bytes written so far.
func (c *CountingWriter) Count() int64 {
	return c.n
}
