// Package compress provides the named codecs used for remote payloads.
package compress

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/DataDog/zstd"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

var ErrUnknownCodec = errors.New("unknown codec")

// Codec is a streaming compression format identified by Name.
// The name is stored next to the payload so that readers can pick the matching decoder.
type Codec interface {
	Name() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

const (
	NameZstd = "zstd"
	NameS2   = "s2"
	NameLZ4  = "lz4"
	NameGzip = "gzip"
)

// Default is the codec used when compression is enabled without naming one.
var Default Codec = Zstd{Level: zstd.DefaultCompression}

var codecs = map[string]Codec{
	NameZstd: Default,
	NameS2:   S2{},
	NameLZ4:  LZ4{},
	NameGzip: Gzip{Level: gzip.DefaultCompression},
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}

	return c, nil
}

// Names returns the registered codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

type Zstd struct {
	Level int
}

func (Zstd) Name() string { return NameZstd }

func (c Zstd) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriterLevel(w, c.Level), nil
}

func (Zstd) NewReader(r io.Reader) (io.ReadCloser, error) {
	return zstd.NewReader(r), nil
}

type S2 struct{}

func (S2) Name() string { return NameS2 }

func (S2) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return s2.NewWriter(w), nil
}

func (S2) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(s2.NewReader(r)), nil
}

type LZ4 struct{}

func (LZ4) Name() string { return NameLZ4 }

func (LZ4) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (LZ4) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

type Gzip struct {
	Level int
}

func (Gzip) Name() string { return NameGzip }

func (c Gzip) NewWriter(w io.Writer) (io.WriteCloser, error) {
	zw, err := gzip.NewWriterLevel(w, c.Level)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}

	return zw, nil
}

func (Gzip) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}

	return zr, nil
}

// Copy compresses everything read from src into dst and returns the number of bytes consumed from src.
func Copy(c Codec, dst io.Writer, src io.Reader) (int64, error) {
	zw, err := c.NewWriter(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(zw, src)
	if err != nil {
		_ = zw.Close()
		return n, fmt.Errorf("compress %s: %w", c.Name(), err)
	}

	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("flush %s: %w", c.Name(), err)
	}

	return n, nil
}

// CopyDecompressed decompresses everything read from src into dst and returns the number of bytes written to dst.
func CopyDecompressed(c Codec, dst io.Writer, src io.Reader) (int64, error) {
	zr, err := c.NewReader(src)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	n, err := io.Copy(dst, zr)
	if err != nil {
		return n, fmt.Errorf("decompress %s: %w", c.Name(), err)
	}

	return n, nil
}
