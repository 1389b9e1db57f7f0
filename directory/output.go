package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/mazrean/blobdir/internal/compress"
	"github.com/mazrean/blobdir/internal/local"
	myio "github.com/mazrean/blobdir/internal/pkg/io"
	"github.com/mazrean/blobdir/remote"
)

// Output buffers a new file in the cache and uploads it on Close.
// It must not be used concurrently.
type Output struct {
	d     *Directory
	name  string
	codec compress.Codec
	// tmp is the scratch entry receiving the written bytes until Close
	tmp string

	file   *os.File
	w      *myio.CountingWriter
	closed bool
}

// CreateOutput starts a new file. Nothing is uploaded until Close.
func (d *Directory) CreateOutput(_ context.Context, name string) (*Output, error) {
	o := &Output{
		d:    d,
		name: name,
	}
	if d.compressible(name) {
		o.codec = d.codec
	}

	f, tmp, err := d.cache.CreateTemp()
	if err != nil {
		return nil, &FileError{Op: "create", Name: name, Kind: ErrLocalIO, Err: err}
	}
	o.file = f
	o.tmp = tmp
	o.w = myio.NewCountingWriter(f)

	return o, nil
}

func (o *Output) Name() string {
	return o.name
}

// Length returns the number of bytes written so far.
func (o *Output) Length() int64 {
	return o.w.Count()
}

func (o *Output) Write(p []byte) (int, error) {
	if o.closed {
		return 0, &FileError{Op: "write", Name: o.name, Kind: ErrLocalIO, Err: os.ErrClosed}
	}

	n, err := o.w.Write(p)
	if err != nil {
		return n, &FileError{Op: "write", Name: o.name, Kind: ErrLocalIO, Err: err}
	}

	return n, nil
}

// Close uploads the file. See CloseContext.
func (o *Output) Close() error {
	return o.CloseContext(context.Background())
}

// CloseContext finishes the local buffer, compresses it when eligible, uploads
// it and records the logical length on the remote object. When the upload
// fails the buffered copy stays in the cache and the error is of kind ErrRemote.
func (o *Output) CloseContext(ctx context.Context) error {
	if o.closed {
		return nil
	}
	o.closed = true

	if err := o.file.Close(); err != nil {
		return &FileError{Op: "close", Name: o.name, Kind: ErrLocalIO, Err: err}
	}

	blob, plain := local.BlobEntry(o.name), local.FileEntry(o.name)
	if o.codec != nil {
		if err := o.compress(blob); err != nil {
			_ = o.d.cache.Delete(o.tmp)
			return &FileError{Op: "compress", Name: o.name, Kind: ErrLocalIO, Err: err}
		}
		if err := o.d.cache.Rename(o.tmp, plain); err != nil {
			return &FileError{Op: "close", Name: o.name, Kind: ErrLocalIO, Err: err}
		}
	} else {
		if err := o.d.cache.Rename(o.tmp, blob); err != nil {
			return &FileError{Op: "close", Name: o.name, Kind: ErrLocalIO, Err: err}
		}
		// an older decompressed copy would no longer match
		if err := o.d.cache.Delete(plain); err != nil {
			o.d.logger.Debugf("failed to delete stale cache entry %s: %v", plain, err)
		}
	}

	store, err := o.d.remoteStore(ctx)
	if err != nil {
		return &FileError{Op: "upload", Name: o.name, Kind: ErrRemote, Err: err}
	}

	metadata := map[string]string{
		MetaCachedLength: strconv.FormatInt(o.Length(), 10),
	}
	if o.codec != nil {
		metadata[MetaCompression] = o.codec.Name()
	}

	if err := o.upload(ctx, store, blob, metadata); err != nil {
		return &FileError{Op: "upload", Name: o.name, Kind: ErrRemote, Err: err}
	}

	if err := store.SetMetadata(ctx, objectName(o.name), metadata); err != nil {
		return &FileError{Op: "set length", Name: o.name, Kind: ErrRemote, Err: err}
	}

	// align the cache with the remote timestamp so the next open reuses it
	info, err := store.Stat(ctx, objectName(o.name))
	if err != nil {
		o.d.logger.Debugf("failed to stat uploaded %s: %v", o.name, err)
		return nil
	}
	entries := []string{blob}
	if o.codec != nil {
		entries = append(entries, plain)
	}
	for _, entry := range entries {
		if err := o.d.cache.SetModTime(entry, info.LastModified); err != nil {
			o.d.logger.Debugf("failed to set time of %s: %v", entry, err)
		}
	}

	o.d.logger.Debugf("uploaded %s: length=%d stored=%d codec=%s", o.name, o.Length(), info.Size, metadata[MetaCompression])

	return nil
}

// compress writes the compressed form of the buffered bytes over blob.
func (o *Output) compress(blob string) error {
	src, err := o.d.cache.Open(o.tmp)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, tmp, err := o.d.cache.CreateTemp()
	if err != nil {
		return err
	}

	_, err = compress.Copy(o.codec, dst, src)
	if closeErr := dst.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", tmp, closeErr)
	}
	if err == nil {
		err = o.d.cache.Rename(tmp, blob)
	}
	if err != nil {
		_ = o.d.cache.Delete(tmp)
		return err
	}

	return nil
}

func (o *Output) upload(ctx context.Context, store remote.Store, blob string, metadata map[string]string) error {
	f, err := o.d.cache.Open(blob)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", blob, err)
	}

	transferGauge.Stopwatch(func() {
		err = store.Put(ctx, objectName(o.name), f, stat.Size(), metadata)
	}, "upload")

	return err
}

// Abort discards the written bytes without uploading anything.
func (o *Output) Abort() error {
	if o.closed {
		return nil
	}
	o.closed = true

	errs := []error{o.file.Close()}
	if err := o.d.cache.Delete(o.tmp); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return &FileError{Op: "abort", Name: o.name, Kind: ErrLocalIO, Err: err}
	}

	return nil
}
