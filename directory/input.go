package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mazrean/blobdir/internal/compress"
	"github.com/mazrean/blobdir/internal/local"
	"github.com/mazrean/blobdir/remote"
)

var (
	_ io.ReadSeekCloser = &Input{}
	_ io.ReaderAt       = &Input{}
)

// Input serves an existing file from its cached copy.
// ReadAt may be called concurrently; Read and Seek share a cursor and may not.
type Input struct {
	name   string
	file   *os.File
	length int64
	pos    int64
}

// OpenInput opens name for reading, downloading it into the cache unless a
// consistent copy is already there. Any failure to fetch the remote metadata
// is reported with kind ErrNotFound.
func (d *Directory) OpenInput(ctx context.Context, name string) (*Input, error) {
	store, err := d.remoteStore(ctx)
	if err != nil {
		return nil, &FileError{Op: "open", Name: name, Kind: ErrNotFound, Err: err}
	}

	info, err := store.Stat(ctx, objectName(name))
	if err != nil {
		return nil, &FileError{Op: "open", Name: name, Kind: ErrNotFound, Err: err}
	}
	fi := newFileInfo(name, info)

	var codec compress.Codec
	if fi.Codec != "" {
		codec, err = compress.Lookup(fi.Codec)
		if err != nil {
			return nil, &FileError{Op: "open", Name: name, Kind: ErrRemote, Err: err}
		}
	}

	// opens of the same version share one download
	_, err, _ = d.downloads.Do(downloadKey(fi), func() (any, error) {
		return nil, d.syncCache(ctx, store, fi, codec)
	})
	if err != nil {
		var fileErr *FileError
		if errors.As(err, &fileErr) {
			return nil, fileErr
		}
		return nil, &FileError{Op: "open", Name: name, Kind: ErrLocalIO, Err: err}
	}

	entry := local.BlobEntry(name)
	if codec != nil {
		entry = local.FileEntry(name)
	}

	f, err := d.cache.Open(entry)
	if err != nil {
		return nil, &FileError{Op: "open", Name: name, Kind: ErrLocalIO, Err: err}
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &FileError{Op: "open", Name: name, Kind: ErrLocalIO, Err: err}
	}
	if stat.Size() != fi.Length {
		d.logger.Warnf("cached %s has %d bytes, remote reports %d", name, stat.Size(), fi.Length)
	}

	return &Input{
		name:   name,
		file:   f,
		length: stat.Size(),
	}, nil
}

// syncCache makes the cache entries of fi consistent with the remote object.
func (d *Directory) syncCache(ctx context.Context, store remote.Store, fi *FileInfo, codec compress.Codec) error {
	blob := local.BlobEntry(fi.Name)

	downloaded := false
	if !d.cacheValid(blob, fi.StoredSize, fi) {
		if err := d.download(ctx, store, fi, blob); err != nil {
			return err
		}
		downloaded = true
	}

	if codec == nil {
		return nil
	}

	if !downloaded && d.cacheValid(local.FileEntry(fi.Name), fi.Length, fi) {
		return nil
	}

	if err := d.decompress(codec, fi, blob); err != nil {
		return &FileError{Op: "decompress", Name: fi.Name, Kind: ErrLocalIO, Err: err}
	}

	return nil
}

// cacheValid reports whether entry has the expected size and is not older than the remote object.
func (d *Directory) cacheValid(entry string, size int64, fi *FileInfo) bool {
	stat, err := d.cache.Stat(entry)
	if err != nil {
		return false
	}

	return stat.Size() == size && !stat.ModTime().Before(fi.ModTime)
}

// download fetches the remote object into a scratch entry and renames it over
// blob, so inputs already reading the old entry are not disturbed.
func (d *Directory) download(ctx context.Context, store remote.Store, fi *FileInfo, blob string) error {
	f, tmp, err := d.cache.CreateTemp()
	if err != nil {
		return &FileError{Op: "download", Name: fi.Name, Kind: ErrLocalIO, Err: err}
	}

	transferGauge.Stopwatch(func() {
		err = store.Get(ctx, objectName(fi.Name), f)
	}, "download")
	closeErr := f.Close()
	if err != nil {
		_ = d.cache.Delete(tmp)
		kind := ErrRemote
		if errors.Is(err, remote.ErrNotFound) {
			kind = ErrNotFound
		}
		return &FileError{Op: "download", Name: fi.Name, Kind: kind, Err: err}
	}
	if closeErr != nil {
		_ = d.cache.Delete(tmp)
		return &FileError{Op: "download", Name: fi.Name, Kind: ErrLocalIO, Err: closeErr}
	}

	if err := d.commit(tmp, blob, fi); err != nil {
		return &FileError{Op: "download", Name: fi.Name, Kind: ErrLocalIO, Err: err}
	}

	d.logger.Debugf("downloaded %s: stored=%d", fi.Name, fi.StoredSize)

	return nil
}

func (d *Directory) decompress(codec compress.Codec, fi *FileInfo, blob string) error {
	src, err := d.cache.Open(blob)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, tmp, err := d.cache.CreateTemp()
	if err != nil {
		return err
	}

	_, err = compress.CopyDecompressed(codec, dst, src)
	if closeErr := dst.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", tmp, closeErr)
	}
	if err != nil {
		_ = d.cache.Delete(tmp)
		return err
	}

	return d.commit(tmp, local.FileEntry(fi.Name), fi)
}

// commit stamps tmp with the remote modification time and moves it over entry.
func (d *Directory) commit(tmp, entry string, fi *FileInfo) error {
	if err := d.cache.SetModTime(tmp, fi.ModTime); err != nil {
		_ = d.cache.Delete(tmp)
		return err
	}
	if err := d.cache.Rename(tmp, entry); err != nil {
		_ = d.cache.Delete(tmp)
		return err
	}

	return nil
}

// downloadKey identifies one version of a remote object.
func downloadKey(fi *FileInfo) string {
	return fmt.Sprintf("%s\x00%d\x00%d", fi.Name, fi.ModTime.UnixNano(), fi.StoredSize)
}

func (in *Input) Name() string {
	return in.name
}

// Length returns the logical length of the file.
func (in *Input) Length() int64 {
	return in.length
}

// Read reads from the current position and returns io.EOF at the end of the file.
func (in *Input) Read(p []byte) (int, error) {
	if in.pos >= in.length {
		return 0, io.EOF
	}
	if int64(len(p)) > in.length-in.pos {
		p = p[:in.length-in.pos]
	}

	n, err := in.file.ReadAt(p, in.pos)
	in.pos += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		return n, &ReadError{Name: in.name, Offset: in.pos, Err: err}
	}

	return n, nil
}

// ReadAt reads len(p) bytes at off. Reading past the end of the file fails with a
// *ReadError wrapping io.EOF.
func (in *Input) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &ReadError{Name: in.name, Offset: off, Err: errors.New("negative offset")}
	}
	if off+int64(len(p)) > in.length {
		n := 0
		if off < in.length {
			var err error
			n, err = in.file.ReadAt(p[:in.length-off], off)
			if err != nil && !errors.Is(err, io.EOF) {
				return n, &ReadError{Name: in.name, Offset: off + int64(n), Err: err}
			}
		}
		return n, &ReadError{Name: in.name, Offset: off + int64(n), Err: io.EOF}
	}

	n, err := in.file.ReadAt(p, off)
	if err != nil {
		return n, &ReadError{Name: in.name, Offset: off + int64(n), Err: err}
	}

	return n, nil
}

func (in *Input) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = in.pos + offset
	case io.SeekEnd:
		pos = in.length + offset
	default:
		return 0, fmt.Errorf("seek %s: invalid whence %d", in.name, whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("seek %s: negative position %d", in.name, pos)
	}
	in.pos = pos

	return pos, nil
}

func (in *Input) Close() error {
	if err := in.file.Close(); err != nil {
		return &FileError{Op: "close", Name: in.name, Kind: ErrLocalIO, Err: err}
	}

	return nil
}
