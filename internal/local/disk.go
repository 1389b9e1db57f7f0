package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mazrean/blobdir/log"
	"github.com/sourcegraph/conc/pool"
)

// Disk is a flat directory of cache entries.
// Entries are single path elements as returned by FileEntry, BlobEntry and LockEntry.
type Disk struct {
	logger   log.Logger
	rootPath string
}

func NewDisk(logger log.Logger, dir string) (*Disk, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}

	logger.Debugf("disk cache initialized: dir=%s", dir)

	return &Disk{
		logger:   logger,
		rootPath: dir,
	}, nil
}

// Dir returns the root directory of the cache.
func (d *Disk) Dir() string {
	return d.rootPath
}

// Path returns the file path backing entry.
func (d *Disk) Path(entry string) string {
	return filepath.Join(d.rootPath, entry)
}

// Stat returns the file info of entry. A missing entry yields an error matching fs.ErrNotExist.
func (d *Disk) Stat(entry string) (fs.FileInfo, error) {
	info, err := os.Stat(d.Path(entry))
	if err != nil {
		return nil, fmt.Errorf("stat cache entry: %w", err)
	}

	return info, nil
}

// CreateTemp creates a scratch entry for content that is not complete yet.
// It is moved into place with Rename.
func (d *Disk) CreateTemp() (*os.File, string, error) {
	f, err := os.CreateTemp(d.rootPath, "*"+TempSuffix)
	if err != nil {
		return nil, "", fmt.Errorf("create temporary cache entry: %w", err)
	}

	return f, filepath.Base(f.Name()), nil
}

// Rename replaces dst with src atomically. Files already open on dst keep
// reading the replaced content.
func (d *Disk) Rename(src, dst string) error {
	if err := os.Rename(d.Path(src), d.Path(dst)); err != nil {
		return fmt.Errorf("rename cache entry: %w", err)
	}
	d.logger.Debugf("cache entry replaced: path=%s", d.Path(dst))

	return nil
}

func (d *Disk) Open(entry string) (*os.File, error) {
	f, err := os.Open(d.Path(entry))
	if err != nil {
		return nil, fmt.Errorf("open cache entry: %w", err)
	}

	return f, nil
}

// Delete removes entry. Removing a missing entry is not an error.
func (d *Disk) Delete(entry string) error {
	err := os.Remove(d.Path(entry))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache entry: %w", err)
	}

	return nil
}

// Touch sets the modification time of entry to now, creating it empty when absent.
func (d *Disk) Touch(entry string) error {
	path := d.Path(entry)

	now := time.Now()
	err := os.Chtimes(path, now, now)
	if errors.Is(err, fs.ErrNotExist) {
		var f *os.File
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			err = f.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("touch cache entry: %w", err)
	}

	return nil
}

// SetModTime sets the modification time of entry.
func (d *Disk) SetModTime(entry string, t time.Time) error {
	if err := os.Chtimes(d.Path(entry), t, t); err != nil {
		return fmt.Errorf("set cache entry time: %w", err)
	}

	return nil
}

// List returns the on-disk names of all cache entries.
func (d *Disk) List() ([]string, error) {
	dirEntries, err := os.ReadDir(d.rootPath)
	if err != nil {
		return nil, fmt.Errorf("read cache directory: %w", err)
	}

	entries := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		entries = append(entries, e.Name())
	}

	return entries, nil
}

// Clear removes every cache entry.
func (d *Disk) Clear(ctx context.Context) error {
	entries, err := d.List()
	if err != nil {
		return err
	}

	p := pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0)).WithContext(ctx).WithCancelOnError()
	for _, entry := range entries {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := os.Remove(filepath.Join(d.rootPath, entry)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", entry, err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	d.logger.Infof("cache cleared: dir=%s entries=%d", d.rootPath, len(entries))

	return nil
}

// ClearLock drops the lock entry recorded for name.
func (d *Disk) ClearLock(name string) error {
	return d.Delete(LockEntry(name))
}
