// Package directory presents a catalog in a remote object store as a flat file directory.
//
// Content is read and written through a local disk cache: outputs are buffered
// on disk and uploaded on Close, inputs are downloaded once and then served
// from disk. Files of configured kinds are compressed on the wire while their
// reported length stays the uncompressed one.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mazrean/blobdir/internal/compress"
	"github.com/mazrean/blobdir/internal/local"
	"github.com/mazrean/blobdir/internal/metrics"
	"github.com/mazrean/blobdir/internal/pkg/locker"
	"github.com/mazrean/blobdir/lock"
	"github.com/mazrean/blobdir/log"
	"github.com/mazrean/blobdir/remote"
	"golang.org/x/sync/singleflight"
)

const (
	// DataPrefix is prepended to file names to form their object names.
	DataPrefix = "o-"

	MetaCachedLength = "CachedLength"
	MetaCompression  = "Compression"
)

var transferGauge = metrics.NewGauge("directory_transfer")

func objectName(name string) string {
	return DataPrefix + name
}

// FileInfo describes a file as stored in the remote catalog.
type FileInfo struct {
	Name string
	// Length is the logical, uncompressed length.
	Length int64
	// StoredSize is the size of the remote object.
	StoredSize int64
	ModTime    time.Time
	// Codec names the compression of the stored bytes, empty when stored verbatim.
	Codec string
}

func newFileInfo(name string, info *remote.ObjectInfo) *FileInfo {
	fi := &FileInfo{
		Name:       name,
		Length:     info.Size,
		StoredSize: info.Size,
		ModTime:    info.LastModified,
	}

	if v, ok := info.Meta(MetaCachedLength); ok {
		if length, err := strconv.ParseInt(v, 10, 64); err == nil && length >= 0 {
			fi.Length = length
		}
	}
	if v, ok := info.Meta(MetaCompression); ok {
		fi.Codec = v
	}

	return fi
}

type Directory struct {
	logger  log.Logger
	catalog string
	opener  remote.Opener
	cache   *local.Disk
	codec   compress.Codec
	opts    options

	storeLocker sync.Mutex
	store       remote.Store
	created     *locker.WaitSuccess

	locksLocker sync.Mutex
	locks       map[string]*lock.Lock

	downloads singleflight.Group
}

// New opens the catalog in the store described by creds, creating its container if needed.
func New(ctx context.Context, logger log.Logger, creds remote.Credentials, catalog string, opts ...Option) (*Directory, error) {
	opener, err := remote.NewOpener(logger, creds)
	if err != nil {
		return nil, fmt.Errorf("create opener: %w", err)
	}

	return NewWithOpener(ctx, logger, opener, catalog, opts...)
}

// NewWithOpener is New with an explicit way of opening the catalog's store.
func NewWithOpener(ctx context.Context, logger log.Logger, opener remote.Opener, catalog string, opts ...Option) (*Directory, error) {
	catalog = strings.ToLower(catalog)
	if catalog == "" {
		return nil, errors.New("catalog name is empty")
	}

	o := newOptions(opts)

	var codec compress.Codec
	if o.codec != "" {
		var err error
		codec, err = compress.Lookup(o.codec)
		if err != nil {
			return nil, fmt.Errorf("compression: %w", err)
		}
	}

	cacheDir := o.cacheDir
	if cacheDir == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("cache directory is not specified and user cache directory is unknown: %w", err)
		}
		cacheDir = filepath.Join(userCacheDir, "blobdir", catalog)
	}

	cache, err := local.NewDisk(logger, cacheDir)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	d := &Directory{
		logger:  logger,
		catalog: catalog,
		opener:  opener,
		cache:   cache,
		codec:   codec,
		opts:    o,
		created: locker.NewWaitSuccess(),
		locks:   map[string]*lock.Lock{},
	}

	if err := d.CreateContainer(ctx); err != nil {
		return nil, err
	}

	logger.Infof("directory opened: catalog=%s cache=%s", catalog, cacheDir)

	return d, nil
}

func (d *Directory) Catalog() string {
	return d.catalog
}

func (d *Directory) CacheDir() string {
	return d.cache.Dir()
}

// remoteStore returns the store handle, reopening it and ensuring the container exists after Dispose.
func (d *Directory) remoteStore(ctx context.Context) (remote.Store, error) {
	var (
		store   remote.Store
		created *locker.WaitSuccess
		err     error
	)
	func() {
		d.storeLocker.Lock()
		defer d.storeLocker.Unlock()

		if d.store == nil {
			d.store, err = d.opener(ctx, d.catalog)
			if err != nil {
				d.store = nil
				return
			}
		}
		store, created = d.store, d.created
	}()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var createErr error
	created.Run(func() bool {
		createErr = store.CreateContainer(ctx)
		return createErr == nil
	}, func() {})
	if createErr != nil {
		return nil, fmt.Errorf("create container: %w", createErr)
	}

	return store, nil
}

// CreateContainer ensures the catalog's container exists.
func (d *Directory) CreateContainer(ctx context.Context) error {
	if _, err := d.remoteStore(ctx); err != nil {
		return &FileError{Op: "create container", Name: d.catalog, Kind: ErrRemote, Err: err}
	}

	return nil
}

// Dispose drops the remote handle. The next remote access opens a new one; the cache is kept.
func (d *Directory) Dispose() error {
	d.storeLocker.Lock()
	defer d.storeLocker.Unlock()

	d.store = nil
	d.created = locker.NewWaitSuccess()

	d.logger.Debugf("directory disposed: catalog=%s", d.catalog)

	return nil
}

// ListAll returns the names of all files in the catalog in store order.
func (d *Directory) ListAll(ctx context.Context) ([]string, error) {
	store, err := d.remoteStore(ctx)
	if err != nil {
		return nil, &FileError{Op: "list", Kind: ErrRemote, Err: err}
	}

	objects, err := store.List(ctx, DataPrefix)
	if err != nil {
		return nil, &FileError{Op: "list", Kind: ErrRemote, Err: err}
	}

	names := make([]string, 0, len(objects))
	for _, object := range objects {
		name, ok := strings.CutPrefix(object, DataPrefix)
		if !ok {
			continue
		}
		names = append(names, name)
	}

	return names, nil
}

// Stat returns the remote state of name. Missing files yield ErrNotFound, other failures ErrRemote.
func (d *Directory) Stat(ctx context.Context, name string) (*FileInfo, error) {
	store, err := d.remoteStore(ctx)
	if err != nil {
		return nil, &FileError{Op: "stat", Name: name, Kind: ErrRemote, Err: err}
	}

	info, err := store.Stat(ctx, objectName(name))
	if err != nil {
		kind := ErrRemote
		if errors.Is(err, remote.ErrNotFound) {
			kind = ErrNotFound
		}
		return nil, &FileError{Op: "stat", Name: name, Kind: kind, Err: err}
	}

	return newFileInfo(name, info), nil
}

// FileExists reports whether name could be found. Remote failures also yield false.
func (d *Directory) FileExists(ctx context.Context, name string) bool {
	_, err := d.Stat(ctx, name)
	if err != nil {
		d.logger.Debugf("file exists: %v", err)
		return false
	}

	return true
}

// FileModified returns the remote modification time of name in Unix nanoseconds, or 0 on failure.
func (d *Directory) FileModified(ctx context.Context, name string) int64 {
	fi, err := d.Stat(ctx, name)
	if err != nil {
		d.logger.Debugf("file modified: %v", err)
		return 0
	}

	return fi.ModTime.UnixNano()
}

// FileLength returns the logical length of name, or 0 on failure.
func (d *Directory) FileLength(ctx context.Context, name string) int64 {
	fi, err := d.Stat(ctx, name)
	if err != nil {
		d.logger.Debugf("file length: %v", err)
		return 0
	}

	return fi.Length
}

// TouchFile updates the modification time of the cached copy of name only.
func (d *Directory) TouchFile(name string) error {
	if err := d.cache.Touch(local.BlobEntry(name)); err != nil {
		return &FileError{Op: "touch", Name: name, Kind: ErrLocalIO, Err: err}
	}

	return nil
}

// DeleteFile removes name from the catalog and, best effort, from the cache.
// Deleting a missing file is not an error.
func (d *Directory) DeleteFile(ctx context.Context, name string) error {
	store, err := d.remoteStore(ctx)
	if err != nil {
		return &FileError{Op: "delete", Name: name, Kind: ErrRemote, Err: err}
	}

	if err := store.Delete(ctx, objectName(name)); err != nil {
		return &FileError{Op: "delete", Name: name, Kind: ErrRemote, Err: err}
	}

	for _, entry := range []string{local.BlobEntry(name), local.FileEntry(name)} {
		if err := d.cache.Delete(entry); err != nil {
			d.logger.Debugf("failed to delete cache entry %s: %v", entry, err)
		}
	}

	return nil
}

// ClearCache removes every local cache entry. Remote objects are untouched.
func (d *Directory) ClearCache(ctx context.Context) error {
	if err := d.cache.Clear(ctx); err != nil {
		return &FileError{Op: "clear cache", Kind: ErrLocalIO, Err: err}
	}

	return nil
}

// MakeLock returns the lock registered for name, creating it on first use.
func (d *Directory) MakeLock(name string) *lock.Lock {
	d.locksLocker.Lock()
	defer d.locksLocker.Unlock()

	l, ok := d.locks[name]
	if !ok {
		opts := append(append([]lock.Option{}, d.opts.lockOpts...), lock.WithStateHook(d.trackLock))
		l = lock.New(d.logger, name, d.remoteStore, opts...)
		d.locks[name] = l
	}

	return l
}

// ClearLock breaks the registered lock for name, if any, and drops its cache entry.
func (d *Directory) ClearLock(ctx context.Context, name string) error {
	var (
		l  *lock.Lock
		ok bool
	)
	func() {
		d.locksLocker.Lock()
		defer d.locksLocker.Unlock()

		l, ok = d.locks[name]
	}()

	if ok {
		if err := l.BreakLock(ctx); err != nil {
			return &FileError{Op: "clear lock", Name: name, Kind: ErrRemote, Err: err}
		}
	}

	if err := d.cache.ClearLock(name); err != nil {
		return &FileError{Op: "clear lock", Name: name, Kind: ErrLocalIO, Err: err}
	}

	return nil
}

// trackLock mirrors the locks held by this directory as cache entries.
func (d *Directory) trackLock(name string, state lock.State) {
	var err error
	if state == lock.Held {
		err = d.cache.Touch(local.LockEntry(name))
	} else {
		err = d.cache.ClearLock(name)
	}
	if err != nil {
		d.logger.Debugf("failed to record lock %s as %s: %v", name, state, err)
	}
}

func (d *Directory) compressible(name string) bool {
	return d.codec != nil && d.opts.policy != nil && d.opts.policy(name)
}
