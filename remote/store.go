// Package remote provides the object stores a directory keeps its files in.
//
// A Store is bound to one container (an S3 bucket or an Azure Blob container)
// and exposes the flat object operations the directory needs, including the
// create-if-absent write the distributed lock relies on.
package remote

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrExists is returned by PutIfAbsent when the object already exists.
	ErrExists = errors.New("object already exists")
	// ErrModified is returned by DeleteIfMatch when the object changed since it was observed.
	ErrModified = errors.New("object modified")
)

type Store interface {
	// CreateContainer makes sure the container backing the store exists.
	// It is idempotent.
	CreateContainer(ctx context.Context) error
	// List returns the names of all objects whose name starts with prefix.
	// The order is store-defined.
	List(ctx context.Context, prefix string) ([]string, error)
	Stat(ctx context.Context, name string) (*ObjectInfo, error)
	// SetMetadata replaces the user metadata of an existing object.
	SetMetadata(ctx context.Context, name string, metadata map[string]string) error
	Get(ctx context.Context, name string, w io.Writer) error
	Put(ctx context.Context, name string, r io.ReadSeeker, size int64, metadata map[string]string) error
	// PutIfAbsent writes the object only if no object with the same name exists.
	// It returns ErrExists otherwise.
	PutIfAbsent(ctx context.Context, name string, r io.ReadSeeker, size int64, metadata map[string]string) error
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
	// DeleteIfMatch removes the object only while its ETag still equals etag.
	// It returns ErrModified when the object was replaced and ErrNotFound when
	// it is gone.
	DeleteIfMatch(ctx context.Context, name string, etag string) error
}

// Opener returns a Store bound to the named container without creating it.
type Opener func(ctx context.Context, container string) (Store, error)

type ObjectInfo struct {
	Name string
	// Size is the number of bytes stored, after any compression.
	Size         int64
	LastModified time.Time
	// ETag identifies the version of the object; it changes on every write.
	ETag     string
	Metadata map[string]string
}

// Meta looks up a metadata value ignoring key case, since stores normalize
// header-carried keys differently.
func (o *ObjectInfo) Meta(key string) (string, bool) {
	if v, ok := o.Metadata[key]; ok {
		return v, true
	}

	for k, v := range o.Metadata {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}

	return "", false
}
