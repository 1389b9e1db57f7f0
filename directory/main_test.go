package directory

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/mazrean/blobdir/log"
	"github.com/mazrean/blobdir/remote"
)

// instrumentedStore counts calls into a store and injects failures.
type instrumentedStore struct {
	remote.Store

	creates atomic.Int32
	gets    atomic.Int32

	putErr         error
	statErr        error
	setMetadataErr error

	// afterGet, when set, runs after an object is read and before it is handed to the caller
	afterGet func(name string)
}

func (s *instrumentedStore) CreateContainer(ctx context.Context) error {
	s.creates.Add(1)
	return s.Store.CreateContainer(ctx)
}

func (s *instrumentedStore) Get(ctx context.Context, name string, w io.Writer) error {
	s.gets.Add(1)
	if s.afterGet == nil {
		return s.Store.Get(ctx, name, w)
	}

	buf := &bytes.Buffer{}
	if err := s.Store.Get(ctx, name, buf); err != nil {
		return err
	}
	s.afterGet(name)

	_, err := w.Write(buf.Bytes())
	return err
}

func (s *instrumentedStore) SetMetadata(ctx context.Context, name string, metadata map[string]string) error {
	if s.setMetadataErr != nil {
		return s.setMetadataErr
	}
	return s.Store.SetMetadata(ctx, name, metadata)
}

func (s *instrumentedStore) Put(ctx context.Context, name string, r io.ReadSeeker, size int64, metadata map[string]string) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.Store.Put(ctx, name, r, size, metadata)
}

func (s *instrumentedStore) Stat(ctx context.Context, name string) (*remote.ObjectInfo, error) {
	if s.statErr != nil {
		return nil, s.statErr
	}
	return s.Store.Stat(ctx, name)
}

type fixture struct {
	memory *remote.Memory
	store  *instrumentedStore
	opens  atomic.Int32
}

func newFixture() *fixture {
	f := &fixture{
		memory: remote.NewMemory(),
	}
	f.store = &instrumentedStore{Store: f.memory.Store("catalog")}

	return f
}

func (f *fixture) opener(_ context.Context, container string) (remote.Store, error) {
	f.opens.Add(1)
	if container == "catalog" {
		return f.store, nil
	}
	return f.memory.Store(container), nil
}

func (f *fixture) newDirectory(t *testing.T, opts ...Option) *Directory {
	t.Helper()

	opts = append([]Option{WithCacheDir(t.TempDir())}, opts...)
	d, err := NewWithOpener(context.Background(), log.DefaultLogger, f.opener, "Catalog", opts...)
	if err != nil {
		t.Fatalf("NewWithOpener: %v", err)
	}

	return d
}

func writeFile(t *testing.T, d *Directory, name string, data []byte) {
	t.Helper()

	out, err := d.CreateOutput(context.Background(), name)
	if err != nil {
		t.Fatalf("CreateOutput(%s): %v", name, err)
	}
	if _, err := out.Write(data); err != nil {
		t.Fatalf("Write(%s): %v", name, err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close(%s): %v", name, err)
	}
}

func readFile(t *testing.T, d *Directory, name string) []byte {
	t.Helper()

	in, err := d.OpenInput(context.Background(), name)
	if err != nil {
		t.Fatalf("OpenInput(%s): %v", name, err)
	}
	defer in.Close()

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, in); err != nil {
		t.Fatalf("read %s: %v", name, err)
	}

	return append([]byte{}, buf.Bytes()...)
}

func repetitive(n int) []byte {
	return bytes.Repeat([]byte("lucene term dictionary "), n/23+1)[:n]
}
