package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"
)

var _ Store = &MemoryStore{}

// Memory is an in-process object service holding any number of containers.
// Stores opened from the same Memory share their objects, which makes it a
// stand-in for a real service when several directories or locks must see
// each other's writes.
type Memory struct {
	containersLocker sync.RWMutex
	containers       map[string]*MemoryStore
}

func NewMemory() *Memory {
	return &Memory{
		containers: map[string]*MemoryStore{},
	}
}

// Opener returns an Opener handing out stores of this service.
func (m *Memory) Opener() Opener {
	return func(_ context.Context, container string) (Store, error) {
		return m.Store(container), nil
	}
}

// Store returns the store for container, allocating it on first use.
// The container only accepts objects after CreateContainer.
func (m *Memory) Store(container string) *MemoryStore {
	m.containersLocker.Lock()
	defer m.containersLocker.Unlock()

	s, ok := m.containers[container]
	if !ok {
		s = &MemoryStore{name: container}
		m.containers[container] = s
	}

	return s
}

type memoryObject struct {
	data         []byte
	lastModified time.Time
	version      uint64
	metadata     map[string]string
}

func (o *memoryObject) etag() string {
	return strconv.FormatUint(o.version, 10)
}

type MemoryStore struct {
	name string

	objectsLocker sync.RWMutex
	objects       map[string]*memoryObject
	// version is bumped on every write while objectsLocker is held
	version uint64
}

func (s *MemoryStore) CreateContainer(context.Context) error {
	s.objectsLocker.Lock()
	defer s.objectsLocker.Unlock()

	if s.objects == nil {
		s.objects = map[string]*memoryObject{}
	}

	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.objectsLocker.RLock()
	defer s.objectsLocker.RUnlock()

	if s.objects == nil {
		return nil, fmt.Errorf("list container %q: %w", s.name, ErrNotFound)
	}

	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}

	return names, nil
}

func (s *MemoryStore) Stat(_ context.Context, name string) (*ObjectInfo, error) {
	s.objectsLocker.RLock()
	defer s.objectsLocker.RUnlock()

	obj, ok := s.objects[name]
	if !ok {
		return nil, fmt.Errorf("stat %q: %w", name, ErrNotFound)
	}

	return &ObjectInfo{
		Name:         name,
		Size:         int64(len(obj.data)),
		LastModified: obj.lastModified,
		ETag:         obj.etag(),
		Metadata:     maps.Clone(obj.metadata),
	}, nil
}

func (s *MemoryStore) SetMetadata(_ context.Context, name string, metadata map[string]string) error {
	s.objectsLocker.Lock()
	defer s.objectsLocker.Unlock()

	obj, ok := s.objects[name]
	if !ok {
		return fmt.Errorf("set metadata %q: %w", name, ErrNotFound)
	}

	obj.metadata = maps.Clone(metadata)
	obj.lastModified = time.Now()
	s.version++
	obj.version = s.version

	return nil
}

func (s *MemoryStore) Get(_ context.Context, name string, w io.Writer) error {
	var data []byte
	func() {
		s.objectsLocker.RLock()
		defer s.objectsLocker.RUnlock()

		if obj, ok := s.objects[name]; ok {
			data = obj.data
		}
	}()
	if data == nil {
		return fmt.Errorf("get %q: %w", name, ErrNotFound)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write object: %w", err)
	}

	return nil
}

func (s *MemoryStore) Put(_ context.Context, name string, r io.ReadSeeker, _ int64, metadata map[string]string) error {
	obj, err := s.newObject(r, metadata)
	if err != nil {
		return err
	}

	s.objectsLocker.Lock()
	defer s.objectsLocker.Unlock()

	if s.objects == nil {
		return fmt.Errorf("put container %q: %w", s.name, ErrNotFound)
	}
	s.version++
	obj.version = s.version
	s.objects[name] = obj

	return nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, name string, r io.ReadSeeker, _ int64, metadata map[string]string) error {
	obj, err := s.newObject(r, metadata)
	if err != nil {
		return err
	}

	s.objectsLocker.Lock()
	defer s.objectsLocker.Unlock()

	if s.objects == nil {
		return fmt.Errorf("put container %q: %w", s.name, ErrNotFound)
	}
	if _, ok := s.objects[name]; ok {
		return fmt.Errorf("put %q: %w", name, ErrExists)
	}
	s.version++
	obj.version = s.version
	s.objects[name] = obj

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.objectsLocker.Lock()
	defer s.objectsLocker.Unlock()

	delete(s.objects, name)

	return nil
}

func (s *MemoryStore) DeleteIfMatch(_ context.Context, name string, etag string) error {
	s.objectsLocker.Lock()
	defer s.objectsLocker.Unlock()

	obj, ok := s.objects[name]
	if !ok {
		return fmt.Errorf("delete %q: %w", name, ErrNotFound)
	}
	if obj.etag() != etag {
		return fmt.Errorf("delete %q: %w", name, ErrModified)
	}
	delete(s.objects, name)

	return nil
}

func (s *MemoryStore) newObject(r io.ReadSeeker, metadata map[string]string) (*memoryObject, error) {
	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &memoryObject{
		// never nil, so Get can tell an empty object from a missing one
		data:         append([]byte{}, buf.Bytes()...),
		lastModified: time.Now(),
		metadata:     maps.Clone(metadata),
	}, nil
}
