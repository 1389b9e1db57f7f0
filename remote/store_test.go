package remote

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// testStoreConformance exercises the behaviour every Store implementation must share.
func testStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	ctx := context.Background()

	t.Run("create container is idempotent", func(t *testing.T) {
		s := newStore(t)

		if err := s.CreateContainer(ctx); err != nil {
			t.Fatalf("second CreateContainer: %v", err)
		}
	})

	t.Run("put and get", func(t *testing.T) {
		tests := []struct {
			name string
			key  string
			data []byte
			meta map[string]string
		}{
			{
				name: "normal data",
				key:  "o-segments.gen",
				data: []byte("test put method"),
			},
			{
				name: "empty data",
				key:  "o-empty",
				data: []byte{},
			},
			{
				name: "with metadata",
				key:  "o-terms.tis",
				data: bytes.Repeat([]byte("a"), 1024*1024),
				meta: map[string]string{"CachedLength": "1048576"},
			},
		}

		s := newStore(t)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := s.Put(ctx, tt.key, bytes.NewReader(tt.data), int64(len(tt.data)), tt.meta); err != nil {
					t.Fatalf("Put: %v", err)
				}

				buf := &bytes.Buffer{}
				if err := s.Get(ctx, tt.key, buf); err != nil {
					t.Fatalf("Get: %v", err)
				}
				if diff := cmp.Diff(tt.data, buf.Bytes(), cmp.Comparer(bytes.Equal)); diff != "" {
					t.Errorf("data mismatch (-want +got):\n%s", diff)
				}

				info, err := s.Stat(ctx, tt.key)
				if err != nil {
					t.Fatalf("Stat: %v", err)
				}
				if diff := cmp.Diff(int64(len(tt.data)), info.Size); diff != "" {
					t.Errorf("size mismatch (-want +got):\n%s", diff)
				}
				for k, v := range tt.meta {
					got, ok := info.Meta(k)
					if !ok {
						t.Errorf("metadata %q missing in %v", k, info.Metadata)
						continue
					}
					if diff := cmp.Diff(v, got); diff != "" {
						t.Errorf("metadata %q mismatch (-want +got):\n%s", k, diff)
					}
				}
			})
		}
	})

	t.Run("set metadata", func(t *testing.T) {
		s := newStore(t)

		data := []byte("hello world")
		if err := s.Put(ctx, "o-file", bytes.NewReader(data), int64(len(data)), nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.SetMetadata(ctx, "o-file", map[string]string{"CachedLength": "42"}); err != nil {
			t.Fatalf("SetMetadata: %v", err)
		}

		info, err := s.Stat(ctx, "o-file")
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		got, _ := info.Meta("cachedlength")
		if diff := cmp.Diff("42", got); diff != "" {
			t.Errorf("metadata mismatch (-want +got):\n%s", diff)
		}

		if err := s.SetMetadata(ctx, "o-missing", map[string]string{"CachedLength": "1"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetMetadata on missing object: got %v, want ErrNotFound", err)
		}
	})

	t.Run("missing object", func(t *testing.T) {
		s := newStore(t)

		if _, err := s.Stat(ctx, "o-missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Stat: got %v, want ErrNotFound", err)
		}
		if err := s.Get(ctx, "o-missing", &bytes.Buffer{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("put if absent", func(t *testing.T) {
		s := newStore(t)

		first := []byte("first")
		if err := s.PutIfAbsent(ctx, "l-write.lock", bytes.NewReader(first), int64(len(first)), nil); err != nil {
			t.Fatalf("first PutIfAbsent: %v", err)
		}

		second := []byte("second")
		err := s.PutIfAbsent(ctx, "l-write.lock", bytes.NewReader(second), int64(len(second)), nil)
		if !errors.Is(err, ErrExists) {
			t.Fatalf("second PutIfAbsent: got %v, want ErrExists", err)
		}

		buf := &bytes.Buffer{}
		if err := s.Get(ctx, "l-write.lock", buf); err != nil {
			t.Fatalf("Get: %v", err)
		}
		if diff := cmp.Diff("first", buf.String()); diff != "" {
			t.Errorf("marker overwritten (-want +got):\n%s", diff)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)

		data := []byte("to be deleted")
		if err := s.Put(ctx, "o-doomed", bytes.NewReader(data), int64(len(data)), nil); err != nil {
			t.Fatalf("Put: %v", err)
		}

		for i := range 2 {
			if err := s.Delete(ctx, "o-doomed"); err != nil {
				t.Fatalf("Delete #%d: %v", i+1, err)
			}
		}

		if _, err := s.Stat(ctx, "o-doomed"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Stat after delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("delete if match", func(t *testing.T) {
		s := newStore(t)

		first := []byte(`{"holder":"a"}`)
		if err := s.Put(ctx, "l-write.lock", bytes.NewReader(first), int64(len(first)), nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
		old, err := s.Stat(ctx, "l-write.lock")
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if old.ETag == "" {
			t.Fatal("empty ETag")
		}

		second := []byte(`{"holder":"b"}`)
		if err := s.Put(ctx, "l-write.lock", bytes.NewReader(second), int64(len(second)), nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
		current, err := s.Stat(ctx, "l-write.lock")
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}

		if err := s.DeleteIfMatch(ctx, "l-write.lock", old.ETag); !errors.Is(err, ErrModified) {
			t.Fatalf("DeleteIfMatch with old ETag: got %v, want ErrModified", err)
		}
		if _, err := s.Stat(ctx, "l-write.lock"); err != nil {
			t.Fatalf("object removed by mismatching delete: %v", err)
		}

		if err := s.DeleteIfMatch(ctx, "l-write.lock", current.ETag); err != nil {
			t.Fatalf("DeleteIfMatch with current ETag: %v", err)
		}
		if err := s.DeleteIfMatch(ctx, "l-write.lock", current.ETag); !errors.Is(err, ErrNotFound) {
			t.Errorf("DeleteIfMatch on missing object: got %v, want ErrNotFound", err)
		}
	})

	t.Run("list by prefix", func(t *testing.T) {
		s := newStore(t)

		for _, name := range []string{"o-a", "o-b", "o-c", "l-a"} {
			if err := s.Put(ctx, name, bytes.NewReader(nil), 0, nil); err != nil {
				t.Fatalf("Put %s: %v", name, err)
			}
		}

		got, err := s.List(ctx, "o-")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		slices.Sort(got)

		if diff := cmp.Diff([]string{"o-a", "o-b", "o-c"}, got); diff != "" {
			t.Errorf("list mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestObjectInfoMeta(t *testing.T) {
	t.Parallel()

	info := &ObjectInfo{
		Metadata: map[string]string{
			"Cachedlength": "100000",
			"compression":  "zstd",
		},
	}

	tests := []struct {
		name   string
		key    string
		want   string
		wantOK bool
	}{
		{name: "exact match", key: "compression", want: "zstd", wantOK: true},
		{name: "case folded match", key: "CachedLength", want: "100000", wantOK: true},
		{name: "missing", key: "Owner", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := info.Meta(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("ok = %t, want %t", ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
