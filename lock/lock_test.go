package lock

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mazrean/blobdir/internal/pkg/json"
	"github.com/mazrean/blobdir/log"
	"github.com/mazrean/blobdir/remote"
)

func newTestStore(t *testing.T) remote.Store {
	t.Helper()

	store := remote.NewMemory().Store("catalog")
	if err := store.CreateContainer(context.Background()); err != nil {
		t.Fatal(err)
	}

	return store
}

func newTestLock(store remote.Store, opts ...Option) *Lock {
	opts = append([]Option{
		WithTimeout(200 * time.Millisecond),
		WithRetryInterval(5*time.Millisecond, 20*time.Millisecond),
	}, opts...)

	return New(log.DefaultLogger, "write.lock", Static(store), opts...)
}

func currentHolder(t *testing.T, store remote.Store) string {
	t.Helper()

	buf := &bytes.Buffer{}
	if err := store.Get(context.Background(), MarkerName("write.lock"), buf); err != nil {
		t.Fatalf("read marker: %v", err)
	}

	var m marker
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode marker: %v", err)
	}

	return m.Holder
}

func TestObtainRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	l := newTestLock(store)

	if diff := cmp.Diff(Unlocked, l.State()); diff != "" {
		t.Errorf("initial state mismatch (-want +got):\n%s", diff)
	}

	if !l.Obtain(ctx) {
		t.Fatal("Obtain failed on free lock")
	}
	if diff := cmp.Diff(Held, l.State()); diff != "" {
		t.Errorf("state after Obtain mismatch (-want +got):\n%s", diff)
	}
	if !l.IsLocked(ctx) {
		t.Error("IsLocked = false after Obtain")
	}
	if diff := cmp.Diff(l.Holder(), currentHolder(t, store)); diff != "" {
		t.Errorf("marker holder mismatch (-want +got):\n%s", diff)
	}

	if !l.Obtain(ctx) {
		t.Error("Obtain by the current holder failed")
	}

	for i := range 2 {
		if err := l.Release(ctx); err != nil {
			t.Fatalf("Release #%d: %v", i+1, err)
		}
	}
	if l.IsLocked(ctx) {
		t.Error("IsLocked = true after Release")
	}
	if diff := cmp.Diff(Unlocked, l.State()); diff != "" {
		t.Errorf("state after Release mismatch (-want +got):\n%s", diff)
	}
}

func TestObtainExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	locks := []*Lock{newTestLock(store), newTestLock(store)}

	var (
		wg       sync.WaitGroup
		obtained atomic.Int32
	)
	for _, l := range locks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Obtain(ctx) {
				obtained.Add(1)
			}
		}()
	}
	wg.Wait()

	if diff := cmp.Diff(int32(1), obtained.Load()); diff != "" {
		t.Errorf("number of holders mismatch (-want +got):\n%s", diff)
	}
}

func TestTryObtainTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	owner := newTestLock(store)
	if !owner.Obtain(ctx) {
		t.Fatal("Obtain failed on free lock")
	}

	other := newTestLock(store, WithTimeout(50*time.Millisecond))
	start := time.Now()
	err := other.TryObtain(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("TryObtain: got %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("TryObtain returned after %s", elapsed)
	}
	if diff := cmp.Diff(Unlocked, other.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestStaleTakeover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	crashed := newTestLock(store)
	if !crashed.Obtain(ctx) {
		t.Fatal("Obtain failed on free lock")
	}

	patient := newTestLock(store, WithStaleAfter(time.Hour), WithTimeout(50*time.Millisecond))
	if patient.Obtain(ctx) {
		t.Fatal("Obtain succeeded while marker is fresh")
	}

	time.Sleep(50 * time.Millisecond)

	successor := newTestLock(store, WithStaleAfter(20*time.Millisecond))
	if !successor.Obtain(ctx) {
		t.Fatal("Obtain failed on stale marker")
	}

	if err := crashed.Release(ctx); err != nil {
		t.Fatalf("Release by previous holder: %v", err)
	}
	if !successor.IsLocked(ctx) {
		t.Error("previous holder's Release removed the successor's marker")
	}
	if diff := cmp.Diff(successor.Holder(), currentHolder(t, store)); diff != "" {
		t.Errorf("marker holder mismatch (-want +got):\n%s", diff)
	}
}

// pausedDeleteStore holds the first conditional delete until release is closed.
type pausedDeleteStore struct {
	remote.Store

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *pausedDeleteStore) DeleteIfMatch(ctx context.Context, name string, etag string) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.DeleteIfMatch(ctx, name, etag)
}

func TestStaleTakeoverRace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	crashed := newTestLock(store)
	if !crashed.Obtain(ctx) {
		t.Fatal("Obtain failed on free lock")
	}

	time.Sleep(150 * time.Millisecond)

	paused := &pausedDeleteStore{
		Store:   store,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	slow := New(log.DefaultLogger, "write.lock", Static(paused),
		WithTimeout(60*time.Millisecond),
		WithRetryInterval(5*time.Millisecond, 10*time.Millisecond),
		WithStaleAfter(100*time.Millisecond),
	)

	slowErr := make(chan error, 1)
	go func() {
		slowErr <- slow.TryObtain(ctx)
	}()

	// slow has judged the crashed marker stale and is about to delete it
	<-paused.entered

	fast := newTestLock(store, WithStaleAfter(100*time.Millisecond))
	if !fast.Obtain(ctx) {
		close(paused.release)
		t.Fatal("Obtain failed on stale marker")
	}

	close(paused.release)

	if err := <-slowErr; !errors.Is(err, ErrTimeout) {
		t.Errorf("TryObtain after losing the race: got %v, want ErrTimeout", err)
	}
	if diff := cmp.Diff(Unlocked, slow.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(fast.Holder(), currentHolder(t, store)); diff != "" {
		t.Errorf("marker holder mismatch (-want +got):\n%s", diff)
	}
}

func TestReleaseAfterTakeover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	owner := newTestLock(store)
	if !owner.Obtain(ctx) {
		t.Fatal("Obtain failed on free lock")
	}

	// the marker is replaced by another holder between Release's read and delete
	paused := &pausedDeleteStore{
		Store:   store,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	releasing := New(log.DefaultLogger, "write.lock", Static(paused), WithHolder(owner.Holder()))

	releaseErr := make(chan error, 1)
	go func() {
		releaseErr <- releasing.Release(ctx)
	}()
	<-paused.entered

	if err := store.Delete(ctx, MarkerName("write.lock")); err != nil {
		t.Fatal(err)
	}
	next := newTestLock(store)
	if !next.Obtain(ctx) {
		close(paused.release)
		t.Fatal("Obtain failed on free lock")
	}
	close(paused.release)

	if err := <-releaseErr; err != nil {
		t.Errorf("Release: %v", err)
	}
	if diff := cmp.Diff(next.Holder(), currentHolder(t, store)); diff != "" {
		t.Errorf("marker holder mismatch (-want +got):\n%s", diff)
	}
}

func TestBreakLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	owner := newTestLock(store)
	if !owner.Obtain(ctx) {
		t.Fatal("Obtain failed on free lock")
	}

	admin := newTestLock(store)
	if err := admin.BreakLock(ctx); err != nil {
		t.Fatalf("BreakLock: %v", err)
	}
	if admin.IsLocked(ctx) {
		t.Error("IsLocked = true after BreakLock")
	}
	if diff := cmp.Diff(Broken, admin.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}

	if err := admin.BreakLock(ctx); err != nil {
		t.Errorf("BreakLock without marker: %v", err)
	}

	if !admin.Obtain(ctx) {
		t.Fatal("Obtain after BreakLock failed")
	}
	if diff := cmp.Diff(Held, admin.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	l := newTestLock(store)
	if err := l.Refresh(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Refresh before Obtain: got %v, want ErrNotHeld", err)
	}

	if !l.Obtain(ctx) {
		t.Fatal("Obtain failed on free lock")
	}

	before, err := store.Stat(ctx, MarkerName("write.lock"))
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)

	if err := l.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	after, err := store.Stat(ctx, MarkerName("write.lock"))
	if err != nil {
		t.Fatal(err)
	}
	if !after.LastModified.After(before.LastModified) {
		t.Errorf("marker not re-stamped: before=%v after=%v", before.LastModified, after.LastModified)
	}

	if err := newTestLock(store).BreakLock(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.Refresh(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Refresh after break: got %v, want ErrNotHeld", err)
	}
	if diff := cmp.Diff(Unlocked, l.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestStateHook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	var (
		statesLocker sync.Mutex
		states       []State
	)
	l := newTestLock(store, WithStateHook(func(name string, s State) {
		if name != "write.lock" {
			t.Errorf("hook called with name %q", name)
		}

		statesLocker.Lock()
		defer statesLocker.Unlock()
		states = append(states, s)
	}))

	if !l.Obtain(ctx) {
		t.Fatal("Obtain failed on free lock")
	}
	if err := l.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := l.BreakLock(ctx); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]State{Held, Unlocked, Broken}, states); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	errUnavailable := errors.New("unavailable")

	l := New(log.DefaultLogger, "write.lock", func(context.Context) (remote.Store, error) {
		return nil, errUnavailable
	}, WithTimeout(30*time.Millisecond), WithRetryInterval(5*time.Millisecond, 10*time.Millisecond))

	err := l.TryObtain(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("TryObtain: got %v, want ErrTimeout", err)
	}
	if !errors.Is(err, errUnavailable) {
		t.Errorf("TryObtain: got %v, want cause %v", err, errUnavailable)
	}
	if l.IsLocked(ctx) {
		t.Error("IsLocked = true without a store")
	}
	if err := l.BreakLock(ctx); !errors.Is(err, errUnavailable) {
		t.Errorf("BreakLock: got %v, want %v", err, errUnavailable)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{state: Unlocked, want: "unlocked"},
		{state: Held, want: "held"},
		{state: Broken, want: "broken"},
		{state: State(7), want: "State(7)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()

			if diff := cmp.Diff(tt.want, tt.state.String()); diff != "" {
				t.Errorf("String mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
