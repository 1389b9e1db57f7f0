// Package lock implements a cross-process mutex on top of a remote.Store.
//
// Holding a lock means owning the marker object "l-<name>" in the store.
// Acquisition relies on Store.PutIfAbsent, so mutual exclusion is exactly as
// strong as the store's conditional write.
package lock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mazrean/blobdir/internal/pkg/json"
	"github.com/mazrean/blobdir/log"
	"github.com/mazrean/blobdir/remote"
)

const MarkerPrefix = "l-"

var (
	ErrTimeout = errors.New("lock obtain timed out")
	ErrNotHeld = errors.New("lock not held")

	errHeld        = errors.New("marker held by another holder")
	errStaleMarker = errors.New("stale marker removed")
)

// MarkerName returns the store object name of the marker for the lock name.
func MarkerName(name string) string {
	return MarkerPrefix + name
}

type State int

const (
	Unlocked State = iota
	Held
	Broken
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Held:
		return "held"
	case Broken:
		return "broken"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StoreProvider resolves the store a lock operates on at call time.
type StoreProvider func(ctx context.Context) (remote.Store, error)

// Static returns a StoreProvider that always hands out store.
func Static(store remote.Store) StoreProvider {
	return func(context.Context) (remote.Store, error) {
		return store, nil
	}
}

type marker struct {
	Holder     string `json:"holder"`
	AcquiredAt int64  `json:"acquired_at"`
}

type Lock struct {
	logger log.Logger
	name   string
	store  StoreProvider
	opts   Options

	stateLocker sync.RWMutex
	state       State
}

func New(logger log.Logger, name string, store StoreProvider, opts ...Option) *Lock {
	return &Lock{
		logger: logger,
		name:   name,
		store:  store,
		opts:   newOptions(opts),
	}
}

func (l *Lock) Name() string {
	return l.name
}

// Holder returns the identity written into markers owned by this lock.
func (l *Lock) Holder() string {
	return l.opts.Holder
}

func (l *Lock) State() State {
	l.stateLocker.RLock()
	defer l.stateLocker.RUnlock()

	return l.state
}

func (l *Lock) setState(s State) {
	changed := func() bool {
		l.stateLocker.Lock()
		defer l.stateLocker.Unlock()

		if l.state == s {
			return false
		}
		l.state = s
		return true
	}()

	if changed {
		l.logger.Debugf("lock %s: %s", l.name, s)
		if l.opts.OnStateChange != nil {
			l.opts.OnStateChange(l.name, s)
		}
	}
}

// Obtain reports whether the lock was acquired within the configured timeout.
func (l *Lock) Obtain(ctx context.Context) bool {
	if err := l.TryObtain(ctx); err != nil {
		l.logger.Debugf("failed to obtain lock: %v", err)
		return false
	}

	return true
}

// TryObtain acquires the lock, retrying with exponential backoff until the
// configured timeout. Markers older than the stale threshold are removed and
// acquisition is retried. The returned error wraps ErrTimeout and the last cause.
func (l *Lock) TryObtain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     l.opts.InitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         l.opts.MaxInterval,
		MaxElapsedTime:      l.opts.Timeout,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	var lastErr error
	err := backoff.Retry(func() error {
		err := l.tryObtainOnce(ctx)
		if err != nil {
			lastErr = err
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("%w: %s: %w", ErrTimeout, l.name, lastErr)
	}

	l.setState(Held)

	return nil
}

func (l *Lock) tryObtainOnce(ctx context.Context) error {
	store, err := l.store(ctx)
	if err != nil {
		return fmt.Errorf("resolve store: %w", err)
	}

	body, err := json.Marshal(marker{
		Holder:     l.opts.Holder,
		AcquiredAt: time.Now().UnixNano(),
	})
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode marker: %w", err))
	}

	err = store.PutIfAbsent(ctx, MarkerName(l.name), bytes.NewReader(body), int64(len(body)), nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, remote.ErrExists) {
		return fmt.Errorf("write marker: %w", err)
	}

	info, err := store.Stat(ctx, MarkerName(l.name))
	if errors.Is(err, remote.ErrNotFound) {
		// released between the write and the stat
		return errHeld
	}
	if err != nil {
		return fmt.Errorf("stat marker: %w", err)
	}

	m, err := l.readMarker(ctx, store)
	if err == nil && m.Holder == l.opts.Holder {
		return nil
	}

	age := time.Since(info.LastModified)
	if age < l.opts.StaleAfter {
		return errHeld
	}

	holder := "unknown"
	if m != nil {
		holder = m.Holder
	}
	l.logger.Warnf("lock %s: removing stale marker of %s (age %s)", l.name, holder, age)

	// only the version judged stale may go; a marker written since then belongs to a live holder
	err = store.DeleteIfMatch(ctx, MarkerName(l.name), info.ETag)
	if errors.Is(err, remote.ErrModified) || errors.Is(err, remote.ErrNotFound) {
		return errHeld
	}
	if err != nil {
		return fmt.Errorf("delete stale marker: %w", err)
	}

	return errStaleMarker
}

func (l *Lock) readMarker(ctx context.Context, store remote.Store) (*marker, error) {
	buf := &bytes.Buffer{}
	if err := store.Get(ctx, MarkerName(l.name), buf); err != nil {
		return nil, fmt.Errorf("read marker: %w", err)
	}

	var m marker
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		return nil, fmt.Errorf("decode marker: %w", err)
	}

	return &m, nil
}

// Release removes the marker if this lock owns it. A missing marker or one
// owned by another holder is left alone and no error is returned.
func (l *Lock) Release(ctx context.Context) error {
	defer func() {
		if l.State() == Held {
			l.setState(Unlocked)
		}
	}()

	store, err := l.store(ctx)
	if err != nil {
		return fmt.Errorf("resolve store: %w", err)
	}

	info, err := store.Stat(ctx, MarkerName(l.name))
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat marker: %w", err)
	}

	m, err := l.readMarker(ctx, store)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if m.Holder != l.opts.Holder {
		l.logger.Debugf("lock %s: marker owned by %s, release skipped", l.name, m.Holder)
		return nil
	}

	err = store.DeleteIfMatch(ctx, MarkerName(l.name), info.ETag)
	if errors.Is(err, remote.ErrModified) || errors.Is(err, remote.ErrNotFound) {
		l.logger.Debugf("lock %s: marker replaced before release, release skipped", l.name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete marker: %w", err)
	}

	return nil
}

// BreakLock removes the marker regardless of its holder.
func (l *Lock) BreakLock(ctx context.Context) error {
	store, err := l.store(ctx)
	if err != nil {
		return fmt.Errorf("resolve store: %w", err)
	}

	if err := store.Delete(ctx, MarkerName(l.name)); err != nil {
		return fmt.Errorf("delete marker: %w", err)
	}

	l.logger.Infof("lock %s: broken", l.name)
	l.setState(Broken)

	return nil
}

// IsLocked reports whether a marker currently exists in the store.
func (l *Lock) IsLocked(ctx context.Context) bool {
	store, err := l.store(ctx)
	if err != nil {
		l.logger.Debugf("lock %s: resolve store: %v", l.name, err)
		return false
	}

	if _, err := store.Stat(ctx, MarkerName(l.name)); err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			l.logger.Debugf("lock %s: stat marker: %v", l.name, err)
		}
		return false
	}

	return true
}

// Refresh rewrites the marker with a new timestamp so that other processes do not consider it stale.
func (l *Lock) Refresh(ctx context.Context) error {
	if l.State() != Held {
		return fmt.Errorf("refresh %s: %w", l.name, ErrNotHeld)
	}

	store, err := l.store(ctx)
	if err != nil {
		return fmt.Errorf("resolve store: %w", err)
	}

	m, err := l.readMarker(ctx, store)
	if errors.Is(err, remote.ErrNotFound) || (err == nil && m.Holder != l.opts.Holder) {
		l.setState(Unlocked)
		return fmt.Errorf("refresh %s: %w", l.name, ErrNotHeld)
	}
	if err != nil {
		return err
	}

	body, err := json.Marshal(marker{
		Holder:     l.opts.Holder,
		AcquiredAt: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}

	if err := store.Put(ctx, MarkerName(l.name), bytes.NewReader(body), int64(len(body)), nil); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}

	return nil
}
