package locker

import (
	"sync"
	"sync/atomic"
)

// WaitSuccess runs an initialization until it succeeds once.
// Concurrent callers wait for the running attempt; after a failure the next
// waiter retries, after a success every caller takes the fast path.
type WaitSuccess struct {
	// isRunning
	// Whether the process is currently running
	isRunning *atomic.Bool
	// succeeded
	// Indicates if the process has ever succeeded
	// Can only change from false to true (one-way flag)
	succeeded *atomic.Bool
	cond      *sync.Cond
}

func NewWaitSuccess() *WaitSuccess {
	return &WaitSuccess{
		isRunning: &atomic.Bool{},
		succeeded: &atomic.Bool{},
		cond:      sync.NewCond(&sync.Mutex{}),
	}
}

// Run calls before until it reports success, and after on every call made once it has.
func (ws *WaitSuccess) Run(before func() bool, after func()) {
	func() {
		ws.cond.L.Lock()
		defer ws.cond.L.Unlock()

		for ws.isRunning.Load() && !ws.succeeded.Load() {
			ws.cond.Wait()
		}
		if !ws.succeeded.Load() {
			ws.isRunning.Store(true)
		}
	}()

	if ws.succeeded.Load() {
		after()
		return
	}

	result := before()

	ws.cond.L.Lock()
	defer ws.cond.L.Unlock()

	ws.succeeded.Store(result)
	ws.isRunning.Store(false)

	if result {
		ws.cond.Broadcast()
	} else {
		ws.cond.Signal()
	}
}

// Succeeded reports whether an attempt has succeeded.
func (ws *WaitSuccess) Succeeded() bool {
	return ws.succeeded.Load()
}
