package socketio

import (
	"sync"
	"time"
)

// BroadcastDebouncer collapses rapid status snapshots into a single
// emit. The control loop publishes once per tick, but a burst of
// commands or a reconnect catch-up can produce several snapshots in
// quick succession; clients only need the newest one.
type BroadcastDebouncer struct {
	window time.Duration
	emit   func()

	mu      sync.Mutex
	pending bool
	timer   *time.Timer
	stopped bool
}

// NewBroadcastDebouncer creates a debouncer that invokes emit once
// the window elapses without further triggers.
func NewBroadcastDebouncer(window time.Duration, emit func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window: window,
		emit:   emit,
	}
}

// Trigger records that a fresh snapshot is available. The emit
// callback is deferred until the debounce window elapses.
func (d *BroadcastDebouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending = true

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires the callback if a snapshot is pending and resets the flag.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	doEmit := d.pending
	d.pending = false
	d.mu.Unlock()

	if doEmit && d.emit != nil {
		d.emit()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}
