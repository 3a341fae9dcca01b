package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers per key. The callback runs once a
// key has been quiet for the full delay; every trigger restarts its timer.
type Debouncer struct {
	delay time.Duration
	fire  func(key string)

	mutex   sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewDebouncer creates a Debouncer that calls fire on settle.
func NewDebouncer(delay time.Duration, fire func(key string)) *Debouncer {
	return &Debouncer{
		delay:  delay,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

// Trigger (re)starts the timer for key. It is a no-op after Stop.
func (d *Debouncer) Trigger(key string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}

	// The callback takes the lock before reading t, so the assignment
	// below is always visible to it.
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		d.mutex.Lock()
		if d.stopped || d.timers[key] != t {
			d.mutex.Unlock()
			return
		}
		delete(d.timers, key)
		d.mutex.Unlock()
		d.fire(key)
	})
	d.timers[key] = t
}

// Pending returns the number of keys waiting to settle.
func (d *Debouncer) Pending() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.timers)
}

// Stop cancels every pending timer. No callback starts after Stop returns.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
