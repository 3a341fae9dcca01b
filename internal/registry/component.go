// Package registry stores the authoritative view of every component the
// watcher has seen.
//
// The top-level map is guarded by a short-held RWMutex and only maps names
// to entries; each entry carries its own mutex, so a slow read-modify-write
// of one record never delays reads or writes of another. Every record
// returned to callers is a deep copy.
package registry

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/wasmscope/internal/errors"
	"github.com/conneroisu/wasmscope/internal/types"
)

type entry struct {
	mu      sync.RWMutex
	record  *types.ComponentRecord
	removed bool
}

// ComponentRegistry manages all discovered components
type ComponentRegistry struct {
	mutex   sync.RWMutex
	entries map[string]*entry
}

// NewComponentRegistry creates a new component registry
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		entries: make(map[string]*entry),
	}
}

// UpdateFunc computes the next version of a record from the current one.
// cur is a private copy and nil when no record exists. Returning a nil
// record leaves the registry untouched.
type UpdateFunc func(cur *types.ComponentRecord) (*types.ComponentRecord, error)

// Update runs fn as an atomic read-modify-write on the record called name.
// It returns a copy of the record as stored afterwards and whether fn
// changed it. Illegal state transitions are rejected.
func (r *ComponentRegistry) Update(name string, fn UpdateFunc) (*types.ComponentRecord, bool, error) {
	for {
		e, created := r.acquire(name)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			r.detach(name, e)
			continue
		}

		cur := e.record.Clone()
		next, err := fn(cur)
		if err == nil && next != nil {
			var from types.ComponentState
			if e.record != nil {
				from = e.record.State
			}
			if !from.CanTransition(next.State) {
				err = errors.ErrInvalidTransition(name, string(from), string(next.State))
			}
		}
		if err != nil || next == nil {
			if e.record == nil && created {
				e.removed = true
			}
			stored := e.record.Clone()
			e.mu.Unlock()
			if e.removed {
				r.detach(name, e)
			}
			return stored, false, err
		}

		next = next.Clone()
		next.Name = name
		next.Version = 1
		if e.record != nil {
			next.Version = e.record.Version + 1
		}
		e.record = next
		stored := next.Clone()
		e.mu.Unlock()
		return stored, true, nil
	}
}

// acquire returns the entry for name, creating an empty one if needed.
func (r *ComponentRegistry) acquire(name string) (*entry, bool) {
	r.mutex.RLock()
	e, ok := r.entries[name]
	r.mutex.RUnlock()
	if ok {
		return e, false
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if e, ok := r.entries[name]; ok {
		return e, false
	}
	e = &entry{}
	r.entries[name] = e
	return e, true
}

// detach drops e from the map if it is still the entry for name.
func (r *ComponentRegistry) detach(name string, e *entry) {
	r.mutex.Lock()
	if r.entries[name] == e {
		delete(r.entries, name)
	}
	r.mutex.Unlock()
}

func (r *ComponentRegistry) lookup(name string) *entry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.entries[name]
}

// Upsert stores rec under rec.Name. It reports false when the stored record
// already matches rec apart from Version and LastSeen.
func (r *ComponentRegistry) Upsert(rec *types.ComponentRecord) (bool, error) {
	if rec == nil || rec.Name == "" {
		return false, errors.NewValidationError(errors.ErrCodeInvalidName, "component name is required")
	}
	_, changed, err := r.Update(rec.Name, func(cur *types.ComponentRecord) (*types.ComponentRecord, error) {
		if sameContent(cur, rec) {
			return nil, nil
		}
		return rec, nil
	})
	return changed, err
}

// sameContent compares two records ignoring bookkeeping fields.
func sameContent(a, b *types.ComponentRecord) bool {
	if a == nil || b == nil {
		return a == b
	}
	x, y := *a, *b
	x.Version, y.Version = 0, 0
	x.LastSeen, y.LastSeen = time.Time{}, time.Time{}
	x.Name, y.Name = "", ""
	if x.RemovedAt != nil && y.RemovedAt != nil && x.RemovedAt.Equal(*y.RemovedAt) {
		x.RemovedAt, y.RemovedAt = nil, nil
	}
	if x.Error != nil && y.Error != nil && x.Error.Kind == y.Error.Kind && x.Error.Message == y.Error.Message {
		x.Error, y.Error = nil, nil
	}
	return reflect.DeepEqual(x, y)
}

// Get retrieves a component by name
func (r *ComponentRegistry) Get(name string) (*types.ComponentRecord, error) {
	e := r.lookup(name)
	if e == nil {
		return nil, errors.ErrComponentNotFound(name)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.removed || e.record == nil {
		return nil, errors.ErrComponentNotFound(name)
	}
	return e.record.Clone(), nil
}

// List returns a snapshot of all records ordered by name.
func (r *ComponentRegistry) List() []*types.ComponentRecord {
	r.mutex.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mutex.RUnlock()

	out := make([]*types.ComponentRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		if !e.removed && e.record != nil {
			out = append(out, e.record.Clone())
		}
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Remove purges a record regardless of its state.
func (r *ComponentRegistry) Remove(name string) error {
	if !r.purge(name, func(*types.ComponentRecord) bool { return true }) {
		return errors.ErrComponentNotFound(name)
	}
	return nil
}

// purge removes name when ok reports true for its current record.
func (r *ComponentRegistry) purge(name string, ok func(*types.ComponentRecord) bool) bool {
	e := r.lookup(name)
	if e == nil {
		return false
	}
	e.mu.Lock()
	if e.removed || e.record == nil || !ok(e.record) {
		e.mu.Unlock()
		return false
	}
	e.removed = true
	e.record = nil
	e.mu.Unlock()
	r.detach(name, e)
	return true
}

// Count returns the number of registered components
func (r *ComponentRegistry) Count() int {
	return len(r.List())
}

// Stats counts records per state.
func (r *ComponentRegistry) Stats() map[types.ComponentState]int {
	stats := map[types.ComponentState]int{
		types.StateDiscovered:     0,
		types.StateAnalyzed:       0,
		types.StateAnalysisFailed: 0,
		types.StateStale:          0,
	}
	for _, rec := range r.List() {
		stats[rec.State]++
	}
	return stats
}
