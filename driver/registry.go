package driver

import (
	"sync"
	"time"

	"github.com/google/btree"
)

// pendingEntry records an Irp waiting for its answer.
type pendingEntry struct {
	serial uint64
	irp    *Irp
	event  *Event
	at     time.Time
}

func lessPendingEntry(a, b *pendingEntry) bool {
	return a.serial < b.serial
}

// Registry is the collection of pending entries of a mount.
//
// Entries are ordered by serial number, which is assigned
// monotonically before registration, so that the ordering
// is the insertion ordering of the mount. The registry owns
// the entries it holds, and removing an entry that has left
// already is a no-op.
//
// Registry never completes an Irp itself, the removed entry
// is handed back so that the caller claims and completes it
// after the lock has been released.
type Registry struct {
	mu     sync.Mutex
	tree   *btree.BTreeG[*pendingEntry]
	active bool
}

// NewRegistry creates an inactive registry.
func NewRegistry() *Registry {
	return &Registry{
		tree: btree.NewG(8, lessPendingEntry),
	}
}

// Open starts accepting registrations.
func (r *Registry) Open() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
}

// Register records the entry, unless the registry is not
// active. The check and the insertion happen under the same
// lock so that no entry sneaks in after DrainAll.
func (r *Registry) Register(entry *pendingEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return ErrNotMounted
	}
	r.tree.ReplaceOrInsert(entry)
	return nil
}

// FindAndRemove detaches the entry with the serial number.
func (r *Registry) FindAndRemove(serial uint64) *pendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, _ := r.tree.Delete(&pendingEntry{serial: serial})
	return entry
}

// Use runs f on the entry with the serial number while it is
// held under the lock, reporting whether the entry was found.
// Every finisher detaches the entry before finishing it, so
// the caller of the Irp cannot return while f runs.
func (r *Registry) Use(serial uint64, f func(*pendingEntry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tree.Get(&pendingEntry{serial: serial})
	if ok {
		f(entry)
	}
	return ok
}

// Remove detaches the entry, reporting whether it was still
// registered.
func (r *Registry) Remove(entry *pendingEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.tree.Get(entry)
	if !ok || current != entry {
		return false
	}
	r.tree.Delete(entry)
	return true
}

// DrainAll deactivates the registry and detaches every
// entry in insertion order.
func (r *Registry) DrainAll() []*pendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	result := make([]*pendingEntry, 0, r.tree.Len())
	r.tree.Ascend(func(entry *pendingEntry) bool {
		result = append(result, entry)
		return true
	})
	r.tree.Clear(false)
	return result
}

// DrainTimedOut detaches the entries registered earlier
// than timeout before now.
func (r *Registry) DrainTimedOut(
	now time.Time, timeout time.Duration,
) []*pendingEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*pendingEntry
	r.tree.Ascend(func(entry *pendingEntry) bool {
		if now.Sub(entry.at) > timeout {
			result = append(result, entry)
		}
		return true
	})
	for _, entry := range result {
		r.tree.Delete(entry)
	}
	return result
}

// Len returns the number of pending entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Len()
}
