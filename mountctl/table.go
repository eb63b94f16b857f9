package mountctl

import (
	"github.com/google/btree"
)

// MountEntry is a drive letter assigned to a device.
type MountEntry struct {
	Drive  uint16
	Device uint32
}

func lessMountEntry(a, b MountEntry) bool {
	return a.Drive < b.Drive
}

// table is the mount table ordered by drive letter.
type table struct {
	tree *btree.BTreeG[MountEntry]
}

func newTable() *table {
	return &table{tree: btree.NewG(4, lessMountEntry)}
}

func (t *table) get(drive uint16) (MountEntry, bool) {
	return t.tree.Get(MountEntry{Drive: drive})
}

func (t *table) insert(entry MountEntry) bool {
	if t.tree.Has(entry) {
		return false
	}
	t.tree.ReplaceOrInsert(entry)
	return true
}

func (t *table) remove(drive uint16) (MountEntry, bool) {
	return t.tree.Delete(MountEntry{Drive: drive})
}

// at returns the index-th entry in drive order.
func (t *table) at(index uint32) (MountEntry, bool) {
	var result MountEntry
	found := false
	var i uint32
	t.tree.Ascend(func(entry MountEntry) bool {
		if i == index {
			result, found = entry, true
			return false
		}
		i++
		return true
	})
	return result, found
}

func (t *table) entries() []MountEntry {
	result := make([]MountEntry, 0, t.tree.Len())
	t.tree.Ascend(func(entry MountEntry) bool {
		result = append(result, entry)
		return true
	})
	return result
}
