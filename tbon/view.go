package tbon

import (
	"sync"

	"github.com/ParaToolsInc/snapped/types"
)

// Slot is one directory entry in the tree view: a node's id, its advertised
// address, and the number of children whose direct parent it is.
type Slot struct {
	ID     types.NodeID
	Addr   string
	Fanout uint32
}

// TreeView is the root-held directory of every node in the overlay.
// Every node holds one, but only the root's is meaningful (a leaf's holds
// itself alone); every id ever minted appears in exactly one slot and
// nextID strictly exceeds every minted id.
type TreeView struct {
	mu     sync.Mutex
	nextID types.NodeID
	slots  []Slot
}

// NewTreeView seeds a view with the root occupying slot 0.
func NewTreeView(rootAddr string) *TreeView {
	return &TreeView{
		nextID: types.RootID,
		slots:  []Slot{{ID: types.RootID, Addr: rootAddr, Fanout: 0}},
	}
}

// Pivot atomically assigns a new node its id and its parent.
//
// The target parent is the first slot in insertion order with free fanout;
// filling in insertion order yields a balanced tree. The id is minted only
// once a target exists, so ids stay consecutive and every minted id has a
// slot. With every slot at capacity, Pivot fails with ErrCapacity.
func (v *TreeView) Pivot(callerAddr string) (types.NodeID, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	target := -1
	for i := range v.slots {
		if v.slots[i].Fanout < types.MaxFanout {
			target = i
			break
		}
	}
	if target == -1 {
		return 0, "", ErrCapacity
	}

	v.slots[target].Fanout++
	v.nextID++
	newID := v.nextID

	v.slots = append(v.slots, Slot{ID: newID, Addr: callerAddr, Fanout: 0})

	return newID, v.slots[target].Addr, nil
}

// Slots returns a snapshot of the directory in insertion order.
func (v *TreeView) Slots() []Slot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Slot(nil), v.slots...)
}

// Size returns the number of nodes the root knows about.
func (v *TreeView) Size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.slots)
}
