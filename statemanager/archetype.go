package statemanager

import (
	"sync"
	"sync/atomic"

	"github.com/TheBitDrifter/bark"
	"github.com/TheBitDrifter/mask"

	"github.com/TheBitDrifter/megakernel"
	"github.com/TheBitDrifter/megakernel/alloc"
)

// ArchetypeID identifies an archetype, a fixed composition of component
// types. All entities with the same component set share one archetype
// and one columnar table (GLOSSARY).
type ArchetypeID uint32

// Archetype owns one reserved column buffer per column — Entity, WorldID,
// then the user-declared components in registration order — plus a
// monotonically advancing row cursor. The row cursor is atomic because
// many worker groups append rows concurrently while the megakernel runs;
// see Archetype.ClaimRows.
type Archetype struct {
	id ArchetypeID

	// componentIDs is the user-declared component list, in the order
	// passed to RegisterArchetype. It is also appended to the Manager's
	// shared archetypeComponents arena; offset records that append.
	componentIDs []ComponentID
	offset       int

	columns    []*alloc.Region
	columnSize []uint32
	mask       mask.Mask

	// columnIndexOf maps a component id to its column index. It is sized
	// to MaxComponents and initialized to -1 (absent) — the
	// "compact integer map" spec.md §3 calls for, adapted from the
	// teacher's string-keyed SimpleCache (warehouse/cache.go) into a
	// dense array since component ids are themselves dense small
	// integers, which is the most compact possible map for this shape.
	columnIndexOf []int32

	numRows atomic.Uint32

	// growMu serializes the column commit growth in ClaimRows.
	growMu sync.Mutex

	maxRowsPerTable int
}

// ID returns the archetype's id.
func (a *Archetype) ID() ArchetypeID { return a.id }

// NumRows returns the archetype's current row count.
func (a *Archetype) NumRows() uint32 { return a.numRows.Load() }

// ColumnIndex returns the column index for a component, or -1 if the
// component is not part of this archetype. Entity is always column 0,
// WorldID always column 1.
func (a *Archetype) ColumnIndex(id ComponentID) int32 {
	if int(id) >= len(a.columnIndexOf) {
		return -1
	}
	return a.columnIndexOf[id]
}

// Column returns the reserved column buffer at the given column index.
func (a *Archetype) Column(columnIndex int) *alloc.Region {
	return a.columns[columnIndex]
}

// ClaimRows atomically advances the row cursor by n and returns the base
// row index the caller now owns exclusively. It is the only path that
// advances numRows (ClearTemporaries resets it) and is safe to call from
// any number of concurrent worker groups (spec.md §3: "row cursor
// numRows (atomic)").
func (a *Archetype) ClaimRows(n uint32) (base uint32, err error) {
	base = a.numRows.Add(n) - n
	if int(base)+int(n) > a.maxRowsPerTable {
		err := megakernel.ResourceExhaustionError{Resource: "rows", Capacity: a.maxRowsPerTable}
		panic(bark.AddTrace(err))
	}
	a.growMu.Lock()
	defer a.growMu.Unlock()
	for i, col := range a.columns {
		want := uint64(base+n) * uint64(a.columnSize[i])
		if want > col.Committed() {
			if growErr := col.Grow(want); growErr != nil {
				panic(bark.AddTrace(growErr))
			}
		}
	}
	return base, nil
}

// ClearTemporaries resets numRows to zero (spec.md §4.3.4). This does not
// commit-back column memory; reuse of row slots is permitted on the next
// allocation cycle.
func (a *Archetype) ClearTemporaries() {
	a.numRows.Store(0)
}

func newArchetype(
	id ArchetypeID,
	userComponents []ComponentDescriptor,
	offset int,
	numWorlds int,
	maxRowsPerTable int,
	maxComponents int,
	allocator alloc.Allocator,
) (*Archetype, error) {
	componentIDs := make([]ComponentID, len(userComponents))
	for i, c := range userComponents {
		componentIDs[i] = c.ID
	}

	a := &Archetype{
		id:              id,
		componentIDs:    componentIDs,
		offset:          offset,
		columnIndexOf:   make([]int32, maxComponents),
		maxRowsPerTable: maxRowsPerTable,
	}
	for i := range a.columnIndexOf {
		a.columnIndexOf[i] = -1
	}
	a.columnIndexOf[ComponentEntity] = 0
	a.columnIndexOf[ComponentWorldID] = 1
	a.mask.Mark(uint32(ComponentEntity))
	a.mask.Mark(uint32(ComponentWorldID))

	// column 0: Entity (one uint64 handle per row), column 1: WorldID
	sizes := []uint32{8, 4}
	for i, c := range userComponents {
		sizes = append(sizes, c.Size)
		a.columnIndexOf[c.ID] = int32(userComponentOffset + i)
		a.mask.Mark(uint32(c.ID))
	}

	a.columns = make([]*alloc.Region, len(sizes))
	a.columnSize = sizes
	for i, size := range sizes {
		reserveBytes := uint64(maxRowsPerTable) * uint64(size)
		initCommit := uint64(numWorlds) * uint64(size)
		region, err := allocator.Reserve(reserveBytes, initCommit)
		if err != nil {
			return nil, megakernel.AllocatorFailureError{Bytes: reserveBytes, Cause: err}
		}
		a.columns[i] = region
	}

	return a, nil
}
