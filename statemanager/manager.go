package statemanager

import (
	"fmt"
	"sort"
	"sync"

	"github.com/TheBitDrifter/bark"

	"github.com/TheBitDrifter/megakernel"
	"github.com/TheBitDrifter/megakernel/alloc"
)

// Limits are the compile-time capacities the State Manager is sized for.
type Limits struct {
	MaxComponents          int
	MaxArchetypes          int
	MaxArchetypeComponents int
	MaxRowsPerTable        int
	NumWorlds              int
}

// Manager registers components, archetypes, and queries, and owns every
// archetype table (spec.md §4.3). It corresponds to the teacher's
// storage type (warehouse/storage.go), generalized from a single
// archetype-dedupe map to the spec's explicit register_* contract.
type Manager struct {
	limits    Limits
	allocator alloc.Allocator

	components []*ComponentDescriptor

	archetypesMu sync.Mutex // archetype registration is host-serialized (spec.md §5); guards append only
	archetypes   []*Archetype

	// archetypeComponents is the shared arena RegisterArchetype appends
	// each archetype's user component id list to, per spec.md §4.3.2.
	archetypeComponents []ComponentID

	queryMu sync.Mutex // the one mutex in the hot path (spec.md §5)
	// queryArena is the shared query-data arena CompiledQuery.Offset
	// indexes into, per spec.md §3's Query data model.
	queryArena []uint32
}

// New constructs a Manager sized for the given limits, with Entity and
// WorldID pre-registered at ids 0 and 1 (spec.md §4.1: "Components 0 and
// 1 are reserved for Entity and WorldID and are registered at
// construction").
func New(limits Limits, allocator alloc.Allocator) *Manager {
	mgr := &Manager{
		limits:     limits,
		allocator:  allocator,
		components: make([]*ComponentDescriptor, limits.MaxComponents),
	}
	mustRegisterReserved[uint64](mgr, ComponentEntity)
	mustRegisterReserved[uint32](mgr, ComponentWorldID)
	return mgr
}

func mustRegisterReserved[T any](mgr *Manager, id ComponentID) {
	if _, err := RegisterComponent[T](mgr, id); err != nil {
		panic(bark.AddTrace(err))
	}
}

// RegisterArchetype records an archetype: it appends the user component
// id list to the shared arena, assembles the column layout
// [Entity, WorldID, user components...], and reserves each column buffer
// through the allocator (spec.md §4.3.2).
//
// Preconditions: every component id is registered and
// n_user <= MaxArchetypeComponents - 2; violating either aborts.
func (mgr *Manager) RegisterArchetype(id ArchetypeID, componentIDs []ComponentID) (*Archetype, error) {
	if len(componentIDs) > mgr.limits.MaxArchetypeComponents-userComponentOffset {
		err := fmt.Errorf("archetype %d: %d user components exceeds limit of %d", id, len(componentIDs), mgr.limits.MaxArchetypeComponents-userComponentOffset)
		panic(bark.AddTrace(err))
	}

	descs := make([]ComponentDescriptor, len(componentIDs))
	for i, cid := range componentIDs {
		if int(cid) >= len(mgr.components) || mgr.components[cid] == nil {
			panic(bark.AddTrace(megakernel.UnassignedComponentError{ID: uint32(cid)}))
		}
		descs[i] = *mgr.components[cid]
	}

	mgr.archetypesMu.Lock()
	defer mgr.archetypesMu.Unlock()

	// mgr.archetypes is kept sorted by ascending id at all times, so the
	// insertion point doubles as the duplicate check (spec.md §4.3
	// "Archetypes are scanned in ascending id order during query
	// compilation"; an arbitrary caller-chosen id means registration
	// order and id order need not coincide).
	pos := sort.Search(len(mgr.archetypes), func(i int) bool {
		return mgr.archetypes[i].id >= id
	})
	if pos < len(mgr.archetypes) && mgr.archetypes[pos].id == id {
		panic(bark.AddTrace(megakernel.RegistrationConflictError{Kind: "archetype", ID: uint32(id)}))
	}

	offset := len(mgr.archetypeComponents)
	mgr.archetypeComponents = append(mgr.archetypeComponents, componentIDs...)

	arch, err := newArchetype(id, descs, offset, mgr.limits.NumWorlds, mgr.limits.MaxRowsPerTable, mgr.limits.MaxComponents, mgr.allocator)
	if err != nil {
		return nil, err
	}
	mgr.archetypes = append(mgr.archetypes, nil)
	copy(mgr.archetypes[pos+1:], mgr.archetypes[pos:])
	mgr.archetypes[pos] = arch
	return arch, nil
}

// Archetypes returns every registered archetype, in ascending id
// order — the order query compilation scans them in (spec.md §4.3
// "Tie-breaks and ordering").
func (mgr *Manager) Archetypes() []*Archetype {
	return mgr.archetypes
}

// ClearTemporaries resets numRows of the archetype's table to zero
// (spec.md §4.3.4). It does not commit-back column memory.
func (mgr *Manager) ClearTemporaries(id ArchetypeID) {
	for _, a := range mgr.archetypes {
		if a.id == id {
			a.ClearTemporaries()
			return
		}
	}
}
