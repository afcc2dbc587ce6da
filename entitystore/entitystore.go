/*
Package entitystore implements the generational entity id allocator and
slot table described in spec.md §4.2: a fixed-capacity array of slots
plus a free-list of available slot indices. An entity handle is an
opaque (generation, slot) pair; it resolves to exactly one
(archetype, row) as long as the slot's stored generation still matches.

The teacher library (warehouse) has no entity-store of its own — it
hands out table.EntryID values and leans on the table package's entry
index for recycling. This spec's store is simpler and more explicit
(the generation check is the one piece of the contract every caller
depends on), so it is implemented directly against a mutex-guarded
slice in the teacher's general style of small, explicit structs with
narrow interfaces (see warehouse's operation_queue.go).
*/
package entitystore

import (
	"sync"

	"github.com/TheBitDrifter/bark"

	"github.com/TheBitDrifter/megakernel"
	"github.com/TheBitDrifter/megakernel/log"
)

var logger = log.WithComponent("entitystore")

// Handle is an opaque entity identifier. Equality is structural.
type Handle struct {
	Generation uint32
	Slot       uint32
}

type slot struct {
	generation uint32
	archetype  uint32
	row        uint32
	occupied   bool
}

// Store is a fixed-capacity generational id allocator. Its capacity is
// fixed at construction (spec.md's maxEntities compile-time constant).
type Store struct {
	mu       sync.Mutex
	slots    []slot
	freeList []uint32
}

// New constructs a Store with the given fixed capacity. All slots start
// at generation 0 and the free-list is the full index range in ascending
// order, per spec.md §4.2.
func New(capacity int) *Store {
	s := &Store{
		slots:    make([]slot, capacity),
		freeList: make([]uint32, capacity),
	}
	for i := range s.freeList {
		s.freeList[i] = uint32(i)
	}
	return s
}

// Capacity returns the store's fixed slot capacity.
func (s *Store) Capacity() int {
	return len(s.slots)
}

// Allocate pops a slot from the free-list and returns a live handle. Entity
// exhaustion is a fatal error kind (spec.md §7): it logs and panics rather
// than returning, matching Archetype.ClaimRows's handling of the same
// resource-exhaustion error elsewhere in this repo.
func (s *Store) Allocate() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.freeList) == 0 {
		err := megakernel.ResourceExhaustionError{Resource: "entities", Capacity: len(s.slots)}
		logger.Error().Int("capacity", len(s.slots)).Msg("entity store exhausted")
		panic(bark.AddTrace(err))
	}

	n := len(s.freeList) - 1
	idx := s.freeList[n]
	s.freeList = s.freeList[:n]

	sl := &s.slots[idx]
	sl.occupied = true
	// archetype/row are left at their previous (possibly stale) values
	// until the caller records the new position with Place; a Resolve of
	// this handle before that returns whatever the slot last held.
	return Handle{Generation: sl.generation, Slot: idx}
}

// Place records the (archetype, row) position a freshly allocated handle
// resolves to. Callers call this once, immediately after Allocate.
func (s *Store) Place(h Handle, archetype, row uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := &s.slots[h.Slot]
	if !sl.occupied || sl.generation != h.Generation {
		return megakernel.StaleHandleError{Slot: h.Slot, Generation: h.Generation}
	}
	sl.archetype = archetype
	sl.row = row
	return nil
}

// Free verifies handle liveness (matching generation), increments the
// slot's generation, and pushes the slot back onto the free-list.
// Freeing a stale handle is a detected no-op.
func (s *Store) Free(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := &s.slots[h.Slot]
	if !sl.occupied || sl.generation != h.Generation {
		return nil // stale handle: detected no-op
	}

	sl.occupied = false
	sl.generation++
	s.freeList = append(s.freeList, h.Slot)
	return nil
}

// Resolve performs a constant-time lookup with generation check, returning
// the archetype id and row a live handle currently occupies.
func (s *Store) Resolve(h Handle) (archetype, row uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(h.Slot) >= len(s.slots) {
		return 0, 0, megakernel.StaleHandleError{Slot: h.Slot, Generation: h.Generation}
	}
	sl := &s.slots[h.Slot]
	if !sl.occupied || sl.generation != h.Generation {
		return 0, 0, megakernel.StaleHandleError{Slot: h.Slot, Generation: h.Generation}
	}
	return sl.archetype, sl.row, nil
}
