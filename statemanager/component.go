/*
Package statemanager implements the State Manager (spec.md §4.3): it
registers components, archetypes, and queries, and owns every
archetype's columnar table. It is grounded in the teacher library's
archetype/table wiring (warehouse's storage.go, archetype.go, query.go,
cache.go), generalized from the teacher's reflect-derived element
identity to the spec's explicit numeric component ids, alignment, and
size — the "tagged variant / index-keyed sparse map" re-expression
spec.md §9 calls for in place of the original's option-wrapped
fixed-size arrays.

Unlike the teacher, archetype columns here are not generic Go slices:
they are reserved-but-uncommitted virtual memory obtained from an
alloc.Allocator (spec.md §3, §4.1), because that reserve/commit
lifecycle — not the column's element type — is the part of this system
the spec calls out as "the hard part" (spec.md §1). The teacher's
`table` package manages its own Go-slice-backed growth internally and
has no reserve/commit hook to splice that lifecycle into, so it is not
used for column storage here; see DESIGN.md for the full account of
what was tried and why it doesn't fit.
*/
package statemanager

import (
	"fmt"
	"unsafe"

	"github.com/TheBitDrifter/bark"

	"github.com/TheBitDrifter/megakernel"
)

// ComponentID is a stable numeric component id, assigned by the host and
// never reused (spec.md §3).
type ComponentID uint32

// Reserved ids for the two implicit columns every archetype carries.
const (
	ComponentEntity  ComponentID = 0
	ComponentWorldID ComponentID = 1

	// userComponentOffset is the fixed constant equal to the count of
	// implicit columns; user components are numbered starting here in a
	// column-index map (spec.md §4.3.2).
	userComponentOffset = 2
)

// ComponentDescriptor is a registered type description: a stable numeric
// id, a power-of-two alignment, and a size in bytes. Components are
// registered at most once per id; registration is write-only append and
// never mutated thereafter (spec.md §3).
type ComponentDescriptor struct {
	ID        ComponentID
	Alignment uint32
	Size      uint32
}

// RegisterComponent registers the component type T at the given id,
// deriving Alignment and Size from T via unsafe.Sizeof/unsafe.Alignof —
// the Go-generics equivalent of the teacher's
// table.FactoryNewElementType[T]()/AccessibleComponent[T] pattern,
// generalized to also carry the spec's explicit numeric id.
//
// Preconditions: id is in [0, MaxComponents) and not previously
// registered. Violating either is a programmer error and aborts
// (spec.md §4.3, §7).
func RegisterComponent[T any](mgr *Manager, id ComponentID) (ComponentDescriptor, error) {
	var zero T
	desc := ComponentDescriptor{
		ID:        id,
		Alignment: uint32(unsafe.Alignof(zero)),
		Size:      uint32(unsafe.Sizeof(zero)),
	}
	if err := mgr.registerComponent(desc); err != nil {
		return ComponentDescriptor{}, err
	}
	return desc, nil
}

func (mgr *Manager) registerComponent(desc ComponentDescriptor) error {
	if int(desc.ID) >= len(mgr.components) {
		err := fmt.Errorf("component id %d out of range [0, %d)", desc.ID, len(mgr.components))
		panic(bark.AddTrace(err))
	}
	if mgr.components[desc.ID] != nil {
		err := megakernel.RegistrationConflictError{Kind: "component", ID: uint32(desc.ID)}
		panic(bark.AddTrace(err))
	}
	d := desc
	mgr.components[desc.ID] = &d
	return nil
}
