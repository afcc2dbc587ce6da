package statemanager

import (
	"sync/atomic"

	"github.com/TheBitDrifter/bark"
	"github.com/TheBitDrifter/mask"

	"github.com/TheBitDrifter/megakernel"
)

// sentinelUncompiled marks a CompiledQuery that has not yet been compiled.
// It doubles as the guard for make_query's idempotent fast path (spec.md
// §4.3.3).
const sentinelUncompiled = 0xFFFFFFFF

// CompiledQuery holds a compiled query: an offset into the shared
// query-data arena, a count of matching archetypes, and the number of
// components requested (spec.md §3 Query). Once compiled, a query's
// data is immutable; compilation is idempotent.
//
// The arena layout per matching archetype is
// [archetype_id, col_idx_for_component_0, ..., col_idx_for_component_{k-1}].
//
// NumMatchingArchetypes is the publication field: it is written last,
// with release semantics, and readers load it first, with acquire
// semantics, so any reader that observes a non-sentinel value also
// observes a fully-written Offset and NumComponents.
type CompiledQuery struct {
	Offset                uint32
	numMatchingArchetypes atomic.Uint32
	NumComponents         uint32
}

// NewCompiledQuery returns an uncompiled query, ready to pass to
// Manager.MakeQuery.
func NewCompiledQuery() *CompiledQuery {
	q := &CompiledQuery{}
	q.numMatchingArchetypes.Store(sentinelUncompiled)
	return q
}

// NumMatchingArchetypes returns the compiled match count, or the
// sentinel if the query has not yet been compiled.
func (q *CompiledQuery) NumMatchingArchetypes() uint32 {
	return q.numMatchingArchetypes.Load()
}

// Compiled reports whether make_query has published this query.
func (q *CompiledQuery) Compiled() bool {
	return q.numMatchingArchetypes.Load() != sentinelUncompiled
}

// Match is one matching archetype's record: its id, plus a column index
// per requested component.
type Match struct {
	ArchetypeID  ArchetypeID
	ColumnIndex []int32
}

// MakeQuery compiles a query idempotently under a single mutex
// (spec.md §4.3.3). If another worker already won the compilation race
// (q.NumMatchingArchetypes() != sentinel), it returns immediately.
//
// Archetypes are scanned in ascending id order; the emitted match list
// preserves that order (spec.md §4.3 "Tie-breaks and ordering").
// Entity is always treated as present and is skipped during the
// membership test. Any other requested id that is not registered is a
// programmer error and aborts.
func (mgr *Manager) MakeQuery(componentIDs []ComponentID, q *CompiledQuery) {
	if q.numMatchingArchetypes.Load() != sentinelUncompiled {
		return
	}

	mgr.queryMu.Lock()
	defer mgr.queryMu.Unlock()

	// Re-check under the lock: another goroutine may have compiled this
	// exact query object while we were waiting.
	if q.numMatchingArchetypes.Load() != sentinelUncompiled {
		return
	}

	var want mask.Mask
	for _, cid := range componentIDs {
		if cid == ComponentEntity {
			continue
		}
		if int(cid) >= len(mgr.components) || mgr.components[cid] == nil {
			panic(bark.AddTrace(megakernel.UnassignedComponentError{ID: uint32(cid)}))
		}
		want.Mark(uint32(cid))
	}

	offset := uint32(len(mgr.queryArena))
	numMatches := uint32(0)

	for _, arch := range mgr.archetypes {
		if !arch.mask.ContainsAll(want) {
			continue
		}
		mgr.queryArena = append(mgr.queryArena, uint32(arch.id))
		for _, cid := range componentIDs {
			var col int32
			switch cid {
			case ComponentEntity:
				col = 0
			case ComponentWorldID:
				col = 1
			default:
				col = arch.ColumnIndex(cid)
			}
			mgr.queryArena = append(mgr.queryArena, uint32(col))
		}
		numMatches++
	}

	q.Offset = offset
	q.NumComponents = uint32(len(componentIDs))
	q.numMatchingArchetypes.Store(numMatches) // publish: release
}

// Matches reads the compiled match list for q out of the shared arena.
// Callers must only call this after observing q.Compiled().
//
// It takes queryMu for the duration of the read: mgr.queryArena is a
// plain slice field that MakeQuery grows with append, which can
// reallocate the backing array, so a concurrent Matches call reading
// that same slice header without the lock would race with a MakeQuery
// call compiling a different (or not-yet-compiled) query.
func (mgr *Manager) Matches(q *CompiledQuery) []Match {
	n := q.numMatchingArchetypes.Load() // acquire
	if n == sentinelUncompiled {
		return nil
	}

	mgr.queryMu.Lock()
	defer mgr.queryMu.Unlock()

	stride := 1 + int(q.NumComponents)
	matches := make([]Match, 0, n)
	base := int(q.Offset)
	for i := uint32(0); i < n; i++ {
		row := mgr.queryArena[base+int(i)*stride : base+int(i)*stride+stride]
		cols := make([]int32, q.NumComponents)
		for j, v := range row[1:] {
			cols[j] = int32(v)
		}
		matches = append(matches, Match{
			ArchetypeID: ArchetypeID(row[0]),
			ColumnIndex: cols,
		})
	}
	return matches
}
