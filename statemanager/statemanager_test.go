package statemanager

import (
	"sync"
	"testing"

	"github.com/TheBitDrifter/megakernel/alloc"
)

type Position struct{ X, Y float64 }
type Velocity struct{ X, Y float64 }
type Health struct{ HP int32 }

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(Limits{
		MaxComponents:          16,
		MaxArchetypes:          16,
		MaxArchetypeComponents: 8,
		MaxRowsPerTable:        1 << 16,
		NumWorlds:              2,
	}, alloc.NewMmapAllocator())
}

// TestQueryOverTwoArchetypes reproduces spec.md §8 scenario 5.
func TestQueryOverTwoArchetypes(t *testing.T) {
	mgr := newTestManager(t)

	pos, err := RegisterComponent[Position](mgr, 2)
	if err != nil {
		t.Fatalf("RegisterComponent(Position) failed: %v", err)
	}
	vel, err := RegisterComponent[Velocity](mgr, 3)
	if err != nil {
		t.Fatalf("RegisterComponent(Velocity) failed: %v", err)
	}
	health, err := RegisterComponent[Health](mgr, 4)
	if err != nil {
		t.Fatalf("RegisterComponent(Health) failed: %v", err)
	}

	archX, err := mgr.RegisterArchetype(1, []ComponentID{pos.ID, vel.ID, health.ID})
	if err != nil {
		t.Fatalf("RegisterArchetype(X) failed: %v", err)
	}
	archY, err := mgr.RegisterArchetype(2, []ComponentID{pos.ID, health.ID})
	if err != nil {
		t.Fatalf("RegisterArchetype(Y) failed: %v", err)
	}

	q1 := NewCompiledQuery()
	mgr.MakeQuery([]ComponentID{pos.ID, vel.ID}, q1)
	if got := q1.NumMatchingArchetypes(); got != 1 {
		t.Fatalf("query[pos,vel] matched %d archetypes, want 1", got)
	}
	matches := mgr.Matches(q1)
	if matches[0].ArchetypeID != archX.ID() {
		t.Fatalf("query[pos,vel] matched archetype %d, want X (%d)", matches[0].ArchetypeID, archX.ID())
	}
	if matches[0].ColumnIndex[0] != archX.ColumnIndex(pos.ID) || matches[0].ColumnIndex[1] != archX.ColumnIndex(vel.ID) {
		t.Fatalf("query[pos,vel] column indices %v don't match archetype X's layout", matches[0].ColumnIndex)
	}

	q2 := NewCompiledQuery()
	mgr.MakeQuery([]ComponentID{pos.ID}, q2)
	if got := q2.NumMatchingArchetypes(); got != 2 {
		t.Fatalf("query[pos] matched %d archetypes, want 2", got)
	}
	matches = mgr.Matches(q2)
	if matches[0].ArchetypeID != archX.ID() || matches[1].ArchetypeID != archY.ID() {
		t.Fatalf("query[pos] matches not in ascending archetype id order: %+v", matches)
	}
}

// TestQueryOrderIndependentOfRegistrationOrder registers archetypes
// with descending ids and checks the match list is still ordered by
// ascending archetype id (spec.md §4.3, §8), not registration order.
func TestQueryOrderIndependentOfRegistrationOrder(t *testing.T) {
	mgr := newTestManager(t)
	pos, _ := RegisterComponent[Position](mgr, 2)

	if _, err := mgr.RegisterArchetype(5, []ComponentID{pos.ID}); err != nil {
		t.Fatalf("RegisterArchetype(5) failed: %v", err)
	}
	if _, err := mgr.RegisterArchetype(2, []ComponentID{pos.ID}); err != nil {
		t.Fatalf("RegisterArchetype(2) failed: %v", err)
	}
	if _, err := mgr.RegisterArchetype(9, []ComponentID{pos.ID}); err != nil {
		t.Fatalf("RegisterArchetype(9) failed: %v", err)
	}

	ids := make([]ArchetypeID, len(mgr.Archetypes()))
	for i, a := range mgr.Archetypes() {
		ids[i] = a.ID()
	}
	want := []ArchetypeID{2, 5, 9}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("Archetypes() order = %v, want ascending id order %v", ids, want)
		}
	}

	q := NewCompiledQuery()
	mgr.MakeQuery([]ComponentID{pos.ID}, q)
	matches := mgr.Matches(q)
	if len(matches) != 3 {
		t.Fatalf("matched %d archetypes, want 3", len(matches))
	}
	for i, id := range want {
		if matches[i].ArchetypeID != id {
			t.Fatalf("match order = %+v, want ascending id order %v", matches, want)
		}
	}
}

// TestMakeQueryIdempotentConcurrent reproduces spec.md §8's query
// idempotence law: k concurrent compilers yield one compiled record.
func TestMakeQueryIdempotentConcurrent(t *testing.T) {
	mgr := newTestManager(t)
	pos, _ := RegisterComponent[Position](mgr, 2)
	vel, _ := RegisterComponent[Velocity](mgr, 3)

	for i := 0; i < 20; i++ {
		mgr.RegisterArchetype(ArchetypeID(i+1), []ComponentID{pos.ID, vel.ID})
	}

	q := NewCompiledQuery()
	const workers = 16
	var wg sync.WaitGroup
	results := make([]uint32, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			mgr.MakeQuery([]ComponentID{pos.ID, vel.ID}, q)
			results[w] = q.NumMatchingArchetypes()
		}(w)
	}
	wg.Wait()

	for _, r := range results {
		if r != 20 {
			t.Fatalf("observer saw NumMatchingArchetypes=%d, want 20 for all observers", r)
		}
	}
}

// TestRegisterComponentDuplicatePanics checks the programmer-error
// abort path from spec.md §4.3/§7.
func TestRegisterComponentDuplicatePanics(t *testing.T) {
	mgr := newTestManager(t)
	if _, err := RegisterComponent[Position](mgr, 5); err != nil {
		t.Fatalf("first RegisterComponent failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate component registration")
		}
	}()
	RegisterComponent[Position](mgr, 5)
}

// TestClearTemporariesResetsRows checks spec.md §4.3.4.
func TestClearTemporariesResetsRows(t *testing.T) {
	mgr := newTestManager(t)
	pos, _ := RegisterComponent[Position](mgr, 2)
	arch, err := mgr.RegisterArchetype(1, []ComponentID{pos.ID})
	if err != nil {
		t.Fatalf("RegisterArchetype failed: %v", err)
	}

	if _, err := arch.ClaimRows(10); err != nil {
		t.Fatalf("ClaimRows failed: %v", err)
	}
	if arch.NumRows() != 10 {
		t.Fatalf("NumRows() = %d, want 10", arch.NumRows())
	}

	mgr.ClearTemporaries(arch.ID())
	if arch.NumRows() != 0 {
		t.Fatalf("NumRows() after ClearTemporaries = %d, want 0", arch.NumRows())
	}
}
