package taskgraph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// zeroData implements NodeData and always reports zero dynamic
// invocations, for nodes whose FixedCount is also zero.
type zeroData struct{}

func (zeroData) NumDynamicInvocations(uint32) uint32 { return 0 }

// mapData implements NodeData from a fixed map keyed by DataIDX.
type mapData map[uint32]uint32

func (m mapData) NumDynamicInvocations(dataIDX uint32) uint32 { return m[dataIDX] }

func runToCompletion(t *testing.T, s *Scheduler, numBlocks int, kernel Kernel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Run(ctx, kernel)
	if err := ctx.Err(); err != nil {
		t.Fatalf("scheduler did not drain within deadline: %v", err)
	}
}

// TestEmptyDAG: a scheduler with zero nodes must report Exit immediately
// (spec.md §8 scenario 1).
func TestEmptyDAG(t *testing.T) {
	tracer := NewTracer(64)
	s := NewScheduler(nil, zeroData{}, 4, tracer)
	s.Init()

	bs := NewBlockState()
	asn := s.GetWork(bs, 0)
	if asn.Result != Exit {
		t.Fatalf("want Exit, got %v", asn.Result)
	}
}

// TestFixedSingleNode: a one-node DAG with a fixed invocation count must
// invoke the kernel exactly once per offset in [0, FixedCount), with no
// duplicate or skipped offsets, then Exit (spec.md §8 scenario 2).
func TestFixedSingleNode(t *testing.T) {
	const total = 10_000
	nodes := []*Node{
		{FuncID: 0, FixedCount: total, NumThreadsPerInvocation: 1},
	}
	tracer := NewTracer(64)
	s := NewScheduler(nodes, zeroData{}, 8, tracer)

	seen := make([]atomic.Int32, total)
	kernel := func(dataIDX uint32, offset uint32) {
		seen[offset].Add(1)
	}
	runToCompletion(t, s, 8, kernel)

	for i, c := range seen {
		if got := c.Load(); got != 1 {
			t.Fatalf("offset %d invoked %d times, want exactly 1", i, got)
		}
	}
}

// TestDynamicZeroNodeSkipped: a node whose NumDynamicInvocations
// resolves to zero must never deliver Run/PartialRun and must be
// transparently skipped by the scheduler (spec.md §8 scenario 3).
func TestDynamicZeroNodeSkipped(t *testing.T) {
	nodes := []*Node{
		{FuncID: 0, FixedCount: 0, NumThreadsPerInvocation: 1, DataIDX: 0},
		{FuncID: 1, FixedCount: 5, NumThreadsPerInvocation: 1, DataIDX: 1},
	}
	data := mapData{0: 0, 1: 5}
	tracer := NewTracer(64)
	s := NewScheduler(nodes, data, 4, tracer)

	var firstNodeRuns atomic.Int32
	var secondNodeRuns atomic.Int32
	kernel := func(dataIDX uint32, offset uint32) {
		switch dataIDX {
		case 0:
			firstNodeRuns.Add(1)
		case 1:
			secondNodeRuns.Add(1)
		}
	}
	runToCompletion(t, s, 4, kernel)

	if firstNodeRuns.Load() != 0 {
		t.Fatalf("dynamic-zero node invoked kernel %d times, want 0", firstNodeRuns.Load())
	}
	if secondNodeRuns.Load() != 5 {
		t.Fatalf("second node invoked %d times, want 5", secondNodeRuns.Load())
	}
}

// TestNarrowInvocationPartialWarp: a narrow node (threadsPerInvocation
// below the wide cutoff) whose invocation count does not divide evenly
// into warp-sized chunks must still invoke the kernel exactly once per
// offset, with the tail warp clipped to a partial valid count
// (spec.md §8 scenario 4).
func TestNarrowInvocationPartialWarp(t *testing.T) {
	const total = 100 // not a multiple of warpSize/threadsPerInvocation chunking
	nodes := []*Node{
		{FuncID: 0, FixedCount: total, NumThreadsPerInvocation: 4},
	}
	tracer := NewTracer(64)
	s := NewScheduler(nodes, zeroData{}, 4, tracer, WithGrid(4, 64, 32))

	seen := make([]atomic.Int32, total)
	kernel := func(dataIDX uint32, offset uint32) {
		seen[offset].Add(1)
	}
	runToCompletion(t, s, 4, kernel)

	for i, c := range seen {
		if got := c.Load(); got != 1 {
			t.Fatalf("offset %d invoked %d times, want exactly 1", i, got)
		}
	}
}

// TestMultiNodeOrdering verifies nodes execute strictly in array order:
// no invocation of node i+1 is ever observed before node i has fully
// retired.
func TestMultiNodeOrdering(t *testing.T) {
	const perNode = 2_000
	nodes := []*Node{
		{FuncID: 0, FixedCount: perNode, NumThreadsPerInvocation: 1, DataIDX: 0},
		{FuncID: 1, FixedCount: perNode, NumThreadsPerInvocation: 1, DataIDX: 1},
		{FuncID: 2, FixedCount: perNode, NumThreadsPerInvocation: 1, DataIDX: 2},
	}
	tracer := NewTracer(256)
	s := NewScheduler(nodes, zeroData{}, 8, tracer)

	// Every invocation of node i+1 must find node i fully drained.
	var outOfOrder atomic.Int32
	kernel := func(dataIDX uint32, offset uint32) {
		if dataIDX > 0 && nodes[dataIDX-1].NumRemaining() != 0 {
			outOfOrder.Add(1)
		}
	}

	runToCompletion(t, s, 8, kernel)

	if got := outOfOrder.Load(); got != 0 {
		t.Fatalf("%d invocations ran before the preceding node retired", got)
	}

	// After completion, every node's numRemaining must be zero and
	// curNodeIdx must equal len(nodes) (Exit).
	for i, n := range nodes {
		if n.NumRemaining() != 0 {
			t.Fatalf("node %d left with %d remaining invocations", i, n.NumRemaining())
		}
	}
	if got := s.curNodeIdx.Load(); got != int64(len(nodes)) {
		t.Fatalf("curNodeIdx = %d, want %d (Exit)", got, len(nodes))
	}
}

// TestFuncTableRegisterDispatch exercises the FuncID registry end to end.
func TestFuncTableRegisterDispatch(t *testing.T) {
	ft := NewFuncTable(4)
	var called atomic.Bool
	id, err := ft.Register("noop", func(dataIDX, offset uint32) { called.Store(true) })
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := ft.Lookup("noop")
	if !ok || got != id {
		t.Fatalf("Lookup returned (%v, %v), want (%v, true)", got, ok, id)
	}
	ft.Get(id)(0, 0)
	if !called.Load() {
		t.Fatalf("kernel was not invoked via Get")
	}

	if _, err := ft.Register("noop", func(uint32, uint32) {}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

// TestFuncTableCapacity verifies registration past maxCapacity fails.
func TestFuncTableCapacity(t *testing.T) {
	ft := NewFuncTable(1)
	if _, err := ft.Register("a", func(uint32, uint32) {}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := ft.Register("b", func(uint32, uint32) {}); err == nil {
		t.Fatalf("expected capacity error")
	}
}

// TestBarrierCyclic verifies a Barrier can be reused across multiple
// rounds by a fixed set of goroutines.
func TestBarrierCyclic(t *testing.T) {
	const parties = 8
	const rounds = 50
	b := NewBarrier(parties)

	var counter atomic.Int64
	var wg sync.WaitGroup
	wg.Add(parties)
	for p := 0; p < parties; p++ {
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				counter.Add(1)
				b.Wait()
				// By the time every party has passed Wait once per
				// round, counter must be an exact multiple of parties.
				if counter.Load()%parties != 0 {
					t.Errorf("round %d: counter %d not a multiple of %d", r, counter.Load(), parties)
				}
				b.Wait()
			}
		}()
	}
	wg.Wait()
}

// TestTracerDrainOrderAndOverflow verifies Drain returns events in
// insertion order both before and after the ring wraps.
func TestTracerDrainOrderAndOverflow(t *testing.T) {
	tr := NewTracer(4)
	for i := 0; i < 3; i++ {
		tr.Trace(EventNodeStart, FuncID(i), 0, 0, i)
	}
	events := tr.Drain()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, e := range events {
		if e.FuncID != FuncID(i) {
			t.Fatalf("event %d has FuncID %d, want %d", i, e.FuncID, i)
		}
	}

	// Overflow: push 3 more (total 6 into a capacity-4 ring); the oldest
	// two (FuncID 0, 1) are lost, survivors are 2,3,4,5 in order.
	for i := 3; i < 6; i++ {
		tr.Trace(EventNodeStart, FuncID(i), 0, 0, i)
	}
	events = tr.Drain()
	if len(events) != 4 {
		t.Fatalf("got %d events after overflow, want 4", len(events))
	}
	want := []FuncID{2, 3, 4, 5}
	for i, e := range events {
		if e.FuncID != want[i] {
			t.Fatalf("event %d has FuncID %d, want %d", i, e.FuncID, want[i])
		}
	}
}
