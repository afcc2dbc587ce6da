package taskgraph

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheBitDrifter/bark"

	"github.com/TheBitDrifter/megakernel"
	"github.com/TheBitDrifter/megakernel/log"
)

var logger = log.WithComponent("taskgraph")

// WorkResult is the outcome of one get_work call (spec.md §4.4).
type WorkResult int

const (
	// Exit means cur_node_idx has reached num_nodes: the DAG is drained.
	Exit WorkResult = iota
	// Loop means another block may still be advancing this node, or this
	// block's current chunk is exhausted; back off and retry.
	Loop
	// PartialRun means every claimed fragment lies past
	// totalNumInvocations (zero valid invocations). claim drops such
	// fragments, so GetWork reports Loop in that case; a fragment that
	// runs only partly past the end comes back under Run with its Valid
	// count clipped.
	PartialRun
	// Run delivers one resolved (node, offset range) to execute.
	Run
)

// Fragment is one atomically-claimed, possibly-partial slice of
// invocation offsets. Narrow nodes produce several independent
// fragments per get_work call (one per warp); wide nodes produce one.
type Fragment struct {
	Base  uint32
	Count uint32 // claimed width; may extend past totalNumInvocations
	Valid uint32 // count actually < totalNumInvocations, i.e. runnable
}

// Assignment is what get_work hands back to a block.
type Assignment struct {
	Result    WorkResult
	FuncID    FuncID
	DataIDX   uint32
	Fragments []Fragment

	node *Node
}

// BlockState is the per-block scratch spec.md §3 calls Shared Block
// State: the currently executing node index and its cached invocation
// parameters (threadsPerInvocation and total). It does not keep the
// block's claimed offsets; those travel in each Assignment's Fragments.
// It is transient and re-derived on each node transition, and — per
// spec.md §5 — never read by any other block.
type BlockState struct {
	nodeIdx              int // -1: no assignment
	threadsPerInvocation uint32
	total                uint32
}

// NewBlockState returns a fresh, unassigned block state (nodeIdx == -1).
func NewBlockState() *BlockState {
	return &BlockState{nodeIdx: -1}
}

// Scheduler drives a pre-sorted DAG of nodes across a fixed grid of
// blocks (spec.md §4.4). cur_node_idx uses acquire/release ordering
// (here, Go's sequentially-consistent atomics) to fence the publication
// of the next node's counters; numRemaining's fetch_sub establishes the
// retirer; curOffset is a plain relaxed fetch_add because causality is
// already established through numRemaining.
type Scheduler struct {
	nodes []*Node
	data  NodeData

	curNodeIdx atomic.Int64

	numBlocks            int
	numThreadsPerBlock   uint32
	warpSize             uint32
	wideInvocationCutoff uint32

	tracer *Tracer

	initOnce sync.Once
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithGrid overrides the default grid shape taken from
// megakernel.Config (NumThreadsPerBlock, WarpSize).
func WithGrid(numBlocks int, numThreadsPerBlock, warpSize uint32) Option {
	return func(s *Scheduler) {
		s.numBlocks = numBlocks
		s.numThreadsPerBlock = numThreadsPerBlock
		s.warpSize = warpSize
	}
}

// NewScheduler constructs a Scheduler over a topologically-sorted node
// array (spec.md §6 "Inputs from the host"). Its grid-shape defaults come
// from megakernel.Config, the host-wide settings a launcher sets before
// any run starts; WithGrid overrides them per-Scheduler.
func NewScheduler(nodes []*Node, data NodeData, numBlocks int, tracer *Tracer, opts ...Option) *Scheduler {
	s := &Scheduler{
		nodes:                nodes,
		data:                 data,
		numBlocks:            numBlocks,
		numThreadsPerBlock:   uint32(megakernel.Config.NumThreadsPerBlock),
		warpSize:             uint32(megakernel.Config.WarpSize),
		wideInvocationCutoff: uint32(megakernel.Config.WideInvocationCutoff),
		tracer:               tracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init resets per-run state: the first non-empty node's counters and
// cur_node_idx. Exactly one caller should invoke this (spec.md §4.4:
// "Exactly one thread (block 0, thread 0) resets per-run state"); it is
// guarded by sync.Once so redundant calls from multiple goroutines are
// harmless.
func (s *Scheduler) Init() {
	s.initOnce.Do(func() {
		start := s.advanceToNextNonEmpty(0)
		s.curNodeIdx.Store(int64(start))
		s.tracer.Trace(EventCalibration, 0, 0, 0, start)
	})
}

// advanceToNextNonEmpty scans forward from `from`, skipping any node
// whose computeNumInvocations returns 0 (spec.md §4.4 "Work
// completion": "dynamic nodes may legitimately be empty"), and starts
// the first non-empty node it finds. Returns len(s.nodes) if none
// remain, the Exit sentinel.
func (s *Scheduler) advanceToNextNonEmpty(from int) int {
	for i := from; i < len(s.nodes); i++ {
		n := s.nodes[i]
		total := computeNumInvocations(n, s.data)
		if total == 0 {
			continue
		}
		n.start(total)
		s.tracer.Trace(EventNodeStart, n.FuncID, total, 0, i)
		return i
	}
	return len(s.nodes)
}

// GetWork implements get_work (spec.md §4.4). Each call may claim zero
// or more fragments of the active node's offset space, clipped to
// totalNumInvocations.
func (s *Scheduler) GetWork(bs *BlockState, blockID int) Assignment {
	idx := int(s.curNodeIdx.Load()) // acquire
	if idx == len(s.nodes) {
		s.tracer.Trace(EventBlockExit, 0, 0, uint32(blockID), idx)
		return Assignment{Result: Exit}
	}

	node := s.nodes[idx]
	if bs.nodeIdx != idx {
		bs.nodeIdx = idx
		bs.threadsPerInvocation = node.NumThreadsPerInvocation
		bs.total = node.TotalNumInvocations()
		s.tracer.Trace(EventBlockStart, node.FuncID, 0, uint32(blockID), idx)
	}

	fragments := s.claim(node, bs.threadsPerInvocation, bs.total)
	if len(fragments) == 0 {
		s.tracer.loops.Inc()
		return Assignment{Result: Loop}
	}

	result := PartialRun
	for _, f := range fragments {
		if f.Valid > 0 {
			result = Run
			break
		}
	}

	return Assignment{
		Result:    result,
		FuncID:    node.FuncID,
		DataIDX:   node.DataIDX,
		Fragments: fragments,
		node:      node,
	}
}

// claim performs one round of chunk acquisition. Wide invocations
// (threadsPerInvocation > wideInvocationCutoff) claim a single
// block-sized chunk; narrow invocations claim one warp-sized chunk per
// warp in the block, each an independent fetch_add against the same
// relaxed curOffset counter (spec.md §4.4 "Work acquisition").
func (s *Scheduler) claim(node *Node, threadsPerInvocation, total uint32) []Fragment {
	if threadsPerInvocation == 0 {
		threadsPerInvocation = 1
	}

	clip := func(base, count uint32) Fragment {
		f := Fragment{Base: base, Count: count}
		if base >= total {
			return f
		}
		valid := count
		if base+valid > total {
			valid = total - base
		}
		f.Valid = valid
		return f
	}

	if threadsPerInvocation > s.wideInvocationCutoff {
		chunk := s.numThreadsPerBlock / threadsPerInvocation
		if chunk == 0 {
			chunk = 1
		}
		base := node.curOffset.Add(chunk) - chunk
		if base >= total {
			return nil
		}
		return []Fragment{clip(base, chunk)}
	}

	warps := s.numThreadsPerBlock / s.warpSize
	if warps == 0 {
		warps = 1
	}
	perWarp := s.warpSize / threadsPerInvocation
	if perWarp == 0 {
		perWarp = 1
	}

	fragments := make([]Fragment, 0, warps)
	anyUseful := false
	for w := uint32(0); w < warps; w++ {
		base := node.curOffset.Add(perWarp) - perWarp
		if base >= total {
			continue // this warp's claim is entirely past the end; nothing to run or account
		}
		anyUseful = true
		fragments = append(fragments, clip(base, perWarp))
	}
	if !anyUseful {
		return nil
	}
	return fragments
}

// FinishWork implements finish_work (spec.md §4.4). The leader accounts
// for every finished invocation in this assignment; if doing so drives
// numRemaining to exactly zero, this caller is the grid-wide retirer and
// advances the DAG.
func (s *Scheduler) FinishWork(bs *BlockState, asn Assignment, blockID int) {
	if asn.node == nil {
		return
	}

	var validTotal uint32
	for _, f := range asn.Fragments {
		validTotal += f.Valid
	}
	if validTotal == 0 {
		return
	}

	remaining := subUint32(&asn.node.numRemaining, validTotal)
	if remaining != 0 {
		return
	}

	s.retire(bs.nodeIdx, blockID)
}

// retire advances cur_node_idx past the node that just drained to zero,
// skipping empty dynamic successors, then publishes the new index with
// release semantics so other blocks observe it in GetWork.
func (s *Scheduler) retire(finishedIdx int, blockID int) {
	s.tracer.Trace(EventNodeFinish, s.nodes[finishedIdx].FuncID, 0, uint32(blockID), finishedIdx)
	s.tracer.retirements.Inc()

	next := s.advanceToNextNonEmpty(finishedIdx + 1)
	s.curNodeIdx.Store(int64(next)) // release
}

// subUint32 atomically subtracts delta from *v and returns the
// post-subtraction value (the atomic.Uint32 equivalent of
// fetch_sub_acq_rel).
func subUint32(v *atomic.Uint32, delta uint32) uint32 {
	return v.Add(^(delta - 1))
}

// Run drives a goroutine-per-block simulation of the megakernel to
// completion: Init, then every block loops GetWork/execute/FinishWork
// until it observes Exit. This is the host-facing entry point the
// hardware's persistent kernel launch corresponds to.
func (s *Scheduler) Run(ctx context.Context, kernel Kernel) {
	s.Init()

	var wg sync.WaitGroup
	wg.Add(s.numBlocks)
	for b := 0; b < s.numBlocks; b++ {
		go func(blockID int) {
			defer wg.Done()
			s.runBlock(ctx, blockID, kernel)
		}(b)
	}
	wg.Wait()
}

func (s *Scheduler) runBlock(ctx context.Context, blockID int, kernel Kernel) {
	bs := NewBlockState()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		asn := s.GetWork(bs, blockID)
		switch asn.Result {
		case Exit:
			return
		case Loop:
			time.Sleep(0)
			continue
		case Run, PartialRun:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error().Interface("panic", r).Msg("user kernel fault; run abandoned")
						panic(bark.AddTrace(KernelFaultError{FuncID: asn.FuncID, Cause: r}))
					}
				}()
				for _, f := range asn.Fragments {
					for off := f.Base; off < f.Base+f.Valid; off++ {
						kernel(asn.DataIDX, off)
					}
				}
			}()
			s.tracer.Trace(EventBlockWait, asn.FuncID, 0, uint32(blockID), bs.nodeIdx)
			s.FinishWork(bs, asn, blockID)
		}
	}
}

// KernelFaultError reports an unrecoverable panic inside a user kernel
// (spec.md §7 "User-kernel fault"). The megakernel has no rollback: the
// entire run is abandoned.
type KernelFaultError struct {
	FuncID FuncID
	Cause  any
}

func (e KernelFaultError) Error() string {
	return "user kernel fault: run abandoned"
}
