/*
Package taskgraph implements the Task-Graph Scheduler (spec.md §4.4): a
persistent, cooperatively-scheduled work distributor that drives a
pre-sorted DAG of compute nodes across many worker groups inside a
single long-running kernel launch.

The teacher library has no concurrency subsystem of its own (warehouse
is single-threaded outside its one query-compile mutex), so this
package's structure is grounded instead in the pack's goroutine-pool
and atomic-refcount idioms (cuemby-warren/pkg/worker,
cuemby-warren/pkg/scheduler, and the qubicDB brain_worker.go /
go-ublk queue runner atomic bookkeeping in other_examples/). Each
hardware "block" of lockstep lanes becomes one goroutine; "warps" and
"lanes" are re-expressed as independent atomic claims against a node's
curOffset counter rather than literal SIMD ballots, per spec.md §9's
guidance that thread-local/warp concepts need a portable re-expression.
*/
package taskgraph

import "sync/atomic"

// FuncID identifies a DAG node's kernel function, resolved through a
// function table built at graph-compile time (spec.md §9).
type FuncID uint32

// Node is a scheduling record (spec.md §3). The last three fields are
// atomic counters; everything else is fixed at graph-compile time and
// never mutated after the node is built.
type Node struct {
	FuncID                  FuncID
	DataIDX                 uint32
	FixedCount              uint32 // 0 means the count is dynamic
	NumThreadsPerInvocation uint32

	curOffset           atomic.Uint32
	numRemaining        atomic.Uint32
	totalNumInvocations atomic.Uint32
}

// TotalNumInvocations returns the node's invocation count, valid once
// the node has been started by the scheduler.
func (n *Node) TotalNumInvocations() uint32 { return n.totalNumInvocations.Load() }

// NumRemaining returns the node's outstanding invocation count.
func (n *Node) NumRemaining() uint32 { return n.numRemaining.Load() }

// CurOffset returns the node's current claim cursor.
func (n *Node) CurOffset() uint32 { return n.curOffset.Load() }

// NodeData supplies the per-node user-data header dynamic nodes read at
// node-start time (spec.md §3, §4.4 "Invocation counting"). It stands in
// for the original's inheritance-style NodeBase.userData pointer.
type NodeData interface {
	// NumDynamicInvocations returns the node-data arena's
	// numDynamicInvocations field for the node at dataIDX. It is called
	// exactly once per node activation and must be stable for the
	// node's active duration.
	NumDynamicInvocations(dataIDX uint32) uint32
}

// computeNumInvocations returns FixedCount if non-zero; otherwise the
// node's user-data header field, read once at node-start time
// (spec.md §4.4).
func computeNumInvocations(n *Node, data NodeData) uint32 {
	if n.FixedCount != 0 {
		return n.FixedCount
	}
	return data.NumDynamicInvocations(n.DataIDX)
}

// start initializes a node's counters with relaxed stores, matching
// spec.md §4.4's transition rule: "the leader... initialized the next
// node's counters with relaxed stores" before publishing cur_node_idx.
func (n *Node) start(total uint32) {
	n.totalNumInvocations.Store(total)
	n.numRemaining.Store(total)
	n.curOffset.Store(0)
}
