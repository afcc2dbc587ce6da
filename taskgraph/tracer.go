package taskgraph

import (
	"encoding/binary"
	"io"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// EventTag identifies a tracing boundary (spec.md §4.4 "Tracing").
type EventTag int32

const (
	EventCalibration EventTag = iota
	EventNodeStart
	EventNodeFinish
	EventBlockStart
	EventBlockWait
	EventBlockExit
)

// Event is a bounded event record appended to the per-device tracing
// ring buffer on each notable boundary.
type Event struct {
	Tag     EventTag
	FuncID  FuncID
	A, B    uint32
	NodeIdx int32
}

// Tracer is a best-effort, fixed-capacity ring buffer drained by the
// host between runs (spec.md §4.4, §6). Overflow silently wraps: the
// ring index is a single atomic counter, so a lagging host simply loses
// the oldest unread events rather than blocking a worker group.
type Tracer struct {
	buf []Event
	idx atomic.Uint64

	retirements prometheus.Counter
	loops       prometheus.Counter
}

// NewTracer allocates a ring buffer with the given capacity.
func NewTracer(capacity int) *Tracer {
	return &Tracer{
		buf: make([]Event, capacity),
		retirements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "megakernel_taskgraph_node_retirements_total",
			Help: "Number of DAG nodes retired by the scheduler.",
		}),
		loops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "megakernel_taskgraph_loop_total",
			Help: "Number of Loop (yield-and-retry) results returned by get_work.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (t *Tracer) Describe(ch chan<- *prometheus.Desc) {
	t.retirements.Describe(ch)
	t.loops.Describe(ch)
}

// Collect implements prometheus.Collector.
func (t *Tracer) Collect(ch chan<- prometheus.Metric) {
	t.retirements.Collect(ch)
	t.loops.Collect(ch)
}

// Trace appends a bounded event record. It is safe for concurrent use
// from any number of worker groups.
func (t *Tracer) Trace(tag EventTag, funcID FuncID, a, b uint32, nodeIdx int) {
	if len(t.buf) == 0 {
		return
	}
	slot := t.idx.Add(1) - 1
	t.buf[slot%uint64(len(t.buf))] = Event{
		Tag: tag, FuncID: funcID, A: a, B: b, NodeIdx: int32(nodeIdx),
	}
}

// Drain returns a snapshot of the ring buffer's contents in insertion
// order (oldest-first among whatever has not been overwritten). The
// host is responsible for serialization (spec.md §6).
func (t *Tracer) Drain() []Event {
	n := t.idx.Load()
	cap64 := uint64(len(t.buf))
	if cap64 == 0 {
		return nil
	}
	if n >= cap64 {
		out := make([]Event, cap64)
		start := n % cap64
		copy(out, t.buf[start:])
		copy(out[cap64-start:], t.buf[:start])
		return out
	}
	out := make([]Event, n)
	copy(out, t.buf[:n])
	return out
}

// EncodeTo writes the persisted tracing file format from spec.md §6: a
// binary blob of concatenated int64 values, first N event tags, then N
// timestamps. The core has no wall-clock notion of its own, so the
// timestamp stream here is the emission index — a monotonic per-event
// sequence number — which the host may translate to real timestamps
// when it drains alongside its own clock.
func (t *Tracer) EncodeTo(w io.Writer) error {
	events := t.Drain()
	var tmp [8]byte
	for _, e := range events {
		binary.LittleEndian.PutUint64(tmp[:], uint64(int64(e.Tag)))
		if _, err := w.Write(tmp[:]); err != nil {
			return err
		}
	}
	for i := range events {
		binary.LittleEndian.PutUint64(tmp[:], uint64(i))
		if _, err := w.Write(tmp[:]); err != nil {
			return err
		}
	}
	return nil
}
