package taskgraph

import "sync"

// Barrier is a reusable (cyclic) arrival barrier with a fixed party
// count, modelled on init_barrier and the per-block __syncthreads of
// spec.md §4.4. Scheduler does not use it: Run calls Init before it
// starts any block goroutine, and each block is a single goroutine. It
// is a standard sync.Cond-guarded generation
// counter, the idiom the pack's goroutine-pool code
// (cuemby-warren/pkg/worker, pkg/scheduler) uses for coordinating
// fixed-size worker groups.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
}

// NewBarrier constructs a Barrier for the given number of parties.
func NewBarrier(parties int) *Barrier {
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until `parties` goroutines have called Wait, then releases
// all of them and resets for the next round.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.generation
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		return
	}
	for gen == b.generation {
		b.cond.Wait()
	}
}
