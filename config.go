package megakernel

// Config holds process-wide constants supplied by the host before launch.
// It follows the teacher library's package-level singleton pattern
// (warehouse.Config): a struct with non-zero defaults and setters.
// host.NewLauncher writes NumWorlds and the grid shape into it, and
// taskgraph.NewScheduler reads NumThreadsPerBlock, WarpSize, and
// WideInvocationCutoff from it; no other subsystem reads it.
var Config config = config{
	NumBlocks:            1,
	NumThreadsPerBlock:   256,
	WarpSize:             32,
	WideInvocationCutoff: 32,
}

type config struct {
	// NumWorlds is the number of simultaneously simulated worlds. It is a
	// record only: archetype columns size their initial commit from
	// statemanager.Limits.NumWorlds, not from this field.
	NumWorlds int

	// NumBlocks and NumThreadsPerBlock describe the fixed grid the
	// megakernel is launched with (spec.md §6).
	NumBlocks          int
	NumThreadsPerBlock int

	// WarpSize is the SIMD lockstep width (spec.md §5); 32 on the hardware
	// this spec targets, configurable for simulation/testing.
	WarpSize int

	// WideInvocationCutoff is the threadsPerInvocation threshold above
	// which a node is scheduled as "wide" rather than "narrow" (spec.md §4.4).
	WideInvocationCutoff int
}

// SetGrid configures the fixed grid dimensions the megakernel launches with.
func (c *config) SetGrid(numBlocks, numThreadsPerBlock int) {
	c.NumBlocks = numBlocks
	c.NumThreadsPerBlock = numThreadsPerBlock
}

// SetNumWorlds configures the number of simultaneously simulated worlds.
func (c *config) SetNumWorlds(n int) {
	c.NumWorlds = n
}
