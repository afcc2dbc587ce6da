/*
Package megakernel provides the core of a massively-parallel
Entity-Component-System execution engine for many-world simulation on
a wide-SIMD accelerator.

It combines two tightly coupled subsystems:

  - statemanager: columnar storage of entities, components, and
    archetypes, plus the query-compilation mechanism that resolves
    which archetype columns satisfy a multi-component query.
  - taskgraph: a persistent, cooperatively-scheduled work distributor
    that drives a pre-sorted DAG of compute nodes across many worker
    groups inside a single long-running kernel launch.

Basic Usage:

	mgr := statemanager.New(statemanager.Limits{
		MaxComponents:          64,
		MaxArchetypeComponents: 16,
		MaxRowsPerTable:        1 << 20,
		NumWorlds:              4,
	}, alloc.NewMmapAllocator())

	position, _ := statemanager.RegisterComponent[Position](mgr, 2)
	velocity, _ := statemanager.RegisterComponent[Velocity](mgr, 3)

	arch, _ := mgr.RegisterArchetype(1, []statemanager.ComponentID{position.ID, velocity.ID})

	q := statemanager.NewCompiledQuery()
	mgr.MakeQuery([]statemanager.ComponentID{position.ID, velocity.ID}, q)

	sched := taskgraph.NewScheduler(nodes, data, numBlocks, taskgraph.NewTracer(1024))
	sched.Run(ctx, kernel)

megakernel is the underlying execution core for the Bappa simulation
framework but also works as a standalone engine.
*/
package megakernel
