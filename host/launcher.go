package host

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/TheBitDrifter/megakernel"
	"github.com/TheBitDrifter/megakernel/alloc"
	"github.com/TheBitDrifter/megakernel/entitystore"
	"github.com/TheBitDrifter/megakernel/statemanager"
	"github.com/TheBitDrifter/megakernel/taskgraph"
)

// RunConfig bundles the compile-time capacities a Launcher sizes its
// subsystems with, the megakernel counterpart of a CUDA grid launch's
// configuration struct.
type RunConfig struct {
	Limits          statemanager.Limits
	MaxEntities     int
	NumBlocks       int
	TracingCapacity int
}

// Launcher owns one run's State Manager, Entity Store, and Task-Graph
// Scheduler, and drives the scheduler's fixed block grid to completion.
// It is the nearest in-process counterpart to spec.md §6's host/device
// boundary: everything below this type could equally be invoked from
// across that boundary.
type Launcher struct {
	Manager  *statemanager.Manager
	Entities *entitystore.Store
	Tracer   *taskgraph.Tracer

	// Registry collects Tracer's node-retirement and loop counters.
	// Metrics exposes it over HTTP the way cuemby-warren's pkg/metrics
	// wires a Collector into a scrape endpoint.
	Registry *prometheus.Registry

	scheduler *taskgraph.Scheduler
}

// NewLauncher constructs a Launcher's subsystems against one RunConfig.
// It also records cfg's grid shape and world count into megakernel.Config,
// the host-wide settings NewScheduler reads its defaults from, before any
// subsystem that depends on them is constructed.
//
// It does not start the scheduler; call Run with the pre-sorted node
// array once the caller has finished registering components,
// archetypes, and queries.
func NewLauncher(cfg RunConfig, allocator alloc.Allocator) *Launcher {
	megakernel.Config.SetNumWorlds(cfg.Limits.NumWorlds)
	megakernel.Config.SetGrid(cfg.NumBlocks, megakernel.Config.NumThreadsPerBlock)

	mgr := statemanager.New(cfg.Limits, allocator)
	entities := entitystore.New(cfg.MaxEntities)
	tracer := taskgraph.NewTracer(cfg.TracingCapacity)

	registry := prometheus.NewRegistry()
	registry.MustRegister(tracer)

	logger.Info().
		Int("maxEntities", cfg.MaxEntities).
		Int("numBlocks", cfg.NumBlocks).
		Msg("launcher constructed")

	return &Launcher{
		Manager:  mgr,
		Entities: entities,
		Tracer:   tracer,
		Registry: registry,
	}
}

// Metrics returns an http.Handler serving Registry in the Prometheus
// exposition format, for a caller to mount at e.g. /metrics.
func (l *Launcher) Metrics() http.Handler {
	return promhttp.HandlerFor(l.Registry, promhttp.HandlerOpts{})
}

// Run builds a Scheduler over nodes/data and drives it to completion
// across cfg.NumBlocks goroutines, using an errgroup.Group the way a
// host fans work across a fixed-size grid and joins on the first
// failure — the one place in this repo a user kernel's panic needs to
// propagate back out as an ordinary Go error instead of crashing the
// whole process (spec.md §7 "user-kernel fault: the entire run is
// abandoned").
func (l *Launcher) Run(ctx context.Context, cfg RunConfig, nodes []*taskgraph.Node, data taskgraph.NodeData, kernel taskgraph.Kernel) error {
	l.scheduler = taskgraph.NewScheduler(nodes, data, cfg.NumBlocks, l.Tracer)
	l.scheduler.Init()

	g, gctx := errgroup.WithContext(ctx)
	for b := 0; b < cfg.NumBlocks; b++ {
		blockID := b
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Int("block", blockID).Msg("run abandoned")
					if cause, ok := r.(error); ok {
						err = cause
					} else {
						err = taskgraph.KernelFaultError{}
					}
				}
			}()
			runBlockUntilExit(gctx, l.scheduler, blockID, kernel)
			return nil
		})
	}
	return g.Wait()
}

// runBlockUntilExit loops GetWork/FinishWork for one block until it
// observes Exit or the context is cancelled.
func runBlockUntilExit(ctx context.Context, s *taskgraph.Scheduler, blockID int, kernel taskgraph.Kernel) {
	bs := taskgraph.NewBlockState()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		asn := s.GetWork(bs, blockID)
		if asn.Result == taskgraph.Exit {
			return
		}
		if asn.Result == taskgraph.Loop {
			continue
		}
		for _, f := range asn.Fragments {
			for off := f.Base; off < f.Base+f.Valid; off++ {
				kernel(asn.DataIDX, off)
			}
		}
		s.FinishWork(bs, asn, blockID)
	}
}
