/*
Package host implements the host-facing boundary of the megakernel
core (spec.md §6): the constant-layout contract a host allocates and a
device interprets identically, and a launcher that wires the State
Manager, Entity Store, and Task-Graph Scheduler together into one run.

None of this has a teacher precedent — warehouse is an in-process
library with no host/device split — so the launcher's shape is
grounded in cuemby-warren's service-wiring style (pkg/server
constructing and starting its subsystems against one config struct)
and its goroutine fan-out uses golang.org/x/sync/errgroup the way
totodo713-vamplite's benchmark harness fans work across goroutines and
joins on the first error.
*/
package host

import "github.com/TheBitDrifter/megakernel/log"

var logger = log.WithComponent("host")

// Layout is the packed offset table computeConstants returns: one byte
// offset per region plus the total byte requirement. Offsets are
// relative to the start of one contiguous host allocation that both the
// host and the device interpret identically (spec.md §6: "bit-
// reproducible between host allocation and device interpretation").
type Layout struct {
	TaskGraphOffset     uint64
	StateManagerOffset  uint64
	WorldDataOffset     uint64
	HostAllocatorOffset uint64
	HostPrintOffset     uint64
	TmpAllocatorOffset  uint64
	DeviceTracingOffset uint64
	TotalBytes          uint64
}

// Fixed sizes for the regions whose size does not depend on the host's
// per-run parameters. These stand in for sizeof(TaskGraphState),
// sizeof(StateManagerState), and so on in the absence of a literal C
// struct — the counterparts this contract anchors to on the hardware
// this spec targets.
const (
	taskGraphStateBytes    = 4096
	stateManagerStateBytes = 4096
	hostAllocatorBytes     = 65536
	hostPrintBytes         = 65536
	tmpAllocatorBytes      = 1 << 20
	deviceTracingBytes     = 1 << 16
)

// alignUp rounds offset up to the next multiple of alignment. alignment
// must be a power of two; the caller-supplied worldDataAlignment is the
// one alignment not fixed at compile time.
func alignUp(offset, alignment uint64) uint64 {
	if alignment == 0 {
		return offset
	}
	return (offset + alignment - 1) &^ (alignment - 1)
}

// ComputeConstants computes the packed offset table for one run, given
// the number of simultaneously simulated worlds, the per-world data
// region size, and its required alignment (spec.md §6). Each region is
// placed by monotonically bumping a cursor and aligning it to the next
// region's requirement, so two callers given the same three arguments
// always compute the same Layout — the bit-reproducibility the device
// side depends on.
func ComputeConstants(numWorlds int, numWorldDataBytes uint64, worldDataAlignment uint64) Layout {
	var cursor uint64
	var l Layout

	place := func(size, alignment uint64) uint64 {
		cursor = alignUp(cursor, alignment)
		offset := cursor
		cursor += size
		return offset
	}

	const defaultAlign = 8

	l.TaskGraphOffset = place(taskGraphStateBytes, defaultAlign)
	l.StateManagerOffset = place(stateManagerStateBytes, defaultAlign)
	l.WorldDataOffset = place(numWorldDataBytes*uint64(numWorlds), worldDataAlignment)
	l.HostAllocatorOffset = place(hostAllocatorBytes, defaultAlign)
	l.HostPrintOffset = place(hostPrintBytes, defaultAlign)
	l.TmpAllocatorOffset = place(tmpAllocatorBytes, defaultAlign)
	l.DeviceTracingOffset = place(deviceTracingBytes, defaultAlign)

	l.TotalBytes = cursor
	return l
}
