/*
Package alloc implements the Reserve-Commit Allocator contract spec.md
§4.1 describes as an external collaborator: a column-sized virtual
reservation with on-demand commit. The wide-SIMD accelerator this core
targets provides this natively; on general-purpose hardware we simulate
it with mmap+madvise, exactly the portable substitute spec.md §9
prescribes, in the style of the mmap'd ring/descriptor regions in
go-ublk's queue runner.
*/
package alloc

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/TheBitDrifter/megakernel/log"
)

var logger = log.WithComponent("alloc")

// reservationGranule and commitGranule are the alignment units reservations
// and commits are rounded up to. They default to the host page size.
var (
	reservationGranule = uint64(unix.Getpagesize())
	commitGranule      = uint64(unix.Getpagesize())
)

// Allocator is the contract the State Manager relies on for every column
// buffer. Reservation exhaustion is fatal and reported upward; the core
// never attempts recovery (spec.md §4.1).
type Allocator interface {
	// RoundUpReservation aligns bytes to the reservation granule.
	RoundUpReservation(bytes uint64) uint64
	// RoundUpAlloc aligns bytes to the commit granule.
	RoundUpAlloc(bytes uint64) uint64
	// Reserve returns a Region with the first initCommitBytes committed.
	Reserve(reserveBytes, initCommitBytes uint64) (*Region, error)
}

// Region is a stable virtual reservation with on-demand commit. Only the
// committed prefix is safe to read or write; writing past it faults on
// real hardware and panics here.
type Region struct {
	mem       []byte // mmap'd PROT_NONE reservation, full reserved length
	committed uint64
}

// Bytes returns the committed prefix of the region as a byte slice.
// Callers must not retain it past a Decommit/Grow that could move it —
// this implementation never moves the mapping, but a hardware backend
// legitimately could.
func (r *Region) Bytes() []byte {
	return r.mem[:r.committed]
}

// Committed reports how many bytes are currently committed.
func (r *Region) Committed() uint64 {
	return r.committed
}

// Reserved reports the full reserved length.
func (r *Region) Reserved() uint64 {
	return uint64(len(r.mem))
}

// Grow commits additional bytes on demand, simulating the fault-handler
// driven commit spec.md §4.1 describes as happening "outside the core".
func (r *Region) Grow(toBytes uint64) error {
	if toBytes <= r.committed {
		return nil
	}
	if toBytes > uint64(len(r.mem)) {
		return fmt.Errorf("alloc: grow to %d exceeds reservation of %d", toBytes, len(r.mem))
	}
	if err := unix.Mprotect(r.mem[:toBytes], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("alloc: mprotect commit failed: %w", err)
	}
	r.committed = toBytes
	return nil
}

// Decommit releases physical pages backing the tail of the region without
// shrinking the reservation, mirroring clear_temporaries' "does not
// commit-back column memory" contract — callers decide whether to ever
// call this; the State Manager does not by default.
func (r *Region) Decommit(fromBytes uint64) error {
	if fromBytes >= r.committed {
		return nil
	}
	if err := unix.Madvise(r.mem[fromBytes:r.committed], unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("alloc: madvise decommit failed: %w", err)
	}
	return nil
}

// mmapAllocator is the general-purpose-hardware Allocator implementation.
type mmapAllocator struct{}

// NewMmapAllocator returns an Allocator backed by anonymous mmap reservations.
func NewMmapAllocator() Allocator {
	return mmapAllocator{}
}

func (mmapAllocator) RoundUpReservation(bytes uint64) uint64 {
	return roundUp(bytes, reservationGranule)
}

func (mmapAllocator) RoundUpAlloc(bytes uint64) uint64 {
	return roundUp(bytes, commitGranule)
}

func (a mmapAllocator) Reserve(reserveBytes, initCommitBytes uint64) (*Region, error) {
	reserveBytes = a.RoundUpReservation(reserveBytes)
	initCommitBytes = a.RoundUpAlloc(initCommitBytes)
	if initCommitBytes > reserveBytes {
		initCommitBytes = reserveBytes
	}

	mem, err := unix.Mmap(-1, 0, int(reserveBytes), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		logger.Error().Err(err).Uint64("bytes", reserveBytes).Msg("reservation refused")
		return nil, fmt.Errorf("alloc: reserve %d bytes: %w", reserveBytes, err)
	}

	region := &Region{mem: mem}
	if initCommitBytes > 0 {
		if err := region.Grow(initCommitBytes); err != nil {
			unix.Munmap(mem)
			return nil, err
		}
	}
	return region, nil
}

func roundUp(bytes, granule uint64) uint64 {
	if granule == 0 {
		return bytes
	}
	return (bytes + granule - 1) / granule * granule
}
