package megakernel

import "fmt"

// RegistrationConflictError reports a duplicate component or archetype id.
// Registration is write-only append; re-registering an id is a programmer
// error and the caller is expected to abort.
type RegistrationConflictError struct {
	Kind string // "component" or "archetype"
	ID   uint32
}

func (e RegistrationConflictError) Error() string {
	return fmt.Sprintf("%s id %d already registered", e.Kind, e.ID)
}

// UnassignedComponentError reports a query or archetype referencing a
// component id that was never registered.
type UnassignedComponentError struct {
	ID uint32
}

func (e UnassignedComponentError) Error() string {
	return fmt.Sprintf("component id %d is not registered", e.ID)
}

// ResourceExhaustionError reports an entity-store or archetype-row overflow.
type ResourceExhaustionError struct {
	Resource string // "entities" or "rows"
	Capacity int
}

func (e ResourceExhaustionError) Error() string {
	return fmt.Sprintf("%s exhausted (capacity %d)", e.Resource, e.Capacity)
}

// AllocatorFailureError reports a refused virtual-memory reservation.
type AllocatorFailureError struct {
	Bytes uint64
	Cause error
}

func (e AllocatorFailureError) Error() string {
	return fmt.Sprintf("allocator failed to reserve %d bytes: %v", e.Bytes, e.Cause)
}

// StaleHandleError reports an entity handle whose generation no longer
// matches the slot it names. It is the one non-fatal error kind the core
// surfaces through an ordinary return value.
type StaleHandleError struct {
	Slot       uint32
	Generation uint32
}

func (e StaleHandleError) Error() string {
	return fmt.Sprintf("stale entity handle (slot %d, generation %d)", e.Slot, e.Generation)
}
