package taskgraph

import "fmt"

// Kernel is the user-kernel signature invoked once per invocation
// offset. invocationOffset is in [0, totalNumInvocations) for the node.
type Kernel func(dataIDX uint32, invocationOffset uint32)

// FuncTable is the function table design notes §9 calls for in place of
// the original's inheritance-style NodeBase dispatch: a compact,
// name-indexed registry of kernels built once at graph-compile time and
// then looked up by FuncID. Scheduler.Run and host.Launcher.Run do not
// consult a FuncTable: they call the single Kernel they are given for
// every node, whatever its FuncID. It is a direct adaptation of
// the teacher's SimpleCache[T] (warehouse/cache.go) — same
// Register/GetIndex/GetItem shape — generalized from a string-keyed
// general-purpose cache to a closed, fixed-capacity kernel registry.
type FuncTable struct {
	kernels     []Kernel
	indexByName map[string]FuncID
	maxCapacity int
}

// NewFuncTable constructs a FuncTable with a fixed maximum number of
// distinct kernels, mirroring the teacher's FactoryNewCache[T](cap).
func NewFuncTable(maxCapacity int) *FuncTable {
	return &FuncTable{
		indexByName: make(map[string]FuncID),
		maxCapacity: maxCapacity,
	}
}

// Register assigns the next FuncID to name and stores fn, exactly the
// teacher's SimpleCache.Register contract but keyed to a FuncID instead
// of a bare int.
func (ft *FuncTable) Register(name string, fn Kernel) (FuncID, error) {
	if len(ft.kernels) >= ft.maxCapacity {
		return 0, fmt.Errorf("function table at maximum capacity (%d)", ft.maxCapacity)
	}
	if _, exists := ft.indexByName[name]; exists {
		return 0, fmt.Errorf("kernel %q already registered", name)
	}
	id := FuncID(len(ft.kernels))
	ft.kernels = append(ft.kernels, fn)
	ft.indexByName[name] = id
	return id, nil
}

// Lookup returns the FuncID registered under name.
func (ft *FuncTable) Lookup(name string) (FuncID, bool) {
	id, ok := ft.indexByName[name]
	return id, ok
}

// Get returns the kernel registered under id.
func (ft *FuncTable) Get(id FuncID) Kernel {
	return ft.kernels[id]
}
