package driver

import "github.com/go-vmi/vmi/internal/registers"

// PhysReader is the minimal read surface the page-table walker needs
// from a Driver, kept separate so walkers and other collaborators don't
// have to depend on the full interface.
type PhysReader interface {
	ReadPA(paddr uint64, buf []byte) error
}

// MemEvent describes a single memory-event registration, keyed by the
// frame number it watches.
type MemEvent struct {
	PFN      uint64
	Access   MemAccess
	Granular bool // per-byte tracking rather than whole-page
}

// RegEvent describes a single register-event registration.
type RegEvent struct {
	Reg    registers.Reg
	VCPU   uint32
	Access RegAccess
}

// SingleStepEvent describes single-step tracing for one vCPU.
type SingleStepEvent struct {
	VCPU uint32
}

// Event is whichever of the three event kinds the hypervisor delivered
// from EventsListen. Exactly one of the pointer fields is non-nil.
type Event struct {
	Mem  *MemEventFired
	Reg  *RegEventFired
	Step *SingleStepFired
}

// MemEventFired reports a memory access trap.
type MemEventFired struct {
	PFN    uint64
	Offset uint64
	VCPU   uint32
	Access MemAccess
}

// RegEventFired reports a register access trap.
type RegEventFired struct {
	Reg    registers.Reg
	VCPU   uint32
	Access RegAccess
	Value  uint64
}

// SingleStepFired reports that a traced vCPU completed one instruction.
type SingleStepFired struct {
	VCPU uint32
	RIP  uint64
}

// Driver is the contract every backend (Xen, KVM, file) implements.
// Each method maps directly onto one operation from spec.md §4.2; a
// backend that has no meaningful implementation for an operation
// returns ErrUnsupported rather than omitting the method.
//
// Driver implementations carry no internal synchronization: callers
// serialize all calls against one Driver themselves.
type Driver interface {
	// Init opens the backend's connection to the named or numbered
	// guest. Exactly one of id or name is meaningful, matching the two
	// init modes from spec.md §3.
	Init(id uint64, name string) error

	// Destroy releases every resource the backend is holding: open
	// handles and mapped frames. It does not reset event-access state;
	// vmi.Instance.Destroy runs the events registry's Teardown for that
	// before calling Destroy.
	Destroy() error

	// MapFrame maps the guest frame pfn into the host address space
	// with the requested protection and returns a pointer to the page.
	MapFrame(pfn uint64, prot Protection) ([]byte, error)

	// ReleaseFrame releases a mapping previously returned by MapFrame.
	ReleaseFrame(page []byte) error

	// ReadPA reads len(buf) bytes starting at the guest physical
	// address paddr. Implementations built on MapFrame/ReleaseFrame may
	// satisfy this by mapping each page the read spans.
	ReadPA(paddr uint64, buf []byte) error

	// Write writes buf to guest physical address paddr, splitting the
	// write across page boundaries as needed. A write spanning frame N
	// and frame N+1 is not atomic: frame N's bytes can land before
	// frame N+1's, and a concurrent reader (outside this single-threaded
	// contract) could observe the torn state. This is accepted, not a
	// bug — see DESIGN.md.
	Write(paddr uint64, buf []byte) error

	// GetName returns the guest name this instance was initialized
	// with, resolving from id if the backend was opened by id.
	GetName() (string, error)

	// GetID returns the guest id this instance was initialized with,
	// resolving from name if the backend was opened by name.
	GetID() (uint64, error)

	// GetNameFromID resolves a name without requiring this instance to
	// be initialized against that guest.
	GetNameFromID(id uint64) (string, error)

	// GetIDFromName resolves an id without requiring this instance to
	// be initialized against that guest.
	GetIDFromName(name string) (uint64, error)

	// GetMemSize returns the guest's physical memory size in bytes.
	GetMemSize() (uint64, error)

	// GetAddressWidth returns 4 or 8, the guest's address width in
	// bytes.
	GetAddressWidth() (int, error)

	// GetVCPUReg reads one register of one vCPU.
	GetVCPUReg(reg registers.Reg, vcpu uint32) (uint64, error)

	// SetVCPUReg writes one register of one vCPU.
	SetVCPUReg(reg registers.Reg, vcpu uint32, value uint64) error

	// Pause suspends every vCPU. Idempotent.
	Pause() error

	// Resume resumes every vCPU. Idempotent.
	Resume() error

	// SetRegAccess installs or updates a register-event trap for one
	// vCPU/register pair at the given effective access mask, or clears
	// it when access is RegNone.
	SetRegAccess(ev RegEvent) error

	// SetMemAccess installs or updates a memory-event trap for one
	// frame at the given effective access mask, or clears it when
	// effective is MemNone.
	SetMemAccess(pfn uint64, effective MemAccess) error

	// StartSingleStep begins single-instruction tracing for one vCPU.
	StartSingleStep(vcpu uint32) error

	// StopSingleStep ends single-instruction tracing for one vCPU.
	StopSingleStep(vcpu uint32) error

	// ShutdownSingleStep ends single-instruction tracing for every
	// vCPU, used during teardown.
	ShutdownSingleStep() error

	// EventsListen blocks up to timeoutMS milliseconds for one or more
	// hypervisor events and returns the drained batch. A timeout with no
	// events returns a nil slice and nil error.
	EventsListen(timeoutMS int) ([]Event, error)
}
