package events

import (
	"testing"

	"github.com/go-vmi/vmi/internal/driver"
	"github.com/go-vmi/vmi/internal/registers"
)

// fakeDriver is a minimal driver.Driver that just records the last
// access mask it was told to enforce, for the registry to drive.
type fakeDriver struct {
	memAccess map[uint64]driver.MemAccess
	regAccess map[regKey]driver.RegAccess
	steps     map[uint32]bool
	failSet   map[uint64]bool // pfns on which SetMemAccess should fail
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		memAccess: make(map[uint64]driver.MemAccess),
		regAccess: make(map[regKey]driver.RegAccess),
		steps:     make(map[uint32]bool),
		failSet:   make(map[uint64]bool),
	}
}

func (f *fakeDriver) Init(uint64, string) error                      { return nil }
func (f *fakeDriver) Destroy() error                                 { return nil }
func (f *fakeDriver) MapFrame(uint64, driver.Protection) ([]byte, error) { return nil, nil }
func (f *fakeDriver) ReleaseFrame([]byte) error                       { return nil }
func (f *fakeDriver) ReadPA(uint64, []byte) error                     { return nil }
func (f *fakeDriver) Write(uint64, []byte) error                      { return nil }
func (f *fakeDriver) GetName() (string, error)                        { return "", nil }
func (f *fakeDriver) GetID() (uint64, error)                          { return 0, nil }
func (f *fakeDriver) GetNameFromID(uint64) (string, error)            { return "", nil }
func (f *fakeDriver) GetIDFromName(string) (uint64, error)            { return 0, nil }
func (f *fakeDriver) GetMemSize() (uint64, error)                     { return 0, nil }
func (f *fakeDriver) GetAddressWidth() (int, error)                   { return 8, nil }
func (f *fakeDriver) GetVCPUReg(registers.Reg, uint32) (uint64, error) { return 0, nil }
func (f *fakeDriver) SetVCPUReg(registers.Reg, uint32, uint64) error  { return nil }
func (f *fakeDriver) Pause() error                                    { return nil }
func (f *fakeDriver) Resume() error                                   { return nil }

func (f *fakeDriver) SetRegAccess(ev driver.RegEvent) error {
	k := regKey{reg: ev.Reg, vcpu: ev.VCPU}
	if ev.Access == driver.RegNone {
		delete(f.regAccess, k)
		return nil
	}
	f.regAccess[k] = ev.Access
	return nil
}

func (f *fakeDriver) SetMemAccess(pfn uint64, effective driver.MemAccess) error {
	if f.failSet[pfn] {
		return driver.ErrAccessFailure
	}
	if effective == driver.MemNone {
		delete(f.memAccess, pfn)
		return nil
	}
	f.memAccess[pfn] = effective
	return nil
}

func (f *fakeDriver) StartSingleStep(vcpu uint32) error { f.steps[vcpu] = true; return nil }
func (f *fakeDriver) StopSingleStep(vcpu uint32) error  { delete(f.steps, vcpu); return nil }
func (f *fakeDriver) ShutdownSingleStep() error         { f.steps = make(map[uint32]bool); return nil }
func (f *fakeDriver) EventsListen(int) ([]driver.Event, error) { return nil, nil }

// S4: incremental byte-event registration and clearing combines and
// recombines the effective page mask.
func TestScenarioS4MaskCombining(t *testing.T) {
	drv := newFakeDriver()
	r := New(drv)

	const pfn = 5

	if err := r.RegisterByteMem(pfn, 0x10, driver.MemRead, nil); err != nil {
		t.Fatalf("register byte read: %v", err)
	}
	if got := drv.memAccess[pfn]; got != driver.MemRead {
		t.Fatalf("effective mask = %v, want read", got)
	}

	if err := r.RegisterByteMem(pfn, 0x20, driver.MemWrite, nil); err != nil {
		t.Fatalf("register byte write: %v", err)
	}
	if got := drv.memAccess[pfn]; got != driver.MemRead|driver.MemWrite {
		t.Fatalf("effective mask = %v, want read|write", got)
	}

	if err := r.ClearByteMem(pfn, 0x10); err != nil {
		t.Fatalf("clear 0x10: %v", err)
	}
	if got := drv.memAccess[pfn]; got != driver.MemWrite {
		t.Fatalf("effective mask after clear 0x10 = %v, want write", got)
	}

	if err := r.ClearByteMem(pfn, 0x20); err != nil {
		t.Fatalf("clear 0x20: %v", err)
	}
	if _, ok := drv.memAccess[pfn]; ok {
		t.Fatalf("page descriptor should be gone, got %v", drv.memAccess[pfn])
	}
}

// S5: an incompatible combine is rejected and leaves state unchanged.
func TestScenarioS5IncompatibleCombineRejected(t *testing.T) {
	drv := newFakeDriver()
	r := New(drv)

	const pfn = 9

	if err := r.RegisterByteMem(pfn, 0x0, driver.MemRead, nil); err != nil {
		t.Fatalf("register byte read: %v", err)
	}

	err := r.RegisterPageMem(pfn, driver.MemExecuteOnWrite, nil)
	if err == nil {
		t.Fatalf("register page execute-on-write: want failure, got success")
	}

	if got := drv.memAccess[pfn]; got != driver.MemRead {
		t.Fatalf("state changed after rejected combine: %v, want read", got)
	}
	if _, exists := r.pageAccess[pfn]; exists {
		t.Fatalf("page registration leaked after rejected combine")
	}
}

// S6: teardown removes every enforced access, and a fresh registry does
// not see it.
func TestScenarioS6TeardownRestoresDefault(t *testing.T) {
	drv := newFakeDriver()
	r := New(drv)

	const pfn = 3

	if err := r.RegisterPageMem(pfn, driver.MemWrite, nil); err != nil {
		t.Fatalf("register page write: %v", err)
	}
	if got := drv.memAccess[pfn]; got != driver.MemWrite {
		t.Fatalf("effective mask = %v, want write", got)
	}

	if err := r.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	if _, ok := drv.memAccess[pfn]; ok {
		t.Fatalf("write still enforced on pfn %d after teardown", pfn)
	}

	fresh := New(drv)
	if _, ok := fresh.effective[pfn]; ok {
		t.Fatalf("fresh registry sees a stale registration on pfn %d", pfn)
	}
}

// Invariant 9: registering the same register event twice fails, and the
// first registration remains in effect.
func TestDuplicateRegEventRejected(t *testing.T) {
	drv := newFakeDriver()
	r := New(drv)

	if err := r.RegisterReg(registers.RegCR3, 0, driver.RegWrite, nil); err != nil {
		t.Fatalf("first register: %v", err)
	}

	if err := r.RegisterReg(registers.RegCR3, 0, driver.RegRead, nil); err == nil {
		t.Fatalf("duplicate register: want failure, got success")
	}

	k := regKey{reg: registers.RegCR3, vcpu: 0}
	if drv.regAccess[k] != driver.RegWrite {
		t.Fatalf("first registration overwritten: got %v, want write", drv.regAccess[k])
	}
}

// Invariant 2: after ClearPageMem succeeds, the key is absent from the
// registry.
func TestClearRemovesKeyFromRegistry(t *testing.T) {
	drv := newFakeDriver()
	r := New(drv)

	if err := r.RegisterPageMem(11, driver.MemRead, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.ClearPageMem(11); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if _, exists := r.pageAccess[11]; exists {
		t.Fatalf("pageAccess[11] still present after clear")
	}

	// Clearing again fails: nothing to clear.
	if err := r.ClearPageMem(11); err == nil {
		t.Fatalf("clear of unregistered key: want failure")
	}
}

// Backend rejection during clear leaves the registration exactly as it
// was (the rollback rule from spec's clear-flow semantics).
func TestClearRollsBackOnBackendFailure(t *testing.T) {
	drv := newFakeDriver()
	r := New(drv)

	if err := r.RegisterByteMem(4, 0x8, driver.MemRead, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	drv.failSet[4] = true

	if err := r.ClearByteMem(4, 0x8); err == nil {
		t.Fatalf("clear with failing backend: want failure")
	}

	if _, exists := r.byteAccess[byteKey{pfn: 4, offset: 0x8}]; !exists {
		t.Fatalf("registration was removed despite backend rejecting the clear")
	}
}

func TestDispatchPrefersByteOverPageCallback(t *testing.T) {
	drv := newFakeDriver()
	r := New(drv)

	var pageFired, byteFired bool

	if err := r.RegisterPageMem(1, driver.MemRead, func(driver.MemEventFired) { pageFired = true }); err != nil {
		t.Fatalf("register page: %v", err)
	}
	if err := r.RegisterByteMem(1, 0x4, driver.MemRead, func(driver.MemEventFired) { byteFired = true }); err != nil {
		t.Fatalf("register byte: %v", err)
	}

	r.dispatchMem(driver.MemEventFired{PFN: 1, Offset: 0x4, Access: driver.MemRead})

	if !byteFired || pageFired {
		t.Fatalf("byteFired=%v pageFired=%v, want byte preferred", byteFired, pageFired)
	}
}
