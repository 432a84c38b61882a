package vmi

import (
	"fmt"

	"github.com/go-vmi/vmi/internal/driver"
	"github.com/go-vmi/vmi/internal/events"
)

// MemAccess and RegAccess re-export the driver package's access-mode
// sum types for callers that register events directly against an
// Instance.
type MemAccess = driver.MemAccess
type RegAccess = driver.RegAccess

const (
	MemNone           = driver.MemNone
	MemRead           = driver.MemRead
	MemWrite          = driver.MemWrite
	MemExecute        = driver.MemExecute
	MemExecuteOnWrite = driver.MemExecuteOnWrite
)

const (
	RegAccessNone  = driver.RegNone
	RegAccessRead  = driver.RegRead
	RegAccessWrite = driver.RegWrite
)

// MemEventFired, RegEventFired and SingleStepFired re-export the
// driver package's fired-event payloads.
type MemEventFired = driver.MemEventFired
type RegEventFired = driver.RegEventFired
type SingleStepFired = driver.SingleStepFired

// RegisterPageMemEvent registers a whole-page memory-event watch.
func (i *Instance) RegisterPageMemEvent(pfn uint64, access MemAccess, cb func(MemEventFired)) error {
	if err := i.reg.RegisterPageMem(pfn, access, events.MemCallback(cb)); err != nil {
		return fmt.Errorf("vmi: register page mem event: %w", err)
	}

	return nil
}

// RegisterByteMemEvent registers a byte-granularity memory-event watch
// at pfn/offset.
func (i *Instance) RegisterByteMemEvent(pfn, offset uint64, access MemAccess, cb func(MemEventFired)) error {
	if err := i.reg.RegisterByteMem(pfn, offset, access, events.MemCallback(cb)); err != nil {
		return fmt.Errorf("vmi: register byte mem event: %w", err)
	}

	return nil
}

// ClearPageMemEvent clears a previously registered page-level event.
func (i *Instance) ClearPageMemEvent(pfn uint64) error {
	if err := i.reg.ClearPageMem(pfn); err != nil {
		return fmt.Errorf("vmi: clear page mem event: %w", err)
	}

	return nil
}

// ClearByteMemEvent clears a previously registered byte-level event.
func (i *Instance) ClearByteMemEvent(pfn, offset uint64) error {
	if err := i.reg.ClearByteMem(pfn, offset); err != nil {
		return fmt.Errorf("vmi: clear byte mem event: %w", err)
	}

	return nil
}

// RegisterRegEvent registers a register-event watch.
func (i *Instance) RegisterRegEvent(reg Reg, vcpu uint32, access RegAccess, cb func(RegEventFired)) error {
	if err := i.reg.RegisterReg(reg, vcpu, access, events.RegCallback(cb)); err != nil {
		return fmt.Errorf("vmi: register reg event: %w", err)
	}

	return nil
}

// ClearRegEvent clears a previously registered register event.
func (i *Instance) ClearRegEvent(reg Reg, vcpu uint32) error {
	if err := i.reg.ClearReg(reg, vcpu); err != nil {
		return fmt.Errorf("vmi: clear reg event: %w", err)
	}

	return nil
}

// RegisterSingleStep starts single-instruction tracing for vcpu.
func (i *Instance) RegisterSingleStep(vcpu uint32, cb func(SingleStepFired)) error {
	if err := i.reg.RegisterStep(vcpu, events.StepCallback(cb)); err != nil {
		return fmt.Errorf("vmi: register single-step: %w", err)
	}

	return nil
}

// ClearSingleStep stops single-instruction tracing for vcpu.
func (i *Instance) ClearSingleStep(vcpu uint32) error {
	if err := i.reg.ClearStep(vcpu); err != nil {
		return fmt.Errorf("vmi: clear single-step: %w", err)
	}

	return nil
}

// EventsListen blocks up to timeoutMS milliseconds draining pending
// hypervisor events and dispatching each to the callback of whichever
// registration matches it.
func (i *Instance) EventsListen(timeoutMS int) error {
	if err := i.reg.Dispatch(timeoutMS); err != nil {
		return fmt.Errorf("vmi: events listen: %w", err)
	}

	return nil
}
