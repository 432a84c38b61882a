// Package events implements the event registry from spec.md §4.5:
// per-page and per-byte memory-event bookkeeping, per-vCPU register and
// single-step bookkeeping, the access-mask combiner wiring, and the
// register/clear flows with invariant-preserving rollback when the
// backend rejects a request.
//
// The registry has no internal synchronization, per spec.md §5: one
// Registry serves one Driver, and the caller serializes calls.
package events

import (
	"errors"
	"fmt"

	"github.com/go-vmi/vmi/internal/driver"
	"github.com/go-vmi/vmi/internal/registers"
)

// MemCallback receives a fired memory event for the registration that
// matched it.
type MemCallback func(fired driver.MemEventFired)

// RegCallback receives a fired register event.
type RegCallback func(fired driver.RegEventFired)

// StepCallback receives a fired single-step event.
type StepCallback func(fired driver.SingleStepFired)

type byteKey struct {
	pfn    uint64
	offset uint64
}

type regKey struct {
	reg  registers.Reg
	vcpu uint32
}

// Registry tracks every event currently registered against one Driver
// and combines overlapping requests into the single effective mask the
// backend sees.
//
// Two kinds of registration can exist on one page: at most one
// page-level event, and any number of byte-level events at distinct
// offsets. pageAccess/byteAccess hold each registration's own
// requested mask; effective holds the combined mask actually
// programmed into the backend, present iff the page has any
// registration at all.
type Registry struct {
	drv driver.Driver

	pageAccess map[uint64]driver.MemAccess
	pageCB     map[uint64]MemCallback
	byteAccess map[byteKey]driver.MemAccess
	byteCB     map[byteKey]MemCallback
	effective  map[uint64]driver.MemAccess

	reg   map[regKey]driver.RegAccess
	regCB map[regKey]RegCallback

	step   map[uint32]bool
	stepCB map[uint32]StepCallback

	shuttingDown bool
}

// New builds a Registry bound to drv. drv's lifetime must exceed the
// Registry's.
func New(drv driver.Driver) *Registry {
	return &Registry{
		drv:        drv,
		pageAccess: make(map[uint64]driver.MemAccess),
		pageCB:     make(map[uint64]MemCallback),
		byteAccess: make(map[byteKey]driver.MemAccess),
		byteCB:     make(map[byteKey]MemCallback),
		effective:  make(map[uint64]driver.MemAccess),
		reg:        make(map[regKey]driver.RegAccess),
		regCB:      make(map[regKey]RegCallback),
		step:       make(map[uint32]bool),
		stepCB:     make(map[uint32]StepCallback),
	}
}

// RegisterPageMem adds a whole-page memory-event watch on pfn.
// Registration fails if a page-level event is already present on pfn,
// or if combining with any existing byte-level registrations is
// invalid, or if the backend rejects the resulting mask.
func (r *Registry) RegisterPageMem(pfn uint64, access driver.MemAccess, cb MemCallback) error {
	if r.shuttingDown {
		return fmt.Errorf("events: register during shutdown: %w", driver.ErrConflict)
	}

	if _, exists := r.pageAccess[pfn]; exists {
		return fmt.Errorf("events: page event on pfn %d already registered: %w", pfn, driver.ErrConflict)
	}

	current := r.effective[pfn]
	combined, ok := driver.CombineMem(current, access)
	if !ok {
		return fmt.Errorf("events: incompatible access combination on pfn %d: %w", pfn, driver.ErrConflict)
	}

	if err := r.drv.SetMemAccess(pfn, combined); err != nil {
		return fmt.Errorf("events: set mem access on pfn %d: %w", pfn, err)
	}

	r.pageAccess[pfn] = access
	r.pageCB[pfn] = cb
	r.effective[pfn] = combined

	return nil
}

// RegisterByteMem adds a byte-granularity memory-event watch at
// pfn/offset. Registration fails if a byte event already exists at
// that exact offset, or if the combine/backend steps fail.
func (r *Registry) RegisterByteMem(pfn, offset uint64, access driver.MemAccess, cb MemCallback) error {
	if r.shuttingDown {
		return fmt.Errorf("events: register during shutdown: %w", driver.ErrConflict)
	}

	k := byteKey{pfn: pfn, offset: offset}
	if _, exists := r.byteAccess[k]; exists {
		return fmt.Errorf("events: byte event at pfn %d offset %d already registered: %w", pfn, offset, driver.ErrConflict)
	}

	current := r.effective[pfn]
	combined, ok := driver.CombineMem(current, access)
	if !ok {
		return fmt.Errorf("events: incompatible access combination on pfn %d: %w", pfn, driver.ErrConflict)
	}

	if err := r.drv.SetMemAccess(pfn, combined); err != nil {
		return fmt.Errorf("events: set mem access on pfn %d: %w", pfn, err)
	}

	r.byteAccess[k] = access
	r.byteCB[k] = cb
	r.effective[pfn] = combined

	return nil
}

// recombine rebuilds the effective mask for pfn from every remaining
// registration except the one about to be cleared, which the caller
// has already removed from pageAccess/byteAccess before calling this.
func (r *Registry) recombine(pfn uint64) (driver.MemAccess, bool) {
	var effective driver.MemAccess
	any := false

	if access, ok := r.pageAccess[pfn]; ok {
		effective = access
		any = true
	}

	for k, access := range r.byteAccess {
		if k.pfn != pfn {
			continue
		}

		if !any {
			effective = access
			any = true
			continue
		}

		combined, ok := driver.CombineMem(effective, access)
		if !ok {
			// Surviving registrations were valid against each other
			// when each was installed; fall back to union rather than
			// lose an event.
			combined = effective | access
		}
		effective = combined
	}

	return effective, any
}

// ClearPageMem removes pfn's page-level event, recombining from
// whatever byte-level events remain. On backend rejection the removed
// registration is reinstated and the call fails, leaving state exactly
// as it was.
func (r *Registry) ClearPageMem(pfn uint64) error {
	access, exists := r.pageAccess[pfn]
	if !exists {
		return fmt.Errorf("events: clear unregistered page event at pfn %d: %w", pfn, driver.ErrNotFound)
	}
	cb := r.pageCB[pfn]

	delete(r.pageAccess, pfn)
	delete(r.pageCB, pfn)

	newMask, any := r.recombine(pfn)

	if err := r.drv.SetMemAccess(pfn, newMask); err != nil {
		r.pageAccess[pfn] = access
		r.pageCB[pfn] = cb
		return fmt.Errorf("events: clear mem access on pfn %d: %w", pfn, err)
	}

	r.finishClear(pfn, newMask, any)

	return nil
}

// ClearByteMem removes the byte event at pfn/offset, recombining from
// whatever registrations remain.
func (r *Registry) ClearByteMem(pfn, offset uint64) error {
	k := byteKey{pfn: pfn, offset: offset}
	access, exists := r.byteAccess[k]
	if !exists {
		return fmt.Errorf("events: clear unregistered byte event at pfn %d offset %d: %w", pfn, offset, driver.ErrNotFound)
	}
	cb := r.byteCB[k]

	delete(r.byteAccess, k)
	delete(r.byteCB, k)

	newMask, any := r.recombine(pfn)

	if err := r.drv.SetMemAccess(pfn, newMask); err != nil {
		r.byteAccess[k] = access
		r.byteCB[k] = cb
		return fmt.Errorf("events: clear mem access on pfn %d offset %d: %w", pfn, offset, err)
	}

	r.finishClear(pfn, newMask, any)

	return nil
}

func (r *Registry) finishClear(pfn uint64, newMask driver.MemAccess, any bool) {
	if !any && !r.shuttingDown {
		delete(r.effective, pfn)
		return
	}

	r.effective[pfn] = newMask
}

// RegisterReg adds a register-event watch for one vCPU/register pair.
func (r *Registry) RegisterReg(reg registers.Reg, vcpu uint32, access driver.RegAccess, cb RegCallback) error {
	if r.shuttingDown {
		return fmt.Errorf("events: register during shutdown: %w", driver.ErrConflict)
	}

	k := regKey{reg: reg, vcpu: vcpu}
	if _, exists := r.reg[k]; exists {
		return fmt.Errorf("events: register %s on vcpu %d already registered: %w", reg, vcpu, driver.ErrConflict)
	}

	if err := r.drv.SetRegAccess(driver.RegEvent{Reg: reg, VCPU: vcpu, Access: access}); err != nil {
		return fmt.Errorf("events: set reg access on %s/%d: %w", reg, vcpu, err)
	}

	r.reg[k] = access
	r.regCB[k] = cb

	return nil
}

// ClearReg removes a register-event watch. Per spec.md §4.5, the
// access is set to none, the backend is told, and then (unless
// shutting down) the entry is removed — the registration's own access
// field is never mutated in place, only the table entry is dropped.
func (r *Registry) ClearReg(reg registers.Reg, vcpu uint32) error {
	k := regKey{reg: reg, vcpu: vcpu}
	if _, exists := r.reg[k]; !exists {
		return fmt.Errorf("events: clear unregistered %s/%d: %w", reg, vcpu, driver.ErrNotFound)
	}

	if err := r.drv.SetRegAccess(driver.RegEvent{Reg: reg, VCPU: vcpu, Access: driver.RegNone}); err != nil {
		return fmt.Errorf("events: clear reg access on %s/%d: %w", reg, vcpu, err)
	}

	if !r.shuttingDown {
		delete(r.reg, k)
		delete(r.regCB, k)
	}

	return nil
}

// RegisterStep starts single-step tracing for vcpu.
func (r *Registry) RegisterStep(vcpu uint32, cb StepCallback) error {
	if r.shuttingDown {
		return fmt.Errorf("events: register during shutdown: %w", driver.ErrConflict)
	}

	if r.step[vcpu] {
		return fmt.Errorf("events: single-step on vcpu %d already registered: %w", vcpu, driver.ErrConflict)
	}

	if err := r.drv.StartSingleStep(vcpu); err != nil {
		return fmt.Errorf("events: start single-step on vcpu %d: %w", vcpu, err)
	}

	r.step[vcpu] = true
	r.stepCB[vcpu] = cb

	return nil
}

// ClearStep stops single-step tracing for vcpu.
func (r *Registry) ClearStep(vcpu uint32) error {
	if !r.step[vcpu] {
		return fmt.Errorf("events: clear unregistered single-step on vcpu %d: %w", vcpu, driver.ErrNotFound)
	}

	if err := r.drv.StopSingleStep(vcpu); err != nil {
		return fmt.Errorf("events: stop single-step on vcpu %d: %w", vcpu, err)
	}

	delete(r.step, vcpu)
	delete(r.stepCB, vcpu)

	return nil
}

// Teardown walks every registration this Registry knows about, tells
// the backend to drop each one, and tolerates individual failures so
// one stuck registration cannot block releasing the rest. It marks the
// Registry shutting down first so no new registrations can race the
// walk, then clears every table once the backend has been told.
func (r *Registry) Teardown() error {
	r.shuttingDown = true

	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for pfn := range r.effective {
		note(r.drv.SetMemAccess(pfn, driver.MemNone))
	}
	r.pageAccess = make(map[uint64]driver.MemAccess)
	r.pageCB = make(map[uint64]MemCallback)
	r.byteAccess = make(map[byteKey]driver.MemAccess)
	r.byteCB = make(map[byteKey]MemCallback)
	r.effective = make(map[uint64]driver.MemAccess)

	for k := range r.reg {
		note(r.drv.SetRegAccess(driver.RegEvent{Reg: k.reg, VCPU: k.vcpu, Access: driver.RegNone}))
	}
	r.reg = make(map[regKey]driver.RegAccess)
	r.regCB = make(map[regKey]RegCallback)

	for vcpu := range r.step {
		note(r.drv.StopSingleStep(vcpu))
	}
	r.step = make(map[uint32]bool)
	r.stepCB = make(map[uint32]StepCallback)

	// A backend without single-step support has nothing to shut down.
	if err := r.drv.ShutdownSingleStep(); !errors.Is(err, driver.ErrUnsupported) {
		note(err)
	}

	return firstErr
}

// Dispatch blocks up to timeoutMS draining hypervisor events and
// invokes the callback of whichever registration matches each one. For
// a memory event that could match both a byte- and a page-level
// registration on the same page, the byte-level callback is preferred,
// per spec.md §4.5. Dispatch does not guarantee ordering across
// separate calls, only within one.
func (r *Registry) Dispatch(timeoutMS int) error {
	fired, err := r.drv.EventsListen(timeoutMS)
	if err != nil {
		return fmt.Errorf("events: listen: %w", err)
	}

	for _, ev := range fired {
		switch {
		case ev.Mem != nil:
			r.dispatchMem(*ev.Mem)
		case ev.Reg != nil:
			if cb, ok := r.regCB[regKey{reg: ev.Reg.Reg, vcpu: ev.Reg.VCPU}]; ok && cb != nil {
				cb(*ev.Reg)
			}
		case ev.Step != nil:
			if cb, ok := r.stepCB[ev.Step.VCPU]; ok && cb != nil {
				cb(*ev.Step)
			}
		}
	}

	return nil
}

func (r *Registry) dispatchMem(fired driver.MemEventFired) {
	k := byteKey{pfn: fired.PFN, offset: fired.Offset}
	if cb, ok := r.byteCB[k]; ok && cb != nil {
		cb(fired)
		return
	}

	if cb, ok := r.pageCB[fired.PFN]; ok && cb != nil {
		cb(fired)
	}
}
