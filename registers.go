package vmi

import (
	"fmt"

	"github.com/go-vmi/vmi/internal/registers"
)

// Reg re-exports the unified register enumeration so callers do not
// need to import the internal package directly.
type Reg = registers.Reg

const (
	RegRAX    = registers.RegRAX
	RegRBX    = registers.RegRBX
	RegRCX    = registers.RegRCX
	RegRDX    = registers.RegRDX
	RegRSI    = registers.RegRSI
	RegRDI    = registers.RegRDI
	RegRSP    = registers.RegRSP
	RegRBP    = registers.RegRBP
	RegRIP    = registers.RegRIP
	RegRFLAGS = registers.RegRFLAGS
	RegCR0    = registers.RegCR0
	RegCR2    = registers.RegCR2
	RegCR3    = registers.RegCR3
	RegCR4    = registers.RegCR4
)

// GetVCPUReg reads one register of one vCPU. The VM should be paused
// first; the contract does not check this, per spec.md §5.
func (i *Instance) GetVCPUReg(reg Reg, vcpu uint32) (uint64, error) {
	v, err := i.drv.GetVCPUReg(reg, vcpu)
	if err != nil {
		return 0, fmt.Errorf("vmi: get vcpu reg %s on vcpu %d: %w", reg, vcpu, err)
	}

	return v, nil
}

// SetVCPUReg writes one register of one vCPU. Callers MUST pause the
// VM first to avoid races with the running guest (spec.md §5); this is
// a contract, not something the call checks.
func (i *Instance) SetVCPUReg(reg Reg, vcpu uint32, value uint64) error {
	if err := i.drv.SetVCPUReg(reg, vcpu, value); err != nil {
		return fmt.Errorf("vmi: set vcpu reg %s on vcpu %d: %w", reg, vcpu, err)
	}

	return nil
}

// Pause suspends every vCPU.
func (i *Instance) Pause() error {
	if err := i.drv.Pause(); err != nil {
		return fmt.Errorf("vmi: pause: %w", err)
	}

	return nil
}

// Resume resumes every vCPU.
func (i *Instance) Resume() error {
	if err := i.drv.Resume(); err != nil {
		return fmt.Errorf("vmi: resume: %w", err)
	}

	return nil
}
