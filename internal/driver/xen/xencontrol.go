package xen

import (
	"encoding/binary"
	"fmt"

	"github.com/go-vmi/vmi/internal/driver"
)

const (
	ctlMapFrame       uint32 = 100
	ctlReleaseFrame   uint32 = 101
	ctlWrite          uint32 = 102
	ctlGetMemSize     uint32 = 103
	ctlGetVCPUCount   uint32 = 104
	ctlGetReg         uint32 = 105
	ctlSetReg         uint32 = 106
	ctlPause          uint32 = 107
	ctlResume         uint32 = 108
	ctlSetMemAccess   uint32 = 109
	ctlStartSS        uint32 = 110
	ctlStopSS         uint32 = 111
	ctlShutdownSS     uint32 = 112
	ctlEventsListen   uint32 = 113
	ctlGetEFER        uint32 = 114
	ctlGetAddressSize uint32 = 115
	ctlGetDomInfo     uint32 = 116
	ctlSetRegAccess   uint32 = 117
)

// Handle is the control-channel abstraction this package uses in place
// of a real libxc xc_interface: every hypercall-shaped operation
// (mapping a frame, reading or writing a register, pausing a domain,
// arming an access trap) is a framed request/response over Channel.
type Handle struct {
	ch     Channel
	domid  uint64
	nextID uint32
}

// NewHandle opens a control Handle for the domain domid over ch. ch
// must already be started.
func NewHandle(ch Channel, domid uint64) *Handle {
	return &Handle{ch: ch, domid: domid}
}

func (h *Handle) call(msgType uint32, payload []byte) ([]byte, error) {
	h.nextID++
	if err := h.ch.Send(msgType, h.nextID, payload); err != nil {
		return nil, fmt.Errorf("xen: control send: %w", driver.ErrAccessFailure)
	}

	_, _, reply, err := h.ch.Receive()
	if err != nil {
		return nil, fmt.Errorf("xen: control receive: %w", driver.ErrAccessFailure)
	}

	return reply, nil
}

func (h *Handle) callU64(msgType uint32, args ...uint64) (uint64, error) {
	payload := make([]byte, 8*len(args))
	for i, a := range args {
		binary.LittleEndian.PutUint64(payload[i*8:], a)
	}

	reply, err := h.call(msgType, payload)
	if err != nil {
		return 0, err
	}
	if len(reply) < 8 {
		return 0, fmt.Errorf("xen: short reply to 0x%x: %w", msgType, driver.ErrAccessFailure)
	}

	return binary.LittleEndian.Uint64(reply[:8]), nil
}

// MapFrame requests the page at pfn be mapped with the given
// protection and returns its contents as a page-sized slice. The
// control socket returns the page body directly in the reply payload
// (no separate mmap handoff, since this is not real shared memory).
func (h *Handle) MapFrame(pfn uint64, prot driver.Protection) ([]byte, error) {
	payload := make([]byte, 9)
	binary.LittleEndian.PutUint64(payload[0:8], pfn)
	payload[8] = byte(prot)

	reply, err := h.call(ctlMapFrame, payload)
	if err != nil {
		return nil, fmt.Errorf("xen: map frame %d: %w", pfn, err)
	}

	return reply, nil
}

// ReleaseFrame tells the control socket the given page is no longer
// needed host-side.
func (h *Handle) ReleaseFrame(page []byte) error {
	_, err := h.call(ctlReleaseFrame, nil)
	if err != nil {
		return fmt.Errorf("xen: release frame: %w", err)
	}

	return nil
}

// Write writes buf at guest physical address paddr via the control
// socket.
func (h *Handle) Write(paddr uint64, buf []byte) error {
	payload := make([]byte, 8+len(buf))
	binary.LittleEndian.PutUint64(payload[0:8], paddr)
	copy(payload[8:], buf)

	_, err := h.call(ctlWrite, payload)
	if err != nil {
		return fmt.Errorf("xen: write at 0x%x: %w", paddr, err)
	}

	return nil
}

// GetMemSize returns the domain's total physical memory size in bytes.
func (h *Handle) GetMemSize() (uint64, error) {
	v, err := h.callU64(ctlGetMemSize)
	if err != nil {
		return 0, fmt.Errorf("xen: get mem size: %w", err)
	}

	return v, nil
}

// GetEFER reads vCPU 0's EFER MSR, used to discover guest address
// width for HVM guests via the LMA bit.
func (h *Handle) GetEFER() (uint64, error) {
	v, err := h.callU64(ctlGetEFER)
	if err != nil {
		return 0, fmt.Errorf("xen: get efer: %w", err)
	}

	return v, nil
}

// GetAddressSize issues the get_address_size control operation used
// for paravirtualized guests, returning the raw bit width (32 or 64).
func (h *Handle) GetAddressSize() (uint64, error) {
	v, err := h.callU64(ctlGetAddressSize)
	if err != nil {
		return 0, fmt.Errorf("xen: get address size: %w", err)
	}

	return v, nil
}

// GetDomInfo reports whether domid is paravirtualized, mirroring
// xc_domain_getinfo's hvm flag (inverted here: true means PV).
func (h *Handle) GetDomInfo() (pv bool, err error) {
	v, err := h.callU64(ctlGetDomInfo)
	if err != nil {
		return false, fmt.Errorf("xen: get dom info: %w", err)
	}

	return v != 0, nil
}

// SetRegAccess arms or clears a register-event trap for reg on vcpu.
// effective is driver.RegNone to clear the trap.
func (h *Handle) SetRegAccess(reg uint64, vcpu uint32, effective driver.RegAccess) error {
	_, err := h.callU64(ctlSetRegAccess, reg, uint64(vcpu), uint64(effective))
	if err != nil {
		return fmt.Errorf("xen: set reg access on reg %d vcpu %d: %w", reg, vcpu, err)
	}

	return nil
}

// GetReg reads one raw register slot (already resolved to the
// backend's field index by the caller) for vcpu.
func (h *Handle) GetReg(vcpu uint32, slot uint64) (uint64, error) {
	v, err := h.callU64(ctlGetReg, uint64(vcpu), slot)
	if err != nil {
		return 0, fmt.Errorf("xen: get reg slot %d on vcpu %d: %w", slot, vcpu, err)
	}

	return v, nil
}

// SetReg writes one raw register slot for vcpu.
func (h *Handle) SetReg(vcpu uint32, slot, value uint64) error {
	_, err := h.callU64(ctlSetReg, uint64(vcpu), slot, value)
	if err != nil {
		return fmt.Errorf("xen: set reg slot %d on vcpu %d: %w", slot, vcpu, err)
	}

	return nil
}

// Pause suspends every vCPU of the domain.
func (h *Handle) Pause() error {
	_, err := h.callU64(ctlPause)
	if err != nil {
		return fmt.Errorf("xen: pause: %w", err)
	}

	return nil
}

// Resume resumes every vCPU of the domain.
func (h *Handle) Resume() error {
	_, err := h.callU64(ctlResume)
	if err != nil {
		return fmt.Errorf("xen: resume: %w", err)
	}

	return nil
}

// SetMemAccess programs pfn's effective access mask in the hypervisor.
func (h *Handle) SetMemAccess(pfn uint64, effective driver.MemAccess) error {
	_, err := h.callU64(ctlSetMemAccess, pfn, uint64(effective))
	if err != nil {
		return fmt.Errorf("xen: set mem access on pfn %d: %w", pfn, err)
	}

	return nil
}

// StartSingleStep begins single-instruction tracing on vcpu.
func (h *Handle) StartSingleStep(vcpu uint32) error {
	_, err := h.callU64(ctlStartSS, uint64(vcpu))
	if err != nil {
		return fmt.Errorf("xen: start single-step on vcpu %d: %w", vcpu, err)
	}

	return nil
}

// StopSingleStep ends single-instruction tracing on vcpu.
func (h *Handle) StopSingleStep(vcpu uint32) error {
	_, err := h.callU64(ctlStopSS, uint64(vcpu))
	if err != nil {
		return fmt.Errorf("xen: stop single-step on vcpu %d: %w", vcpu, err)
	}

	return nil
}

// ShutdownSingleStep ends single-instruction tracing on every vCPU.
func (h *Handle) ShutdownSingleStep() error {
	_, err := h.callU64(ctlShutdownSS)
	if err != nil {
		return fmt.Errorf("xen: shutdown single-step: %w", err)
	}

	return nil
}

// EventsListen blocks up to timeoutMS for pending events and returns
// the raw event records the control socket drained.
func (h *Handle) EventsListen(timeoutMS int) ([]byte, error) {
	reply, err := h.call(ctlEventsListen, encodeTimeout(timeoutMS))
	if err != nil {
		return nil, fmt.Errorf("xen: events listen: %w", err)
	}

	return reply, nil
}

func encodeTimeout(ms int) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(ms))
	return b[:]
}
