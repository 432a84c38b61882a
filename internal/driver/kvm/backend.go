package kvm

import (
	"fmt"

	"github.com/go-vmi/vmi/internal/driver"
	"github.com/go-vmi/vmi/internal/pagecache"
	"github.com/go-vmi/vmi/internal/registers"
)

const (
	pageSize  = 4096
	pageShift = 12
)

// Backend implements driver.Driver against a KVM/QEMU guest. It owns
// one monitor connection, chosen by trying QMP first and falling back
// to GDB when the QMP socket is absent, per spec.md §9(b).
type Backend struct {
	qmpPath string
	gdbAddr string
	name    string

	mon    monitor
	active Transport
	cache  *pagecache.Cache
}

// New returns a Backend that will try qmpPath first, then gdbAddr, on
// Init.
func New(qmpPath, gdbAddr, name string) *Backend {
	return &Backend{qmpPath: qmpPath, gdbAddr: gdbAddr, name: name}
}

func (b *Backend) Init(id uint64, name string) error {
	if name != "" {
		b.name = name
	}

	qmp := newQMPMonitor(b.qmpPath)
	if err := qmp.Connect(); err == nil {
		b.mon = qmp
		b.active = TransportQMP
	} else {
		gdb := newGDBMonitor(b.gdbAddr)
		if gerr := gdb.Connect(); gerr != nil {
			return fmt.Errorf("kvm: init: qmp failed (%v), gdb failed (%v): %w", err, gerr, driver.ErrInitFailure)
		}
		b.mon = gdb
		b.active = TransportGDB
	}

	b.cache = pagecache.New(1024, b)

	return nil
}

func (b *Backend) Destroy() error {
	if b.cache != nil {
		b.cache.Flush()
	}

	if b.mon == nil {
		return nil
	}

	err := b.mon.Disconnect()
	b.mon = nil

	return err
}

// Transport reports which monitor transport this backend connected
// with, for callers that want to surface the choice (spec.md §9(b):
// "choice semantics should be exposed as configuration").
func (b *Backend) Transport() Transport {
	return b.active
}

func (b *Backend) MapFrame(pfn uint64, _ driver.Protection) ([]byte, error) {
	if page, ok := b.cache.Get(pfn); ok {
		return page, nil
	}

	page := make([]byte, pageSize)
	if err := b.mon.ReadMemory(pfn*pageSize, page); err != nil {
		return nil, fmt.Errorf("kvm: map frame %d: %w", pfn, driver.ErrAccessFailure)
	}

	b.cache.Insert(pfn, page)

	return page, nil
}

// ReleaseFrame is a no-op: KVM frames are plain Go byte slices, not a
// host mapping that needs unmapping.
func (b *Backend) ReleaseFrame(page []byte) error {
	return nil
}

func (b *Backend) ReadPA(paddr uint64, buf []byte) error {
	if err := b.mon.ReadMemory(paddr, buf); err != nil {
		return fmt.Errorf("kvm: read at 0x%x: %w", paddr, driver.ErrAccessFailure)
	}

	return nil
}

// Write splits buf across page boundaries, one monitor call per page,
// matching every other backend's non-atomic write-path behavior
// (spec.md §9 Open Question (a)).
func (b *Backend) Write(paddr uint64, buf []byte) error {
	remaining := buf
	addr := paddr

	for len(remaining) > 0 {
		offset := addr & (pageSize - 1)
		n := pageSize - int(offset)
		if n > len(remaining) {
			n = len(remaining)
		}

		if err := b.mon.WriteMemory(addr, remaining[:n]); err != nil {
			return fmt.Errorf("kvm: write at 0x%x: %w", addr, driver.ErrAccessFailure)
		}

		remaining = remaining[n:]
		addr += uint64(n)
	}

	return nil
}

func (b *Backend) GetName() (string, error) {
	return b.name, nil
}

func (b *Backend) GetID() (uint64, error) {
	return 0, fmt.Errorf("kvm: get id: %w", driver.ErrUnsupported)
}

func (b *Backend) GetNameFromID(id uint64) (string, error) {
	return "", fmt.Errorf("kvm: get name from id: %w", driver.ErrUnsupported)
}

func (b *Backend) GetIDFromName(name string) (uint64, error) {
	return 0, fmt.Errorf("kvm: get id from name: %w", driver.ErrUnsupported)
}

func (b *Backend) GetMemSize() (uint64, error) {
	size, err := b.mon.MemSize()
	if err != nil {
		return 0, fmt.Errorf("kvm: get mem size: %w", driver.ErrAccessFailure)
	}

	return size, nil
}

// GetAddressWidth discovers guest address width the same way the Xen
// HVM path does: EFER.LMA, read as a register through the active
// monitor.
func (b *Backend) GetAddressWidth() (int, error) {
	efer, err := b.mon.GetReg(0, registers.RegMSREFER)
	if err != nil {
		return 0, fmt.Errorf("kvm: get address width: %w", driver.ErrAccessFailure)
	}

	const eferLMA = 1 << 8
	if efer&eferLMA != 0 {
		return 8, nil
	}

	return 4, nil
}

// GetVCPUReg reads reg through the monitor and marshals it through a
// registers.Context, the same HVM field-validation path the Xen
// backend uses: KVM guests are always HVM, so the PV save-record
// subset and CR3/MFN conversion never apply here.
func (b *Backend) GetVCPUReg(reg registers.Reg, vcpu uint32) (uint64, error) {
	raw, err := b.mon.GetReg(vcpu, reg)
	if err != nil {
		return 0, fmt.Errorf("kvm: get vcpu reg %s on vcpu %d: %w", reg, vcpu, driver.ErrAccessFailure)
	}

	ctx := &registers.Context{}
	if err := registers.SetHVM(ctx, reg, raw); err != nil {
		return 0, fmt.Errorf("kvm: get vcpu reg %s on vcpu %d: %w", reg, vcpu, driver.ErrUnsupported)
	}

	v, err := registers.GetHVM(ctx, reg)
	if err != nil {
		return 0, fmt.Errorf("kvm: get vcpu reg %s on vcpu %d: %w", reg, vcpu, driver.ErrUnsupported)
	}

	return v, nil
}

func (b *Backend) SetVCPUReg(reg registers.Reg, vcpu uint32, value uint64) error {
	ctx := &registers.Context{}
	if err := registers.SetHVM(ctx, reg, value); err != nil {
		return fmt.Errorf("kvm: set vcpu reg %s on vcpu %d: %w", reg, vcpu, driver.ErrUnsupported)
	}

	wireValue, err := registers.GetHVM(ctx, reg)
	if err != nil {
		return fmt.Errorf("kvm: set vcpu reg %s on vcpu %d: %w", reg, vcpu, driver.ErrUnsupported)
	}

	if err := b.mon.SetReg(vcpu, reg, wireValue); err != nil {
		if b.active == TransportGDB {
			return fmt.Errorf("kvm: set vcpu reg %s on vcpu %d: %w", reg, vcpu, driver.ErrUnsupported)
		}
		return fmt.Errorf("kvm: set vcpu reg %s on vcpu %d: %w", reg, vcpu, driver.ErrAccessFailure)
	}

	return nil
}

func (b *Backend) Pause() error {
	if err := b.mon.Pause(); err != nil {
		return fmt.Errorf("kvm: pause: %w", driver.ErrAccessFailure)
	}

	return nil
}

func (b *Backend) Resume() error {
	if err := b.mon.Resume(); err != nil {
		return fmt.Errorf("kvm: resume: %w", driver.ErrAccessFailure)
	}

	return nil
}

// SetRegAccess, SetMemAccess, single-step and event delivery have no
// QMP or GDB-remote-serial equivalent without a patched QEMU; neither
// transport this backend speaks exposes them.
func (b *Backend) SetRegAccess(ev driver.RegEvent) error {
	return fmt.Errorf("kvm: set reg access on %s: %w", ev.Reg, driver.ErrUnsupported)
}

func (b *Backend) SetMemAccess(pfn uint64, effective driver.MemAccess) error {
	return fmt.Errorf("kvm: set mem access on pfn %d: %w", pfn, driver.ErrUnsupported)
}

func (b *Backend) StartSingleStep(vcpu uint32) error {
	return fmt.Errorf("kvm: start single-step on vcpu %d: %w", vcpu, driver.ErrUnsupported)
}

func (b *Backend) StopSingleStep(vcpu uint32) error {
	return fmt.Errorf("kvm: stop single-step on vcpu %d: %w", vcpu, driver.ErrUnsupported)
}

func (b *Backend) ShutdownSingleStep() error {
	return fmt.Errorf("kvm: shutdown single-step: %w", driver.ErrUnsupported)
}

func (b *Backend) EventsListen(timeoutMS int) ([]driver.Event, error) {
	return nil, fmt.Errorf("kvm: events listen: %w", driver.ErrUnsupported)
}

// SupportsEvents reports false: neither QMP nor the GDB remote-serial
// stub exposes an access-trap or event-delivery plane without a
// patched QEMU.
func (b *Backend) SupportsEvents() bool {
	return false
}
