package xen

import (
	"encoding/binary"
	"fmt"

	"github.com/go-vmi/vmi/internal/driver"
	"github.com/go-vmi/vmi/internal/registers"
)

// getSetReg issues a single register read or write through the
// control socket, marshalling the wire value through a registers.
// Context so PV guests get the same field validation and CR3 handling
// spec.md §4.7 describes ("CR3 on paravirt is stored as a
// machine-frame-number; the marshaller converts between MFN and
// physical address on read and write"), the same conversion original
// libvmi's xen_cr3_to_pfn_x86_64/xc_domain_getinfo pair performs
// around its own get/set-vcpucontext calls.
func (b *Backend) getSetReg(reg registers.Reg, vcpu uint32, value uint64, write bool) (uint64, error) {
	if b.pv && !registers.IsPVSupported(reg) {
		return 0, fmt.Errorf("xen: register %s not in PV subset: %w", reg, driver.ErrUnsupported)
	}

	setCtx, getCtx := registers.SetHVM, registers.GetHVM
	if b.pv {
		setCtx, getCtx = registers.SetPV, registers.GetPV
	}

	slot := uint64(reg)

	if !write {
		raw, err := b.ctl.GetReg(vcpu, slot)
		if err != nil {
			return 0, fmt.Errorf("xen: get vcpu reg %s on vcpu %d: %w", reg, vcpu, driver.ErrAccessFailure)
		}

		ctx := &registers.Context{}
		if err := setCtx(ctx, reg, raw); err != nil {
			return 0, fmt.Errorf("xen: marshal vcpu reg %s: %w", reg, driver.ErrUnsupported)
		}

		v, err := getCtx(ctx, reg)
		if err != nil {
			return 0, fmt.Errorf("xen: marshal vcpu reg %s: %w", reg, driver.ErrUnsupported)
		}

		if b.pv && reg == registers.RegCR3 {
			v = registers.MFNToCR3(v)
		}

		return v, nil
	}

	wireValue := value
	if b.pv && reg == registers.RegCR3 {
		wireValue = registers.CR3ToMFN(value)
	}

	ctx := &registers.Context{}
	if err := setCtx(ctx, reg, wireValue); err != nil {
		return 0, fmt.Errorf("xen: marshal vcpu reg %s: %w", reg, driver.ErrUnsupported)
	}

	out, err := getCtx(ctx, reg)
	if err != nil {
		return 0, fmt.Errorf("xen: marshal vcpu reg %s: %w", reg, driver.ErrUnsupported)
	}

	if err := b.ctl.SetReg(vcpu, slot, out); err != nil {
		return 0, fmt.Errorf("xen: set vcpu reg %s on vcpu %d: %w", reg, vcpu, driver.ErrAccessFailure)
	}

	return value, nil
}

const eventRecordLen = 32

// decodeEvents splits a batch of fixed-size event records out of the
// control socket's EventsListen reply. Each record is: kind(4) +
// vcpu(4) + key(8) + offset(8) + value(8), where kind selects which of
// MemEventFired/RegEventFired/SingleStepFired the record decodes into.
// offset carries the intra-page offset for mem events (byte-granularity
// registrations per spec.md §4.5); it is unused and zero for reg and
// single-step records.
func decodeEvents(raw []byte) ([]driver.Event, error) {
	if len(raw)%eventRecordLen != 0 {
		return nil, fmt.Errorf("xen: malformed event batch of %d bytes", len(raw))
	}

	var out []driver.Event

	for off := 0; off < len(raw); off += eventRecordLen {
		rec := raw[off : off+eventRecordLen]
		kind := binary.LittleEndian.Uint32(rec[0:4])
		vcpu := binary.LittleEndian.Uint32(rec[4:8])
		key := binary.LittleEndian.Uint64(rec[8:16])
		offset := binary.LittleEndian.Uint64(rec[16:24])
		value := binary.LittleEndian.Uint64(rec[24:32])

		switch kind {
		case 0:
			out = append(out, driver.Event{Mem: &driver.MemEventFired{
				PFN:    key,
				Offset: offset,
				VCPU:   vcpu,
				Access: driver.MemAccess(value),
			}})
		case 1:
			out = append(out, driver.Event{Reg: &driver.RegEventFired{
				Reg:    registers.Reg(key),
				VCPU:   vcpu,
				Value:  value,
			}})
		case 2:
			out = append(out, driver.Event{Step: &driver.SingleStepFired{
				VCPU: vcpu,
				RIP:  value,
			}})
		default:
			return nil, fmt.Errorf("xen: unknown event kind %d", kind)
		}
	}

	return out, nil
}
