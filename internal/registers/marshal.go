package registers

import "fmt"

// ErrUnsupported is returned when a register is outside the subset a
// given context kind (HVM or PV) exposes. Backends wrap this with
// driver.ErrUnsupported at their boundary; this package stays free of
// a dependency on internal/driver so it can be imported by both
// backends and the page-table walker without a cycle.
var ErrUnsupported = fmt.Errorf("registers: unsupported")

// Context is the backend-neutral save-state record the marshaller
// reads from and writes into: every field a backend's HVM or PV layout
// might populate, named after the unified enum rather than any one
// hypervisor's struct. Backends marshal their own wire format into and
// out of a Context field-by-field, the same way the teacher's
// UInt32/UInt64 helpers marshal a fixed hardware register layout one
// field at a time instead of via reflection.
type Context struct {
	GP [GPCount64]uint64 // indexed by gpIndex(reg)

	RIP    uint64
	RFLAGS uint64

	CR0, CR2, CR3, CR4 uint64
	DR0, DR1, DR2, DR3, DR6, DR7 uint64

	Seg [6]Segment // cs, ss, ds, es, fs, gs, in that order

	TR, LDTR Segment

	IDTRBase, IDTRLimit uint64
	GDTRBase, GDTRLimit uint64

	SysenterCS, SysenterESP, SysenterEIP uint64
	ShadowGS                             uint64

	MSRFlags, MSRLSTAR, MSRCSTAR, MSRSyscallMask, MSREFER, MSRTSCAux uint64

	TSC uint64
}

// Segment is one segment register's four components.
type Segment struct {
	Selector uint64
	Base     uint64
	Limit    uint64
	Attr     uint64
}

var gpIndex = map[Reg]int{
	RegRAX: 0, RegRBX: 1, RegRCX: 2, RegRDX: 3,
	RegRSI: 4, RegRDI: 5, RegRSP: 6, RegRBP: 7,
	RegR8: 8, RegR9: 9, RegR10: 10, RegR11: 11,
	RegR12: 12, RegR13: 13, RegR14: 14, RegR15: 15,
}

var segIndex = map[Reg]int{
	RegCSSel: 0, RegSSSel: 1, RegDSSel: 2, RegESSel: 3, RegFSSel: 4, RegGSSel: 5,
}

// segComponent names which of a Segment's four fields a register
// selects.
type segComponent int

const (
	segSelector segComponent = iota
	segBase
	segLimit
	segAttr
)

var segField = map[Reg]struct {
	seg  int
	part segComponent
}{
	RegCSSel: {0, segSelector}, RegCSBase: {0, segBase}, RegCSLimit: {0, segLimit}, RegCSAttr: {0, segAttr},
	RegSSSel: {1, segSelector}, RegSSBase: {1, segBase}, RegSSLimit: {1, segLimit}, RegSSAttr: {1, segAttr},
	RegDSSel: {2, segSelector}, RegDSBase: {2, segBase}, RegDSLimit: {2, segLimit}, RegDSAttr: {2, segAttr},
	RegESSel: {3, segSelector}, RegESBase: {3, segBase}, RegESLimit: {3, segLimit}, RegESAttr: {3, segAttr},
	RegFSSel: {4, segSelector}, RegFSBase: {4, segBase}, RegFSLimit: {4, segLimit}, RegFSAttr: {4, segAttr},
	RegGSSel: {5, segSelector}, RegGSBase: {5, segBase}, RegGSLimit: {5, segLimit}, RegGSAttr: {5, segAttr},
}

func segValue(s Segment, part segComponent) uint64 {
	switch part {
	case segSelector:
		return s.Selector
	case segBase:
		return s.Base
	case segLimit:
		return s.Limit
	default:
		return s.Attr
	}
}

func segSet(s *Segment, part segComponent, v uint64) {
	switch part {
	case segSelector:
		s.Selector = v
	case segBase:
		s.Base = v
	case segLimit:
		s.Limit = v
	default:
		s.Attr = v
	}
}

// GetHVM reads reg from an HVM guest's context, where every field
// (including segment base/limit/attrs) is meaningful.
func GetHVM(ctx *Context, reg Reg) (uint64, error) {
	if i, ok := gpIndex[reg]; ok {
		return ctx.GP[i], nil
	}
	if f, ok := segField[reg]; ok {
		return segValue(ctx.Seg[f.seg], f.part), nil
	}

	switch reg {
	case RegRIP:
		return ctx.RIP, nil
	case RegRFLAGS:
		return ctx.RFLAGS, nil
	case RegCR0:
		return ctx.CR0, nil
	case RegCR2:
		return ctx.CR2, nil
	case RegCR3:
		return ctx.CR3, nil
	case RegCR4:
		return ctx.CR4, nil
	case RegDR0:
		return ctx.DR0, nil
	case RegDR1:
		return ctx.DR1, nil
	case RegDR2:
		return ctx.DR2, nil
	case RegDR3:
		return ctx.DR3, nil
	case RegDR6:
		return ctx.DR6, nil
	case RegDR7:
		return ctx.DR7, nil
	case RegTRSel:
		return ctx.TR.Selector, nil
	case RegTRBase:
		return ctx.TR.Base, nil
	case RegTRLimit:
		return ctx.TR.Limit, nil
	case RegTRAttr:
		return ctx.TR.Attr, nil
	case RegLDTRSel:
		return ctx.LDTR.Selector, nil
	case RegLDTRBase:
		return ctx.LDTR.Base, nil
	case RegLDTRLimit:
		return ctx.LDTR.Limit, nil
	case RegLDTRAttr:
		return ctx.LDTR.Attr, nil
	case RegIDTRBase:
		return ctx.IDTRBase, nil
	case RegIDTRLimit:
		return ctx.IDTRLimit, nil
	case RegGDTRBase:
		return ctx.GDTRBase, nil
	case RegGDTRLimit:
		return ctx.GDTRLimit, nil
	case RegSysenterCS:
		return ctx.SysenterCS, nil
	case RegSysenterESP:
		return ctx.SysenterESP, nil
	case RegSysenterEIP:
		return ctx.SysenterEIP, nil
	case RegShadowGS:
		return ctx.ShadowGS, nil
	case RegMSRFlags:
		return ctx.MSRFlags, nil
	case RegMSRLSTAR:
		return ctx.MSRLSTAR, nil
	case RegMSRCSTAR:
		return ctx.MSRCSTAR, nil
	case RegMSRSyscallMask:
		return ctx.MSRSyscallMask, nil
	case RegMSREFER:
		return ctx.MSREFER, nil
	case RegMSRTSCAux:
		return ctx.MSRTSCAux, nil
	case RegTSC:
		return ctx.TSC, nil
	default:
		return 0, fmt.Errorf("registers: get %s: %w", reg, ErrUnsupported)
	}
}

// SetHVM writes reg into an HVM guest's context.
func SetHVM(ctx *Context, reg Reg, value uint64) error {
	if i, ok := gpIndex[reg]; ok {
		ctx.GP[i] = value
		return nil
	}
	if f, ok := segField[reg]; ok {
		segSet(&ctx.Seg[f.seg], f.part, value)
		return nil
	}

	switch reg {
	case RegRIP:
		ctx.RIP = value
	case RegRFLAGS:
		ctx.RFLAGS = value
	case RegCR0:
		ctx.CR0 = value
	case RegCR2:
		ctx.CR2 = value
	case RegCR3:
		ctx.CR3 = value
	case RegCR4:
		ctx.CR4 = value
	case RegDR0:
		ctx.DR0 = value
	case RegDR1:
		ctx.DR1 = value
	case RegDR2:
		ctx.DR2 = value
	case RegDR3:
		ctx.DR3 = value
	case RegDR6:
		ctx.DR6 = value
	case RegDR7:
		ctx.DR7 = value
	case RegTRSel:
		ctx.TR.Selector = value
	case RegTRBase:
		ctx.TR.Base = value
	case RegTRLimit:
		ctx.TR.Limit = value
	case RegTRAttr:
		ctx.TR.Attr = value
	case RegLDTRSel:
		ctx.LDTR.Selector = value
	case RegLDTRBase:
		ctx.LDTR.Base = value
	case RegLDTRLimit:
		ctx.LDTR.Limit = value
	case RegLDTRAttr:
		ctx.LDTR.Attr = value
	case RegIDTRBase:
		ctx.IDTRBase = value
	case RegIDTRLimit:
		ctx.IDTRLimit = value
	case RegGDTRBase:
		ctx.GDTRBase = value
	case RegGDTRLimit:
		ctx.GDTRLimit = value
	case RegSysenterCS:
		ctx.SysenterCS = value
	case RegSysenterESP:
		ctx.SysenterESP = value
	case RegSysenterEIP:
		ctx.SysenterEIP = value
	case RegShadowGS:
		ctx.ShadowGS = value
	case RegMSRFlags:
		ctx.MSRFlags = value
	case RegMSRLSTAR:
		ctx.MSRLSTAR = value
	case RegMSRCSTAR:
		ctx.MSRCSTAR = value
	case RegMSRSyscallMask:
		ctx.MSRSyscallMask = value
	case RegMSREFER:
		ctx.MSREFER = value
	case RegMSRTSCAux:
		ctx.MSRTSCAux = value
	case RegTSC:
		ctx.TSC = value
	default:
		return fmt.Errorf("registers: set %s: %w", reg, ErrUnsupported)
	}

	return nil
}

// pvSupported is the register subset a paravirtualized guest's save
// record actually carries: GPRs, RIP/RFLAGS, CR3 (as an MFN, see
// CR3ToMFN/MFNToCR3), segment selectors, and the syscall MSRs. Segment
// base/limit/attrs and debug registers are HVM-only.
var pvSupported = buildPVSupported()

func buildPVSupported() map[Reg]bool {
	m := map[Reg]bool{
		RegRIP: true, RegRFLAGS: true, RegCR3: true,
		RegCSSel: true, RegSSSel: true, RegDSSel: true,
		RegESSel: true, RegFSSel: true, RegGSSel: true,
		RegSysenterCS: true, RegSysenterESP: true, RegSysenterEIP: true,
		RegMSRLSTAR: true, RegMSRCSTAR: true, RegMSRSyscallMask: true, RegMSREFER: true,
	}
	for r := range gpIndex {
		m[r] = true
	}

	return m
}

// GetPV reads reg from a paravirtualized guest's context. Registers
// outside the PV subset return ErrUnsupported.
func GetPV(ctx *Context, reg Reg) (uint64, error) {
	if !pvSupported[reg] {
		return 0, fmt.Errorf("registers: get %s: %w", reg, ErrUnsupported)
	}

	return GetHVM(ctx, reg)
}

// SetPV writes reg into a paravirtualized guest's context. Registers
// outside the PV subset return ErrUnsupported.
func SetPV(ctx *Context, reg Reg, value uint64) error {
	if !pvSupported[reg] {
		return fmt.Errorf("registers: set %s: %w", reg, ErrUnsupported)
	}

	return SetHVM(ctx, reg, value)
}

// IsPVSupported reports whether reg is in the paravirtualized save
// record's subset, for backends that validate before issuing a wire
// call rather than marshalling through a Context.
func IsPVSupported(reg Reg) bool {
	return pvSupported[reg]
}

// CR3ToMFN and MFNToCR3 convert between a PV guest's CR3 value (a
// guest-physical frame number shifted into CR3's bit layout) and the
// bare machine frame number the Xen PV ABI uses for the page-table
// root. Guest-physical address = mfn << 12; CR3's low 12 bits are
// reserved/flags and dropped.
func CR3ToMFN(cr3 uint64) uint64 {
	return cr3 >> 12
}

// MFNToCR3 is the inverse of CR3ToMFN.
func MFNToCR3(mfn uint64) uint64 {
	return mfn << 12
}
