// Package registers defines the unified register enumeration (spec.md
// §4.7) that every backend's context layout is marshalled into and out
// of, plus the marshaller itself (marshal.go): a backend-neutral
// Context record, the HVM and PV get/set case tables over it, the PV
// subset check, and the CR3/MFN conversion.
//
// The backends (internal/driver/xen/regs.go and the KVM backend's
// GetVCPUReg/SetVCPUReg) route their wire values through these case
// tables, whose one-arm-per-field shape is grounded in the teacher's
// pkg/hypercall/word.go UInt32/UInt64 helpers.
package registers

// Reg is the unified register identifier. It covers GPRs, the
// instruction pointer, flags, control and debug registers, segment
// selector/base/limit/attribute quadruples, descriptor table bases,
// SYSENTER/SYSCALL MSRs and the TSC.
type Reg int

const (
	RegUnknown Reg = iota

	// General purpose registers. RegR8..RegR15 are only meaningful on
	// 64-bit guests.
	RegRAX
	RegRBX
	RegRCX
	RegRDX
	RegRSI
	RegRDI
	RegRSP
	RegRBP
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15

	RegRIP
	RegRFLAGS

	RegCR0
	RegCR2
	RegCR3
	RegCR4

	RegDR0
	RegDR1
	RegDR2
	RegDR3
	RegDR6
	RegDR7

	// Segment registers, each with four components. Only the selector
	// is meaningful for PV guests; base/limit/attrs are HVM-only.
	RegCSSel
	RegCSBase
	RegCSLimit
	RegCSAttr
	RegSSSel
	RegSSBase
	RegSSLimit
	RegSSAttr
	RegDSSel
	RegDSBase
	RegDSLimit
	RegDSAttr
	RegESSel
	RegESBase
	RegESLimit
	RegESAttr
	RegFSSel
	RegFSBase
	RegFSLimit
	RegFSAttr
	RegGSSel
	RegGSBase
	RegGSLimit
	RegGSAttr

	RegTRSel
	RegTRBase
	RegTRLimit
	RegTRAttr
	RegLDTRSel
	RegLDTRBase
	RegLDTRLimit
	RegLDTRAttr

	RegIDTRBase
	RegIDTRLimit
	RegGDTRBase
	RegGDTRLimit

	RegSysenterCS
	RegSysenterESP
	RegSysenterEIP

	RegShadowGS

	RegMSRFlags
	RegMSRLSTAR
	RegMSRCSTAR
	RegMSRSyscallMask
	RegMSREFER
	RegMSRTSCAux

	RegTSC
)

// GPCount64 and GPCount32 are the number of general-purpose registers
// exposed on 64- and 32-bit guests respectively (spec.md §4.7).
const (
	GPCount64 = 16
	GPCount32 = 8
)

// String names a register for logs and CLI output.
func (r Reg) String() string {
	if s, ok := names[r]; ok {
		return s
	}

	return "unknown"
}

// ParseReg looks up a register by its String() name, for config files
// and CLI flags.
func ParseReg(s string) (Reg, bool) {
	r, ok := byName[s]
	return r, ok
}

var byName = func() map[string]Reg {
	m := make(map[string]Reg, len(names))
	for r, n := range names {
		m[n] = r
	}

	return m
}()

var names = map[Reg]string{
	RegRAX: "rax", RegRBX: "rbx", RegRCX: "rcx", RegRDX: "rdx",
	RegRSI: "rsi", RegRDI: "rdi", RegRSP: "rsp", RegRBP: "rbp",
	RegR8: "r8", RegR9: "r9", RegR10: "r10", RegR11: "r11",
	RegR12: "r12", RegR13: "r13", RegR14: "r14", RegR15: "r15",
	RegRIP: "rip", RegRFLAGS: "rflags",
	RegCR0: "cr0", RegCR2: "cr2", RegCR3: "cr3", RegCR4: "cr4",
	RegDR0: "dr0", RegDR1: "dr1", RegDR2: "dr2", RegDR3: "dr3", RegDR6: "dr6", RegDR7: "dr7",
	RegCSSel: "cs_sel", RegCSBase: "cs_base", RegCSLimit: "cs_limit", RegCSAttr: "cs_attr",
	RegSSSel: "ss_sel", RegSSBase: "ss_base", RegSSLimit: "ss_limit", RegSSAttr: "ss_attr",
	RegDSSel: "ds_sel", RegDSBase: "ds_base", RegDSLimit: "ds_limit", RegDSAttr: "ds_attr",
	RegESSel: "es_sel", RegESBase: "es_base", RegESLimit: "es_limit", RegESAttr: "es_attr",
	RegFSSel: "fs_sel", RegFSBase: "fs_base", RegFSLimit: "fs_limit", RegFSAttr: "fs_attr",
	RegGSSel: "gs_sel", RegGSBase: "gs_base", RegGSLimit: "gs_limit", RegGSAttr: "gs_attr",
	RegTRSel: "tr_sel", RegTRBase: "tr_base", RegTRLimit: "tr_limit", RegTRAttr: "tr_attr",
	RegLDTRSel: "ldtr_sel", RegLDTRBase: "ldtr_base", RegLDTRLimit: "ldtr_limit", RegLDTRAttr: "ldtr_attr",
	RegIDTRBase: "idtr_base", RegIDTRLimit: "idtr_limit", RegGDTRBase: "gdtr_base", RegGDTRLimit: "gdtr_limit",
	RegSysenterCS: "sysenter_cs", RegSysenterESP: "sysenter_esp", RegSysenterEIP: "sysenter_eip",
	RegShadowGS:       "shadow_gs",
	RegMSRFlags:       "msr_flags",
	RegMSRLSTAR:       "msr_lstar",
	RegMSRCSTAR:       "msr_cstar",
	RegMSRSyscallMask: "msr_syscall_mask",
	RegMSREFER:        "msr_efer",
	RegMSRTSCAux:      "msr_tsc_aux",
	RegTSC:            "tsc",
}
