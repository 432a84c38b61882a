package registers

import "testing"

// Round-trip law 7: set_vcpureg(r, v); get_vcpureg(r) == v, for HVM
// contexts covering GPRs, control registers and segment components.
func TestGetSetHVMRoundTrip(t *testing.T) {
	regs := []Reg{
		RegRAX, RegR15, RegRIP, RegRFLAGS,
		RegCR0, RegCR3, RegDR7,
		RegCSSel, RegCSBase, RegCSLimit, RegCSAttr,
		RegGSSel, RegGSBase, RegGSLimit, RegGSAttr,
		RegTRBase, RegLDTRAttr, RegIDTRBase, RegGDTRLimit,
		RegSysenterEIP, RegShadowGS, RegMSREFER, RegTSC,
	}

	for i, reg := range regs {
		ctx := &Context{}
		want := uint64(0x1000) + uint64(i)

		if err := SetHVM(ctx, reg, want); err != nil {
			t.Fatalf("SetHVM(%s): %v", reg, err)
		}

		got, err := GetHVM(ctx, reg)
		if err != nil {
			t.Fatalf("GetHVM(%s): %v", reg, err)
		}
		if got != want {
			t.Errorf("%s round trip: got 0x%x, want 0x%x", reg, got, want)
		}
	}
}

func TestGetHVMUnknownRegisterIsUnsupported(t *testing.T) {
	ctx := &Context{}
	if _, err := GetHVM(ctx, RegUnknown); err == nil {
		t.Fatalf("GetHVM(RegUnknown): want error")
	}
}

// PV guests only expose a subset of registers; everything else is
// ErrUnsupported on both get and set.
func TestPVSubsetRestriction(t *testing.T) {
	ctx := &Context{}

	if !IsPVSupported(RegRAX) {
		t.Errorf("RegRAX should be PV-supported")
	}
	if IsPVSupported(RegCSBase) {
		t.Errorf("RegCSBase (segment base) should not be PV-supported")
	}
	if IsPVSupported(RegDR0) {
		t.Errorf("RegDR0 should not be PV-supported")
	}

	if err := SetPV(ctx, RegRAX, 0x42); err != nil {
		t.Fatalf("SetPV(RegRAX): %v", err)
	}
	if v, err := GetPV(ctx, RegRAX); err != nil || v != 0x42 {
		t.Fatalf("GetPV(RegRAX) = %v, %v, want 0x42, nil", v, err)
	}

	if _, err := GetPV(ctx, RegCSBase); err == nil {
		t.Fatalf("GetPV(RegCSBase): want ErrUnsupported")
	}
	if err := SetPV(ctx, RegDR0, 1); err == nil {
		t.Fatalf("SetPV(RegDR0): want ErrUnsupported")
	}
}

func TestCR3MFNRoundTrip(t *testing.T) {
	cases := []uint64{0, 0x1000, 0xdeadb000, 0x7fffffff000}

	for _, cr3 := range cases {
		mfn := CR3ToMFN(cr3)
		if got := MFNToCR3(mfn); got != cr3 {
			t.Errorf("MFNToCR3(CR3ToMFN(0x%x)) = 0x%x, want 0x%x", cr3, got, cr3)
		}
	}
}

func TestParseRegRoundTrip(t *testing.T) {
	for _, reg := range []Reg{RegRAX, RegCR3, RegGSAttr, RegMSREFER, RegTSC} {
		parsed, ok := ParseReg(reg.String())
		if !ok {
			t.Fatalf("ParseReg(%q): not found", reg.String())
		}
		if parsed != reg {
			t.Errorf("ParseReg(%q) = %v, want %v", reg.String(), parsed, reg)
		}
	}

	if _, ok := ParseReg("not-a-register"); ok {
		t.Errorf("ParseReg(garbage): want not found")
	}
}
