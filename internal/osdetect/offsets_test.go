package osdetect

import "testing"

func TestFamilyString(t *testing.T) {
	cases := map[Family]string{
		FamilyNone:    "none",
		FamilyLinux:   "linux",
		FamilyWindows: "windows",
		Family(99):    "none",
	}

	for f, want := range cases {
		if got := f.String(); got != want {
			t.Errorf("Family(%d).String() = %q, want %q", f, got, want)
		}
	}
}

type fakePhysReader struct{}

func (fakePhysReader) ReadPA(uint64, []byte) error { return nil }

func TestDetectInvokesDetector(t *testing.T) {
	want := OffsetTable{Family: FamilyLinux, LinuxPID: 0x4c8}

	var gotCR3 uint64
	d := func(mem PhysReader, cr3 uint64) (OffsetTable, error) {
		gotCR3 = cr3
		return want, nil
	}

	got, err := Detect(d, fakePhysReader{}, 0xdead000)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got != want {
		t.Fatalf("Detect() = %+v, want %+v", got, want)
	}
	if gotCR3 != 0xdead000 {
		t.Fatalf("detector saw cr3 = 0x%x, want 0xdead000", gotCR3)
	}
}
