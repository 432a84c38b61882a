package vmi

import (
	"errors"
	"testing"

	"github.com/go-vmi/vmi/internal/driver"
)

func TestRegisterAccessOnUnsupportedBackend(t *testing.T) {
	path := newTestDump(t, 4096)

	inst, err := Init(0, "", ModeFile, InitPartial, Config{FilePath: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer inst.Destroy()

	if _, err := inst.GetVCPUReg(RegRAX, 0); !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("GetVCPUReg = %v, want ErrUnsupported", err)
	}
	if err := inst.SetVCPUReg(RegRAX, 0, 1); !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("SetVCPUReg = %v, want ErrUnsupported", err)
	}
	if err := inst.Pause(); !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("Pause = %v, want ErrUnsupported", err)
	}
	if err := inst.Resume(); !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("Resume = %v, want ErrUnsupported", err)
	}
}
