package vmi

import (
	"errors"
	"testing"

	"github.com/go-vmi/vmi/internal/driver"
)

// The file backend never supports events; registering against it
// should surface driver.ErrUnsupported wrapped with the vmi: prefix.
func TestEventRegistrationOnUnsupportedBackend(t *testing.T) {
	path := newTestDump(t, 4096)

	inst, err := Init(0, "", ModeFile, InitPartial, Config{FilePath: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer inst.Destroy()

	if err := inst.RegisterPageMemEvent(0, MemRead, nil); !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("RegisterPageMemEvent = %v, want ErrUnsupported", err)
	}

	if err := inst.RegisterRegEvent(RegCR3, 0, RegAccessWrite, nil); !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("RegisterRegEvent = %v, want ErrUnsupported", err)
	}

	if err := inst.RegisterSingleStep(0, nil); !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("RegisterSingleStep = %v, want ErrUnsupported", err)
	}

	if err := inst.EventsListen(0); !errors.Is(err, driver.ErrUnsupported) {
		t.Fatalf("EventsListen = %v, want ErrUnsupported", err)
	}
}

func TestClearUnregisteredEventFails(t *testing.T) {
	path := newTestDump(t, 4096)

	inst, err := Init(0, "", ModeFile, InitPartial, Config{FilePath: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer inst.Destroy()

	if err := inst.ClearPageMemEvent(0); err == nil {
		t.Fatalf("ClearPageMemEvent on unregistered pfn: want error")
	}
}
