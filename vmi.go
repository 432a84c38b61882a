// Package vmi is the public API: the session/dispatcher described in
// spec.md §4.1. It selects a backend at Init and routes every call to
// that backend's driver. Register and event calls never touch the page
// cache; memory reads reach it only on the Xen backend, whose ReadPA
// maps frames through its cache, and writes do not go through it on
// any backend.
//
// The package carries no package-level mutable state: every call
// operates on an explicit *Instance, and every Instance carries no
// internal synchronization — callers serialize calls per Instance
// themselves (spec.md §5).
package vmi

import (
	"fmt"
	"log/slog"

	"github.com/go-vmi/vmi/internal/capcheck"
	"github.com/go-vmi/vmi/internal/debuglog"
	"github.com/go-vmi/vmi/internal/driver"
	"github.com/go-vmi/vmi/internal/driver/file"
	"github.com/go-vmi/vmi/internal/driver/kvm"
	"github.com/go-vmi/vmi/internal/driver/xen"
	"github.com/go-vmi/vmi/internal/events"
	"github.com/go-vmi/vmi/internal/osdetect"
)

// AccessMode selects which backend an Instance talks to.
type AccessMode int

const (
	ModeXenLive AccessMode = iota
	ModeKVMLive
	ModeFile
)

func (m AccessMode) String() string {
	switch m {
	case ModeXenLive:
		return "xen"
	case ModeKVMLive:
		return "kvm"
	case ModeFile:
		return "file"
	default:
		return "unknown"
	}
}

// InitFlags is the bitset of init-mode flags from spec.md §4.1.
type InitFlags uint8

const (
	// InitPartial brings up memory access only.
	InitPartial InitFlags = 1 << 0
	// InitFull also introspects the guest OS (caller still supplies the
	// detector; see Instance.DetectOS).
	InitFull InitFlags = 1 << 1
	// InitEvents enables event delivery. Init fails with
	// driver.ErrUnsupported if the selected backend cannot support it.
	InitEvents InitFlags = 1 << 2
)

// Config gathers everything Init needs beyond the VM identifier,
// access mode and init flags: backend-specific connection details and
// an optional debug sink.
type Config struct {
	// FilePath is the snapshot file path, required for ModeFile.
	FilePath string

	// XenStoreSocket and XenControlSocket are the xenstore and control
	// channel Unix sockets, required for ModeXenLive.
	XenStoreSocket   string
	XenControlSocket string

	// KVMQMPSocket and KVMGDBAddr are the QMP Unix socket and GDB
	// remote-serial TCP address, required for ModeKVMLive. The backend
	// tries QMP first and falls back to GDB.
	KVMQMPSocket string
	KVMGDBAddr   string

	// Logger receives structured logs; a nil Logger discards them.
	Logger *slog.Logger
}

// Instance is the opaque per-session handle spec.md §3 describes:
// access mode, init flags, discovered address width, guest memory
// size, paravirt flag, OS family/offsets, the event registry, and the
// shutting-down flag. It does not record the guest's vCPU count.
type Instance struct {
	mode  AccessMode
	flags InitFlags
	drv   driver.Driver
	reg   *events.Registry
	log   *slog.Logger

	addressWidth int
	memSize      uint64
	pv           bool

	offsets      osdetect.OffsetTable
	shuttingDown bool
}

// Init opens a backend for vmName (or vmID, if vmName is empty) under
// mode, with the given init flags, and returns a ready Instance. On any
// partial failure the partially-initialized backend is torn down
// before Init returns, per spec.md §4.1.
func Init(vmID uint64, vmName string, mode AccessMode, flags InitFlags, cfg Config) (*Instance, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}

	if mode == ModeXenLive || mode == ModeKVMLive {
		if hascap, err := capcheck.HasCapability(capcheck.CapSysRawio); err != nil {
			debuglog.Trace(log, "vmi: could not check CAP_SYS_RAWIO", "err", err)
		} else if !hascap {
			log.Warn("process lacks CAP_SYS_RAWIO; hypervisor memory mapping may fail", "mode", mode.String())
		}
	}

	drv, err := newBackend(mode, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("vmi: init: %w", err)
	}

	if flags&InitEvents != 0 {
		if sup, ok := drv.(interface{ SupportsEvents() bool }); !ok || !sup.SupportsEvents() {
			return nil, fmt.Errorf("vmi: init: backend %s does not support events: %w", mode, driver.ErrUnsupported)
		}
	}

	if err := drv.Init(vmID, vmName); err != nil {
		return nil, fmt.Errorf("vmi: init: %w", err)
	}

	width, err := drv.GetAddressWidth()
	if err != nil {
		drv.Destroy()
		return nil, fmt.Errorf("vmi: init: get address width: %w", err)
	}

	memSize, err := drv.GetMemSize()
	if err != nil {
		drv.Destroy()
		return nil, fmt.Errorf("vmi: init: get mem size: %w", err)
	}

	var pv bool
	if p, ok := drv.(interface{ Paravirtualized() bool }); ok {
		pv = p.Paravirtualized()
	}

	inst := &Instance{
		mode:         mode,
		flags:        flags,
		drv:          drv,
		reg:          events.New(drv),
		log:          log,
		addressWidth: width,
		memSize:      memSize,
		pv:           pv,
	}

	debuglog.Trace(log, "vmi: initialized", "mode", mode.String(), "address_width", width, "mem_size", memSize)

	return inst, nil
}

func newBackend(mode AccessMode, cfg Config, log *slog.Logger) (driver.Driver, error) {
	switch mode {
	case ModeFile:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("vmi: file mode requires FilePath: %w", driver.ErrInitFailure)
		}
		return file.New(cfg.FilePath), nil
	case ModeXenLive:
		if cfg.XenStoreSocket == "" || cfg.XenControlSocket == "" {
			return nil, fmt.Errorf("vmi: xen mode requires XenStoreSocket and XenControlSocket: %w", driver.ErrInitFailure)
		}
		return xen.New(cfg.XenStoreSocket, cfg.XenControlSocket, log), nil
	case ModeKVMLive:
		if cfg.KVMQMPSocket == "" && cfg.KVMGDBAddr == "" {
			return nil, fmt.Errorf("vmi: kvm mode requires KVMQMPSocket or KVMGDBAddr: %w", driver.ErrInitFailure)
		}
		return kvm.New(cfg.KVMQMPSocket, cfg.KVMGDBAddr, ""), nil
	default:
		return nil, fmt.Errorf("vmi: unknown access mode %d: %w", mode, driver.ErrInitFailure)
	}
}

// Destroy tears the instance down: drains the event registry, closes
// the backend. Idempotent.
func (i *Instance) Destroy() error {
	if i.shuttingDown {
		return nil
	}
	i.shuttingDown = true

	var firstErr error
	if err := i.reg.Teardown(); err != nil {
		firstErr = fmt.Errorf("vmi: destroy: teardown events: %w", err)
	}

	if err := i.drv.Destroy(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("vmi: destroy: %w", err)
	}

	debuglog.Trace(i.log, "vmi: destroyed")

	return firstErr
}

// AddressWidth returns the discovered guest address width in bytes (4
// or 8).
func (i *Instance) AddressWidth() int {
	return i.addressWidth
}

// MemSize returns the guest's total physical memory size in bytes.
func (i *Instance) MemSize() uint64 {
	return i.memSize
}

// Paravirtualized reports whether the guest is a PV guest (only
// meaningful for ModeXenLive).
func (i *Instance) Paravirtualized() bool {
	return i.pv
}

// OffsetTable returns the currently frozen OS-offset table, or the
// zero value (Family: osdetect.FamilyNone) if DetectOS has not been
// called.
func (i *Instance) OffsetTable() osdetect.OffsetTable {
	return i.offsets
}

// DetectOS runs d against the instance's own physical memory and
// freezes the result as the instance's offset table for the rest of
// its lifetime, per spec.md §3's "once the OS is detected, offsets are
// frozen" invariant.
func (i *Instance) DetectOS(d osdetect.Detector, cr3 uint64) error {
	table, err := osdetect.Detect(d, i, cr3)
	if err != nil {
		return fmt.Errorf("vmi: detect os: %w", err)
	}

	i.offsets = table

	return nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
