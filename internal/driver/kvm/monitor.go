// Package kvm implements the driver.Driver contract against a KVM/QEMU
// guest, reached through one of two transports: QMP (QEMU's JSON
// monitor socket, preferred) or a GDB remote-serial stub (always
// available, slower). Both transports implement the same monitor
// interface, so map_frame/write/register access are transport-agnostic
// above that line.
package kvm

import "github.com/go-vmi/vmi/internal/registers"

// Transport selects which wire protocol the backend speaks to QEMU.
type Transport int

const (
	// TransportQMP talks JSON commands over QEMU's monitor socket.
	// Preferred when available.
	TransportQMP Transport = iota
	// TransportGDB talks the GDB remote serial protocol over TCP.
	// Always available, slower, used as a fallback.
	TransportGDB
)

func (t Transport) String() string {
	if t == TransportGDB {
		return "gdb"
	}

	return "qmp"
}

// monitor is the shared contract both transports implement: everything
// the backend needs from the VM's control channel.
type monitor interface {
	Connect() error
	Disconnect() error

	ReadMemory(paddr uint64, buf []byte) error
	WriteMemory(paddr uint64, buf []byte) error

	MemSize() (uint64, error)
	VCPUCount() (int, error)

	GetReg(vcpu uint32, reg registers.Reg) (uint64, error)
	SetReg(vcpu uint32, reg registers.Reg, value uint64) error

	Pause() error
	Resume() error
}
