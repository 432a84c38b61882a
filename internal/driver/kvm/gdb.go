package kvm

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"

	"github.com/go-vmi/vmi/internal/registers"
)

// gdbMonitor implements monitor over the GDB remote serial protocol:
// `$packet#checksum` framed ASCII commands over a TCP connection to
// QEMU's `-gdb tcp::port` stub. Slower than QMP (every memory access is
// hex-encoded text) but present whenever QEMU was started with a gdb
// port at all, so it is the backend's always-available fallback.
type gdbMonitor struct {
	addr string
	conn net.Conn
	r    *bufio.Reader
}

func newGDBMonitor(addr string) *gdbMonitor {
	return &gdbMonitor{addr: addr}
}

func (m *gdbMonitor) Connect() error {
	conn, err := net.Dial("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("kvm: gdb dial %s: %w", m.addr, err)
	}

	m.conn = conn
	m.r = bufio.NewReader(conn)

	return nil
}

func (m *gdbMonitor) Disconnect() error {
	if m.conn == nil {
		return nil
	}

	err := m.conn.Close()
	m.conn = nil
	m.r = nil

	return err
}

func checksum(packet string) byte {
	var sum byte
	for i := 0; i < len(packet); i++ {
		sum += packet[i]
	}

	return sum
}

func (m *gdbMonitor) send(packet string) (string, error) {
	frame := fmt.Sprintf("$%s#%02x", packet, checksum(packet))
	if _, err := m.conn.Write([]byte(frame)); err != nil {
		return "", fmt.Errorf("kvm: gdb send: %w", err)
	}

	// The stub acks with '+' before the reply packet.
	ack, err := m.r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("kvm: gdb ack: %w", err)
	}
	if ack != '+' {
		return "", fmt.Errorf("kvm: gdb nack for %q", packet)
	}

	if _, err := m.r.ReadByte(); err != nil { // '$'
		return "", fmt.Errorf("kvm: gdb reply start: %w", err)
	}

	reply, err := m.r.ReadString('#')
	if err != nil {
		return "", fmt.Errorf("kvm: gdb reply body: %w", err)
	}
	reply = reply[:len(reply)-1]

	// Consume the 2-byte checksum trailer.
	if _, err := m.r.Discard(2); err != nil {
		return "", fmt.Errorf("kvm: gdb reply checksum: %w", err)
	}

	return reply, nil
}

func (m *gdbMonitor) ReadMemory(paddr uint64, buf []byte) error {
	reply, err := m.send(fmt.Sprintf("m%x,%x", paddr, len(buf)))
	if err != nil {
		return fmt.Errorf("kvm: gdb read at 0x%x: %w", paddr, err)
	}

	decoded, err := hex.DecodeString(reply)
	if err != nil || len(decoded) != len(buf) {
		return fmt.Errorf("kvm: gdb read at 0x%x: malformed reply", paddr)
	}
	copy(buf, decoded)

	return nil
}

func (m *gdbMonitor) WriteMemory(paddr uint64, buf []byte) error {
	reply, err := m.send(fmt.Sprintf("M%x,%x:%s", paddr, len(buf), hex.EncodeToString(buf)))
	if err != nil {
		return fmt.Errorf("kvm: gdb write at 0x%x: %w", paddr, err)
	}
	if reply != "OK" {
		return fmt.Errorf("kvm: gdb write at 0x%x: %s", paddr, reply)
	}

	return nil
}

// MemSize has no GDB remote-serial equivalent; the transport has no
// query for total guest RAM, only addressed reads/writes.
func (m *gdbMonitor) MemSize() (uint64, error) {
	return 0, fmt.Errorf("kvm: gdb transport has no mem-size query")
}

func (m *gdbMonitor) VCPUCount() (int, error) {
	// The stub's thread-list query doubles as vCPU enumeration under
	// QEMU's gdbstub.
	reply, err := m.send("qfThreadInfo")
	if err != nil {
		return 0, fmt.Errorf("kvm: gdb vcpu count: %w", err)
	}

	count := 0
	for _, c := range reply {
		if c == ',' {
			count++
		}
	}
	if len(reply) > 1 {
		count++
	}

	return count, nil
}

// gdbRegOrder is the register order QEMU's gdbstub reports for x86-64
// in a `g` (read all registers) reply: rax, rbx, rcx, rdx, rsi, rdi,
// rbp, rsp, r8-r15, rip, eflags, then segment selectors.
var gdbRegOrder = []registers.Reg{
	registers.RegRAX, registers.RegRBX, registers.RegRCX, registers.RegRDX,
	registers.RegRSI, registers.RegRDI, registers.RegRBP, registers.RegRSP,
	registers.RegR8, registers.RegR9, registers.RegR10, registers.RegR11,
	registers.RegR12, registers.RegR13, registers.RegR14, registers.RegR15,
	registers.RegRIP, registers.RegRFLAGS,
	registers.RegCSSel, registers.RegSSSel, registers.RegDSSel,
	registers.RegESSel, registers.RegFSSel, registers.RegGSSel,
}

func gdbRegIndex(reg registers.Reg) (int, bool) {
	for i, r := range gdbRegOrder {
		if r == reg {
			return i, true
		}
	}

	return 0, false
}

func (m *gdbMonitor) GetReg(vcpu uint32, reg registers.Reg) (uint64, error) {
	idx, ok := gdbRegIndex(reg)
	if !ok {
		return 0, fmt.Errorf("kvm: gdb register %s not in gdbstub layout", reg)
	}

	if err := m.selectThread(vcpu); err != nil {
		return 0, err
	}

	reply, err := m.send("g")
	if err != nil {
		return 0, fmt.Errorf("kvm: gdb get reg %s on vcpu %d: %w", reg, vcpu, err)
	}

	decoded, err := hex.DecodeString(reply)
	if err != nil {
		return 0, fmt.Errorf("kvm: gdb get reg %s: malformed reply", reg)
	}

	off := idx * 8
	if off+8 > len(decoded) {
		return 0, fmt.Errorf("kvm: gdb get reg %s: reply too short", reg)
	}

	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(decoded[off+i])
	}

	return v, nil
}

// SetReg over the gdbstub's `g`/`G` pair would require a read-modify-
// write of the whole register file; not implemented for the same
// reason QMP is preferred whenever available (see Transport).
func (m *gdbMonitor) SetReg(vcpu uint32, reg registers.Reg, value uint64) error {
	return fmt.Errorf("kvm: gdb transport does not support single-register write for %s", reg)
}

func (m *gdbMonitor) selectThread(vcpu uint32) error {
	_, err := m.send(fmt.Sprintf("Hg%d", vcpu+1))
	if err != nil {
		return fmt.Errorf("kvm: gdb select vcpu %d: %w", vcpu, err)
	}

	return nil
}

func (m *gdbMonitor) Pause() error {
	// Ctrl-C equivalent: the gdbstub protocol signals a stop request
	// out-of-band; most gdbstubs also accept the vCont "stop" packet.
	_, err := m.send("vCtrlC")
	if err != nil {
		return fmt.Errorf("kvm: gdb pause: %w", err)
	}

	return nil
}

func (m *gdbMonitor) Resume() error {
	_, err := m.send("c")
	if err != nil {
		return fmt.Errorf("kvm: gdb resume: %w", err)
	}

	return nil
}
