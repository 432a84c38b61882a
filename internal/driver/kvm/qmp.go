package kvm

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"

	"github.com/go-vmi/vmi/internal/registers"
)

// qmpMonitor implements monitor over QEMU's QMP JSON command socket.
// Every call is a single `{"execute": name, "arguments": ...}` request
// followed by one `{"return": ...}` reply, matching QMP's synchronous
// command/response shape.
type qmpMonitor struct {
	path string
	conn net.Conn
	dec  *json.Decoder
}

func newQMPMonitor(path string) *qmpMonitor {
	return &qmpMonitor{path: path}
}

func (m *qmpMonitor) Connect() error {
	conn, err := net.Dial("unix", m.path)
	if err != nil {
		return fmt.Errorf("kvm: qmp dial %s: %w", m.path, err)
	}

	m.conn = conn
	m.dec = json.NewDecoder(bufio.NewReader(conn))

	// QMP greets with a capabilities banner before accepting commands.
	var greeting map[string]interface{}
	if err := m.dec.Decode(&greeting); err != nil {
		conn.Close()
		return fmt.Errorf("kvm: qmp greeting: %w", err)
	}

	if err := m.execute("qmp_capabilities", nil, nil); err != nil {
		conn.Close()
		return fmt.Errorf("kvm: qmp capabilities negotiation: %w", err)
	}

	return nil
}

func (m *qmpMonitor) Disconnect() error {
	if m.conn == nil {
		return nil
	}

	err := m.conn.Close()
	m.conn = nil
	m.dec = nil

	return err
}

func (m *qmpMonitor) execute(command string, args map[string]interface{}, result interface{}) error {
	req := map[string]interface{}{"execute": command}
	if args != nil {
		req["arguments"] = args
	}

	enc, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("kvm: qmp marshal %s: %w", command, err)
	}

	if _, err := m.conn.Write(enc); err != nil {
		return fmt.Errorf("kvm: qmp send %s: %w", command, err)
	}

	var reply struct {
		Return json.RawMessage `json:"return"`
		Error  *struct {
			Class string `json:"class"`
			Desc  string `json:"desc"`
		} `json:"error"`
	}
	if err := m.dec.Decode(&reply); err != nil {
		return fmt.Errorf("kvm: qmp reply to %s: %w", command, err)
	}

	if reply.Error != nil {
		return fmt.Errorf("kvm: qmp %s: %s: %s", command, reply.Error.Class, reply.Error.Desc)
	}

	if result != nil && len(reply.Return) > 0 {
		if err := json.Unmarshal(reply.Return, result); err != nil {
			return fmt.Errorf("kvm: qmp unmarshal %s reply: %w", command, err)
		}
	}

	return nil
}

func (m *qmpMonitor) ReadMemory(paddr uint64, buf []byte) error {
	var result struct {
		Contents string `json:"contents"`
	}

	args := map[string]interface{}{
		"addr": paddr,
		"size": len(buf),
	}
	if err := m.execute("pmemread", args, &result); err != nil {
		return fmt.Errorf("kvm: qmp read at 0x%x: %w", paddr, err)
	}

	decoded, err := base64.StdEncoding.DecodeString(result.Contents)
	if err != nil {
		return fmt.Errorf("kvm: qmp decode read reply: %w", err)
	}
	if len(decoded) != len(buf) {
		return fmt.Errorf("kvm: qmp read at 0x%x: short reply", paddr)
	}
	copy(buf, decoded)

	return nil
}

func (m *qmpMonitor) WriteMemory(paddr uint64, buf []byte) error {
	args := map[string]interface{}{
		"addr":     paddr,
		"contents": base64.StdEncoding.EncodeToString(buf),
	}
	if err := m.execute("pmemwrite", args, nil); err != nil {
		return fmt.Errorf("kvm: qmp write at 0x%x: %w", paddr, err)
	}

	return nil
}

func (m *qmpMonitor) MemSize() (uint64, error) {
	var result struct {
		RAMSize uint64 `json:"ram_size"`
	}
	if err := m.execute("query-memory-size-summary", nil, &result); err != nil {
		return 0, fmt.Errorf("kvm: qmp mem size: %w", err)
	}

	return result.RAMSize, nil
}

func (m *qmpMonitor) VCPUCount() (int, error) {
	var result []struct {
		CPUIndex int `json:"cpu-index"`
	}
	if err := m.execute("query-cpus-fast", nil, &result); err != nil {
		return 0, fmt.Errorf("kvm: qmp vcpu count: %w", err)
	}

	return len(result), nil
}

func (m *qmpMonitor) GetReg(vcpu uint32, reg registers.Reg) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	args := map[string]interface{}{"cpu-index": vcpu, "name": reg.String()}
	if err := m.execute("human-monitor-getreg", args, &result); err != nil {
		return 0, fmt.Errorf("kvm: qmp get reg %s on vcpu %d: %w", reg, vcpu, err)
	}

	return result.Value, nil
}

func (m *qmpMonitor) SetReg(vcpu uint32, reg registers.Reg, value uint64) error {
	args := map[string]interface{}{"cpu-index": vcpu, "name": reg.String(), "value": value}
	if err := m.execute("human-monitor-setreg", args, nil); err != nil {
		return fmt.Errorf("kvm: qmp set reg %s on vcpu %d: %w", reg, vcpu, err)
	}

	return nil
}

func (m *qmpMonitor) Pause() error {
	if err := m.execute("stop", nil, nil); err != nil {
		return fmt.Errorf("kvm: qmp pause: %w", err)
	}

	return nil
}

func (m *qmpMonitor) Resume() error {
	if err := m.execute("cont", nil, nil); err != nil {
		return fmt.Errorf("kvm: qmp resume: %w", err)
	}

	return nil
}
