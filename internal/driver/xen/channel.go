// Package xen implements the driver.Driver contract against a Xen
// guest by speaking a xenstored-compatible framed protocol to a Unix
// control socket, standing in for a real libxc cgo binding (out of
// reach here — see DESIGN.md). Frame mapping, register access and
// pause/resume go through a xencontrol.Handle; name/id resolution goes
// through a xenstore client; both ride the same framed Channel.
package xen

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/go-vmi/vmi/internal/wirelog"
)

// Channel is the wire-level request/response transport every xenstore
// and control-socket client in this package rides on top of, the same
// Start/Stop/Send/Receive shape the teacher uses for its own RPC
// transport to the vmx.
type Channel interface {
	Start() error
	Stop() error
	Send(msgType, reqID uint32, payload []byte) error
	Receive() (msgType, reqID uint32, payload []byte, err error)
}

// unixChannel implements Channel over a Unix domain socket using a
// fixed 16-byte header (type, reqID, len, pad) followed by len bytes
// of ASCII/binary payload — the same length-prefixed shape real
// xenstore uses on its wire, simplified to one pad field instead of
// xenstore's transaction id.
type unixChannel struct {
	path string
	conn net.Conn
	r    *bufio.Reader
	log  *wirelog.Logger
}

// NewUnixChannel returns a Channel that will dial path on Start.
// Frame-level activity is logged through logger at trace level; a nil
// logger discards it.
func NewUnixChannel(path string, logger *slog.Logger) Channel {
	return &unixChannel{path: path, log: wirelog.New(logger)}
}

func (c *unixChannel) Start() error {
	conn, err := net.Dial("unix", c.path)
	if err != nil {
		c.log.Errorf("dial %s: %v", c.path, err)
		return fmt.Errorf("xen: dial %s: %w", c.path, err)
	}

	c.log.Infof("connected to %s", c.path)
	c.conn = conn
	c.r = bufio.NewReader(conn)

	return nil
}

func (c *unixChannel) Stop() error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.r = nil

	return err
}

const headerLen = 16

func (c *unixChannel) Send(msgType, reqID uint32, payload []byte) error {
	if c.conn == nil {
		return fmt.Errorf("xen: send on stopped channel")
	}

	var hdr [headerLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], msgType)
	binary.LittleEndian.PutUint32(hdr[4:8], reqID)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[12:16], 0)

	if _, err := c.conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("xen: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			return fmt.Errorf("xen: write payload: %w", err)
		}
	}

	c.log.Debugf("sent type=%d req=%d len=%d", msgType, reqID, len(payload))

	return nil
}

func (c *unixChannel) Receive() (uint32, uint32, []byte, error) {
	if c.conn == nil {
		return 0, 0, nil, fmt.Errorf("xen: receive on stopped channel")
	}

	var hdr [headerLen]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return 0, 0, nil, fmt.Errorf("xen: read header: %w", err)
	}

	msgType := binary.LittleEndian.Uint32(hdr[0:4])
	reqID := binary.LittleEndian.Uint32(hdr[4:8])
	length := binary.LittleEndian.Uint32(hdr[8:12])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return 0, 0, nil, fmt.Errorf("xen: read payload: %w", err)
		}
	}

	c.log.Debugf("received type=%d req=%d len=%d", msgType, reqID, length)

	return msgType, reqID, payload, nil
}
