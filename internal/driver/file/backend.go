// Package file implements the driver.Driver contract over a flat
// physical-memory snapshot file: a raw dump with guest physical
// address 0 at file offset 0. It supports reads, writes and
// map_frame/release_frame; registers, pause/resume and events are all
// driver.ErrUnsupported, since a static snapshot has no running vCPUs.
package file

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/go-vmi/vmi/internal/driver"
	"github.com/go-vmi/vmi/internal/pagecache"
	"github.com/go-vmi/vmi/internal/registers"
)

const pageSize = 4096

// Backend implements driver.Driver against an mmap'd dump file.
type Backend struct {
	path string
	fd   *os.File
	data []byte // whole-file mapping

	cache *pagecache.Cache

	name string
}

// New returns a Backend bound to path. Init must still be called
// before the backend is usable, matching every other driver's
// two-phase construction.
func New(path string) *Backend {
	return &Backend{path: path}
}

func (b *Backend) Init(id uint64, name string) error {
	fd, err := os.OpenFile(b.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("file: open %s: %w", b.path, driver.ErrInitFailure)
	}

	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return fmt.Errorf("file: stat %s: %w", b.path, driver.ErrInitFailure)
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		fd.Close()
		return fmt.Errorf("file: mmap %s: %w", b.path, driver.ErrInitFailure)
	}

	b.fd = fd
	b.data = data
	b.name = name
	if b.name == "" {
		b.name = b.path
	}

	// Cap 0: unbounded, matching spec.md §4.4's file-backend cache use.
	b.cache = pagecache.New(0, b)

	return nil
}

func (b *Backend) Destroy() error {
	if b.cache != nil {
		b.cache.Flush()
	}

	var err error
	if b.data != nil {
		err = unix.Munmap(b.data)
		b.data = nil
	}
	if b.fd != nil {
		if cerr := b.fd.Close(); err == nil {
			err = cerr
		}
		b.fd = nil
	}

	if err != nil {
		return fmt.Errorf("file: destroy: %w", err)
	}

	return nil
}

// MapFrame returns a slice over the file's mapping for pfn. It never
// allocates a new mapping per frame: the whole file is already mapped,
// so MapFrame just slices it. ReleaseFrame is correspondingly a no-op.
func (b *Backend) MapFrame(pfn uint64, _ driver.Protection) ([]byte, error) {
	start := pfn * pageSize
	end := start + pageSize
	if end > uint64(len(b.data)) {
		return nil, fmt.Errorf("file: pfn %d out of range: %w", pfn, driver.ErrAccessFailure)
	}

	page := b.data[start:end]
	b.cache.Insert(pfn, page)

	return page, nil
}

// ReleaseFrame is a no-op: the whole file stays mapped for the
// backend's lifetime, so there is nothing to unmap per frame.
func (b *Backend) ReleaseFrame(page []byte) error {
	return nil
}

func (b *Backend) ReadPA(paddr uint64, buf []byte) error {
	end := paddr + uint64(len(buf))
	if end > uint64(len(b.data)) {
		return fmt.Errorf("file: read at 0x%x: %w", paddr, driver.ErrAccessFailure)
	}

	copy(buf, b.data[paddr:end])

	return nil
}

// Write copies buf into the mapping at paddr in one copy; it does not
// split the write at page boundaries. A write that would run past the
// end of the dump fails before any byte is written. The copy is not
// atomic: a concurrent reader of the mapping can observe it half done.
func (b *Backend) Write(paddr uint64, buf []byte) error {
	end := paddr + uint64(len(buf))
	if end > uint64(len(b.data)) {
		return fmt.Errorf("file: write at 0x%x: %w", paddr, driver.ErrAccessFailure)
	}

	copy(b.data[paddr:end], buf)

	return nil
}

func (b *Backend) GetName() (string, error) {
	return b.name, nil
}

func (b *Backend) GetID() (uint64, error) {
	return 0, fmt.Errorf("file: get id: %w", driver.ErrUnsupported)
}

func (b *Backend) GetNameFromID(id uint64) (string, error) {
	return "", fmt.Errorf("file: get name from id: %w", driver.ErrUnsupported)
}

func (b *Backend) GetIDFromName(name string) (uint64, error) {
	return 0, fmt.Errorf("file: get id from name: %w", driver.ErrUnsupported)
}

func (b *Backend) GetMemSize() (uint64, error) {
	return uint64(len(b.data)), nil
}

func (b *Backend) GetAddressWidth() (int, error) {
	return 8, nil
}

func (b *Backend) GetVCPUReg(reg registers.Reg, vcpu uint32) (uint64, error) {
	return 0, fmt.Errorf("file: get vcpu reg %s: %w", reg, driver.ErrUnsupported)
}

func (b *Backend) SetVCPUReg(reg registers.Reg, vcpu uint32, value uint64) error {
	return fmt.Errorf("file: set vcpu reg %s: %w", reg, driver.ErrUnsupported)
}

func (b *Backend) Pause() error {
	return fmt.Errorf("file: pause: %w", driver.ErrUnsupported)
}

func (b *Backend) Resume() error {
	return fmt.Errorf("file: resume: %w", driver.ErrUnsupported)
}

func (b *Backend) SetRegAccess(ev driver.RegEvent) error {
	return fmt.Errorf("file: set reg access: %w", driver.ErrUnsupported)
}

func (b *Backend) SetMemAccess(pfn uint64, effective driver.MemAccess) error {
	return fmt.Errorf("file: set mem access: %w", driver.ErrUnsupported)
}

func (b *Backend) StartSingleStep(vcpu uint32) error {
	return fmt.Errorf("file: start single-step: %w", driver.ErrUnsupported)
}

func (b *Backend) StopSingleStep(vcpu uint32) error {
	return fmt.Errorf("file: stop single-step: %w", driver.ErrUnsupported)
}

func (b *Backend) ShutdownSingleStep() error {
	return fmt.Errorf("file: shutdown single-step: %w", driver.ErrUnsupported)
}

func (b *Backend) EventsListen(timeoutMS int) ([]driver.Event, error) {
	return nil, fmt.Errorf("file: events listen: %w", driver.ErrUnsupported)
}

// SupportsEvents reports false: a static snapshot has no vCPUs to trap.
func (b *Backend) SupportsEvents() bool {
	return false
}
