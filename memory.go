package vmi

import "fmt"

const vaPageSize = 4096

// ReadPA reads len(buf) bytes from guest physical address paddr.
func (i *Instance) ReadPA(paddr uint64, buf []byte) error {
	if err := i.drv.ReadPA(paddr, buf); err != nil {
		return fmt.Errorf("vmi: read pa 0x%x: %w", paddr, err)
	}

	return nil
}

// WritePA writes buf to guest physical address paddr, splitting across
// page boundaries as needed. Not atomic across pages: see Write on the
// driver contract.
func (i *Instance) WritePA(paddr uint64, buf []byte) error {
	if err := i.drv.Write(paddr, buf); err != nil {
		return fmt.Errorf("vmi: write pa 0x%x: %w", paddr, err)
	}

	return nil
}

// ReadVA reads len(buf) bytes from virtual address va, in the address
// space rooted at cr3 (kernel or a specific process, per the caller's
// choice of cr3). A read spanning more than one virtual page is
// translated and read one page at a time, since consecutive virtual
// pages need not map to contiguous physical frames.
func (i *Instance) ReadVA(cr3, va uint64, buf []byte) error {
	remaining := buf
	addr := va

	for len(remaining) > 0 {
		offset := addr & (vaPageSize - 1)
		n := vaPageSize - int(offset)
		if n > len(remaining) {
			n = len(remaining)
		}

		pa, err := i.Translate(cr3, addr)
		if err != nil {
			return fmt.Errorf("vmi: read va 0x%x: %w", addr, err)
		}

		if err := i.ReadPA(pa, remaining[:n]); err != nil {
			return fmt.Errorf("vmi: read va 0x%x: %w", addr, err)
		}

		remaining = remaining[n:]
		addr += uint64(n)
	}

	return nil
}

// WriteVA writes buf at virtual address va, in the address space
// rooted at cr3, splitting across virtual page boundaries the same
// way ReadVA does.
func (i *Instance) WriteVA(cr3, va uint64, buf []byte) error {
	remaining := buf
	addr := va

	for len(remaining) > 0 {
		offset := addr & (vaPageSize - 1)
		n := vaPageSize - int(offset)
		if n > len(remaining) {
			n = len(remaining)
		}

		pa, err := i.Translate(cr3, addr)
		if err != nil {
			return fmt.Errorf("vmi: write va 0x%x: %w", addr, err)
		}

		if err := i.WritePA(pa, remaining[:n]); err != nil {
			return fmt.Errorf("vmi: write va 0x%x: %w", addr, err)
		}

		remaining = remaining[n:]
		addr += uint64(n)
	}

	return nil
}

// ReadPA satisfies osdetect.PhysReader and driver.PhysReader so an
// Instance can be handed directly to a Detector or to pagetable.Walk.
var _ interface {
	ReadPA(paddr uint64, buf []byte) error
} = (*Instance)(nil)
