// Package pagetable walks x86 page tables to translate a guest virtual
// address into a guest physical address. It is the thin collaborator
// spec.md §4.6 calls out as necessary but out of the core's detailed
// scope: the core's Translate operation needs a walker to exist, but
// the walker itself carries no OS knowledge.
package pagetable

import (
	"errors"
	"fmt"

	"github.com/go-vmi/vmi/internal/driver"
)

// ErrUnmapped means the walk reached a non-present entry. It is never
// a panic: garbage input produces this error, not a crash.
var ErrUnmapped = errors.New("pagetable: unmapped")

// PageMode selects the paging structure layout to walk.
type PageMode int

const (
	// ModeLegacy is 32-bit 2-level paging (no PAE).
	ModeLegacy PageMode = iota
	// ModePAE is 32-bit 3-level paging with PAE enabled.
	ModePAE
	// ModeLong is 64-bit 4-level paging.
	ModeLong
)

const (
	presentBit  = 1 << 0
	pageSizeBit = 1 << 7

	entrySize32 = 4
	entrySize64 = 8
)

// Walk translates va to a guest physical address by walking the paging
// structures rooted at cr3, under mode. mem is the guest's physical
// memory, used to fetch each level's entry.
func Walk(mem driver.PhysReader, cr3 uint64, mode PageMode, va uint64) (uint64, error) {
	switch mode {
	case ModeLegacy:
		return walkLegacy(mem, cr3, va)
	case ModePAE:
		return walkPAE(mem, cr3, va)
	case ModeLong:
		return walkLong(mem, cr3, va)
	default:
		return 0, fmt.Errorf("pagetable: unknown page mode %d", mode)
	}
}

func readEntry64(mem driver.PhysReader, tableBase uint64, index uint64) (uint64, error) {
	var buf [entrySize64]byte
	addr := (tableBase &^ 0xfff) + index*entrySize64
	if err := mem.ReadPA(addr, buf[:]); err != nil {
		return 0, fmt.Errorf("pagetable: read entry at 0x%x: %w", addr, err)
	}

	return leUint64(buf[:]), nil
}

func readEntry32(mem driver.PhysReader, tableBase uint64, index uint64) (uint32, error) {
	var buf [entrySize32]byte
	addr := (tableBase &^ 0xfff) + index*entrySize32
	if err := mem.ReadPA(addr, buf[:]); err != nil {
		return 0, fmt.Errorf("pagetable: read entry at 0x%x: %w", addr, err)
	}

	return leUint32(buf[:]), nil
}

// walkLegacy implements classic 32-bit 2-level paging: a page directory
// of 1024 4-byte entries, each either pointing at a 4KB page table or,
// with pageSizeBit set, directly at a 4MB page.
func walkLegacy(mem driver.PhysReader, cr3 uint64, va uint64) (uint64, error) {
	pdIndex := (va >> 22) & 0x3ff
	pde, err := readEntry32(mem, cr3, pdIndex)
	if err != nil {
		return 0, err
	}
	if pde&presentBit == 0 {
		return 0, ErrUnmapped
	}

	if pde&pageSizeBit != 0 {
		base := uint64(pde) &^ 0x3fffff
		return base | (va & 0x3fffff), nil
	}

	ptIndex := (va >> 12) & 0x3ff
	pte, err := readEntry32(mem, uint64(pde), ptIndex)
	if err != nil {
		return 0, err
	}
	if pte&presentBit == 0 {
		return 0, ErrUnmapped
	}

	base := uint64(pte) &^ 0xfff
	return base | (va & 0xfff), nil
}

// walkPAE implements 32-bit PAE paging: a 4-entry page-directory
// pointer table, then a page directory, then a page table, all with
// 8-byte entries.
func walkPAE(mem driver.PhysReader, cr3 uint64, va uint64) (uint64, error) {
	pdptIndex := (va >> 30) & 0x3
	pdpte, err := readEntry64(mem, cr3&^0x1f, pdptIndex)
	if err != nil {
		return 0, err
	}
	if pdpte&presentBit == 0 {
		return 0, ErrUnmapped
	}

	pdIndex := (va >> 21) & 0x1ff
	pde, err := readEntry64(mem, pdpte, pdIndex)
	if err != nil {
		return 0, err
	}
	if pde&presentBit == 0 {
		return 0, ErrUnmapped
	}

	if pde&pageSizeBit != 0 {
		base := pde &^ 0x1fffff
		return base | (va & 0x1fffff), nil
	}

	ptIndex := (va >> 12) & 0x1ff
	pte, err := readEntry64(mem, pde, ptIndex)
	if err != nil {
		return 0, err
	}
	if pte&presentBit == 0 {
		return 0, ErrUnmapped
	}

	base := pte &^ 0xfff
	return base | (va & 0xfff), nil
}

// walkLong implements 64-bit 4-level paging: PML4, PDPT, PD, PT, each
// with 512 8-byte entries. 1GB and 2MB large pages are handled at the
// PDPT and PD levels respectively.
func walkLong(mem driver.PhysReader, cr3 uint64, va uint64) (uint64, error) {
	pml4Index := (va >> 39) & 0x1ff
	pml4e, err := readEntry64(mem, cr3, pml4Index)
	if err != nil {
		return 0, err
	}
	if pml4e&presentBit == 0 {
		return 0, ErrUnmapped
	}

	pdptIndex := (va >> 30) & 0x1ff
	pdpte, err := readEntry64(mem, pml4e, pdptIndex)
	if err != nil {
		return 0, err
	}
	if pdpte&presentBit == 0 {
		return 0, ErrUnmapped
	}
	if pdpte&pageSizeBit != 0 {
		base := pdpte &^ 0x3fffffff
		return base | (va & 0x3fffffff), nil
	}

	pdIndex := (va >> 21) & 0x1ff
	pde, err := readEntry64(mem, pdpte, pdIndex)
	if err != nil {
		return 0, err
	}
	if pde&presentBit == 0 {
		return 0, ErrUnmapped
	}
	if pde&pageSizeBit != 0 {
		base := pde &^ 0x1fffff
		return base | (va & 0x1fffff), nil
	}

	ptIndex := (va >> 12) & 0x1ff
	pte, err := readEntry64(mem, pde, ptIndex)
	if err != nil {
		return 0, err
	}
	if pte&presentBit == 0 {
		return 0, ErrUnmapped
	}

	base := pte &^ 0xfff
	return base | (va & 0xfff), nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	return uint64(leUint32(b[:4])) | uint64(leUint32(b[4:]))<<32
}
