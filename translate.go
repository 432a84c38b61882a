package vmi

import (
	"fmt"

	"github.com/go-vmi/vmi/internal/pagetable"
)

// Translate walks the guest's page tables rooted at cr3 and returns
// the guest physical address va maps to. The paging mode is selected
// from the instance's discovered address width: 4 bytes selects legacy
// 2-level paging, 8 bytes selects 4-level long mode. PAE guests (3
// level, still a 32-bit address width) are not distinguishable from
// that width alone, so callers on a PAE guest should call
// TranslatePAE directly.
func (i *Instance) Translate(cr3, va uint64) (uint64, error) {
	mode := pagetable.ModeLegacy
	if i.addressWidth == 8 {
		mode = pagetable.ModeLong
	}

	pa, err := pagetable.Walk(i, cr3, mode, va)
	if err != nil {
		return 0, fmt.Errorf("vmi: translate 0x%x: %w", va, err)
	}

	return pa, nil
}

// TranslatePAE walks cr3 as 32-bit PAE page tables explicitly,
// bypassing Translate's address-width-based guess.
func (i *Instance) TranslatePAE(cr3, va uint64) (uint64, error) {
	pa, err := pagetable.Walk(i, cr3, pagetable.ModePAE, va)
	if err != nil {
		return 0, fmt.Errorf("vmi: translate (pae) 0x%x: %w", va, err)
	}

	return pa, nil
}
