package vmi

import (
	"bytes"
	"math/rand"
	"os"
	"testing"

	"github.com/go-vmi/vmi/internal/driver"
)

func newTestDump(t *testing.T, size int) string {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "dump-*.raw")
	if err != nil {
		t.Fatalf("create temp dump: %v", err)
	}
	defer f.Close()

	buf := make([]byte, size)
	rand.New(rand.NewSource(2)).Read(buf)

	if _, err := f.Write(buf); err != nil {
		t.Fatalf("write temp dump: %v", err)
	}

	return f.Name()
}

func TestInitFileModeRoundTrip(t *testing.T) {
	path := newTestDump(t, 64*1024)

	inst, err := Init(0, "", ModeFile, InitPartial, Config{FilePath: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer inst.Destroy()

	want := []byte("guest physical memory")
	if err := inst.WritePA(0x4000, want); err != nil {
		t.Fatalf("WritePA: %v", err)
	}

	got := make([]byte, len(want))
	if err := inst.ReadPA(0x4000, got); err != nil {
		t.Fatalf("ReadPA: %v", err)
	}

	if !bytes.Equal(got, want) {
		t.Fatalf("ReadPA = %q, want %q", got, want)
	}
}

func TestInitFileModeRequiresPath(t *testing.T) {
	if _, err := Init(0, "", ModeFile, InitPartial, Config{}); err == nil {
		t.Fatalf("Init(file, no path): want error")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	path := newTestDump(t, 4096)

	inst, err := Init(0, "", ModeFile, InitPartial, Config{FilePath: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := inst.Destroy(); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if err := inst.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}

func TestTranslateViaFileBackedLongModePageTable(t *testing.T) {
	path := newTestDump(t, 1024*1024)

	inst, err := Init(0, "", ModeFile, InitPartial, Config{FilePath: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer inst.Destroy()

	// address width for a raw dump backend defaults to 8 (long mode);
	// build a minimal 4-level table rooted at cr3 mapping va's page.
	const (
		cr3      = 0x10000
		pdptBase = 0x11000
		pdBase   = 0x12000
		ptBase   = 0x13000
		pageBase = 0x14000
	)

	va := uint64(0x1000)
	pml4i := (va >> 39) & 0x1ff
	pdpti := (va >> 30) & 0x1ff
	pdi := (va >> 21) & 0x1ff
	pti := (va >> 12) & 0x1ff

	writeEntry := func(tableBase, index, value uint64) {
		var buf [8]byte
		for b := 0; b < 8; b++ {
			buf[b] = byte(value >> (8 * b))
		}
		if err := inst.WritePA(tableBase+index*8, buf[:]); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}

	const present = 1

	writeEntry(cr3, pml4i, pdptBase|present)
	writeEntry(pdptBase, pdpti, pdBase|present)
	writeEntry(pdBase, pdi, ptBase|present)
	writeEntry(ptBase, pti, pageBase|present)

	pa, err := inst.Translate(cr3, va)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if want := pageBase | (va & 0xfff); pa != want {
		t.Fatalf("Translate() = 0x%x, want 0x%x", pa, want)
	}

	if _, err := inst.TranslatePAE(0xbad, 0xbad); err == nil {
		t.Fatalf("TranslatePAE on bogus cr3: want error")
	}
}

// ReadVA/WriteVA must translate and transfer one virtual page at a
// time: two consecutive virtual pages here map to deliberately
// non-contiguous physical frames, so a single-translation, single-copy
// implementation would read/write the wrong bytes past the first
// page's worth.
func TestReadWriteVAAcrossNonContiguousPages(t *testing.T) {
	path := newTestDump(t, 4*1024*1024)

	inst, err := Init(0, "", ModeFile, InitPartial, Config{FilePath: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer inst.Destroy()

	const (
		cr3       = 0x10000
		pdptBase  = 0x11000
		pdBase    = 0x12000
		ptBase    = 0x13000
		pageBase0 = 0x100000 // frame backing the first virtual page
		pageBase1 = 0x300000 // frame backing the second, far away
	)

	writeEntry := func(tableBase, index, value uint64) {
		var buf [8]byte
		for b := 0; b < 8; b++ {
			buf[b] = byte(value >> (8 * b))
		}
		if err := inst.WritePA(tableBase+index*8, buf[:]); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}

	const present = 1

	va0 := uint64(0x2000)
	va1 := va0 + vaPageSize

	for _, pair := range []struct {
		va, pageBase uint64
	}{{va0, pageBase0}, {va1, pageBase1}} {
		pml4i := (pair.va >> 39) & 0x1ff
		pdpti := (pair.va >> 30) & 0x1ff
		pdi := (pair.va >> 21) & 0x1ff
		pti := (pair.va >> 12) & 0x1ff

		writeEntry(cr3, pml4i, pdptBase|present)
		writeEntry(pdptBase, pdpti, pdBase|present)
		writeEntry(pdBase, pdi, ptBase|present)
		writeEntry(ptBase, pti, pair.pageBase|present)
	}

	// starting 16 bytes before the page boundary, crossing into va1.
	start := va0 + vaPageSize - 16
	want := bytes.Repeat([]byte("0123456789abcdef"), 2) // 32 bytes, spans both pages

	if err := inst.WriteVA(cr3, start, want); err != nil {
		t.Fatalf("WriteVA: %v", err)
	}

	got := make([]byte, len(want))
	if err := inst.ReadVA(cr3, start, got); err != nil {
		t.Fatalf("ReadVA: %v", err)
	}

	if !bytes.Equal(got, want) {
		t.Fatalf("ReadVA = %q, want %q", got, want)
	}

	// confirm the second half actually landed in pageBase1, not
	// contiguously after pageBase0 (which a single-translation
	// implementation would have produced).
	tail := make([]byte, 16)
	if err := inst.ReadPA(pageBase1, tail); err != nil {
		t.Fatalf("ReadPA(pageBase1): %v", err)
	}
	if !bytes.Equal(tail, want[16:]) {
		t.Fatalf("second half landed at pageBase1 = %q, want %q", tail, want[16:])
	}
}

var _ driver.PhysReader = (*Instance)(nil)
