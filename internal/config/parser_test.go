package config

import (
	"testing"

	"github.com/go-vmi/vmi/internal/osdetect"
)

func TestParseSingleEntry(t *testing.T) {
	src := []byte(`
# sample offset table
win7sp1 {
	ntoskrnl_base = 0x140200000;
	eprocess_pid_offset = 0x2e8;
	pcount = 42;
	os_name = "Windows 7 SP1";
	family = windows;
}
`)

	out, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	entry, ok := out["win7sp1"]
	if !ok {
		t.Fatalf("missing entry win7sp1, got %v", out)
	}

	base, ok := entry.Uint64("ntoskrnl_base")
	if !ok || base != 0x140200000 {
		t.Fatalf("ntoskrnl_base = %v, %v, want 0x140200000, true", base, ok)
	}

	pid, ok := entry.Uint64("eprocess_pid_offset")
	if !ok || pid != 0x2e8 {
		t.Fatalf("eprocess_pid_offset = %v, %v, want 0x2e8, true", pid, ok)
	}

	pcount, ok := entry.Uint64("pcount")
	if !ok || pcount != 42 {
		t.Fatalf("pcount = %v, %v, want 42, true", pcount, ok)
	}

	if entry["os_name"] != "Windows 7 SP1" {
		t.Fatalf("os_name = %q, want %q", entry["os_name"], "Windows 7 SP1")
	}
	if entry["family"] != "windows" {
		t.Fatalf("family = %q, want %q", entry["family"], "windows")
	}
}

func TestParseMultipleEntries(t *testing.T) {
	src := []byte(`
linux5 { task_comm_offset = 0x550; }
linux6 { task_comm_offset = 0x738; }
`)

	out, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}

	v5, ok := out["linux5"].Uint64("task_comm_offset")
	if !ok || v5 != 0x550 {
		t.Fatalf("linux5 task_comm_offset = %v, %v", v5, ok)
	}

	v6, ok := out["linux6"].Uint64("task_comm_offset")
	if !ok || v6 != 0x738 {
		t.Fatalf("linux6 task_comm_offset = %v, %v", v6, ok)
	}
}

func TestParseEmptyInputYieldsNoEntries(t *testing.T) {
	out, err := Parse([]byte("  \n  # just a comment\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("len(out) = %d, want 0", len(out))
	}
}

func TestUint64MissingOrNonNumericKey(t *testing.T) {
	entry := VMEntry{"name": "not-a-number"}

	if _, ok := entry.Uint64("missing"); ok {
		t.Fatalf("Uint64(missing key): want ok=false")
	}
	if _, ok := entry.Uint64("name"); ok {
		t.Fatalf("Uint64(non-numeric value): want ok=false")
	}
}

func TestParseMalformedInputFails(t *testing.T) {
	if _, err := Parse([]byte(`win7 { missing_semicolon = 1 }`)); err == nil {
		t.Fatalf("Parse(malformed): want error")
	}
}

func TestOffsetTableLinux(t *testing.T) {
	src := []byte(`
linux6 {
	ostype = linux;
	linux_tasks = 0x10;
	linux_mm = 0x20;
	linux_name = 0x738;
	linux_pid = 0x4c8;
	linux_pgd = 0x68;
	linux_addr = 0x0;
}
`)

	out, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	table, err := out["linux6"].OffsetTable()
	if err != nil {
		t.Fatalf("OffsetTable: %v", err)
	}

	if table.Family != osdetect.FamilyLinux {
		t.Fatalf("Family = %v, want %v", table.Family, osdetect.FamilyLinux)
	}
	if table.LinuxName != 0x738 {
		t.Fatalf("LinuxName = 0x%x, want 0x738", table.LinuxName)
	}
	if table.LinuxPID != 0x4c8 {
		t.Fatalf("LinuxPID = 0x%x, want 0x4c8", table.LinuxPID)
	}
}

func TestOffsetTableWindows(t *testing.T) {
	src := []byte(`
win7sp1 {
	ostype = Windows;
	win_ntoskrnl = 0x140200000;
	win_tasks = 0x188;
	win_pdbase = 0x28;
	win_pid = 0x180;
	win_peb = 0x338;
}
`)

	out, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	table, err := out["win7sp1"].OffsetTable()
	if err != nil {
		t.Fatalf("OffsetTable: %v", err)
	}

	if table.Family != osdetect.FamilyWindows {
		t.Fatalf("Family = %v, want %v", table.Family, osdetect.FamilyWindows)
	}
	if table.WinNtoskrnl != 0x140200000 {
		t.Fatalf("WinNtoskrnl = 0x%x, want 0x140200000", table.WinNtoskrnl)
	}
}

func TestOffsetTableMissingOSTypeFails(t *testing.T) {
	entry := VMEntry{"linux_tasks": "0x10"}

	if _, err := entry.OffsetTable(); err == nil {
		t.Fatalf("OffsetTable(missing ostype): want error")
	}
}
