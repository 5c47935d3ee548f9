package acpi

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tinyrange/acpiprobe/internal/physmem"
)

func TestInstallProducesTables(t *testing.T) {
	mem := physmem.NewImage(0, make([]byte, 1<<20))

	cfg := Config{
		NumCPUs: 2,
		HPET:    &HPETConfig{Address: 0xFED00000},
	}
	if err := Install(mem, cfg); err != nil {
		t.Fatalf("install ACPI: %v", err)
	}
	cfg.normalize(mem)

	tables := parseTables(t, mem, cfg.TablesBase, cfg.TablesSize)
	for _, sig := range []string{"APIC", "FACP", "RSDT", "HPET"} {
		if _, ok := tables[sig]; !ok {
			t.Fatalf("missing %s table", sig)
		}
	}

	rsdp := readAt(t, mem, cfg.RSDPBase, rsdpSize)
	if string(rsdp[:8]) != "RSD PTR " {
		t.Fatalf("bad RSDP signature: %q", rsdp[:8])
	}
	if !Valid(rsdp, rsdpSize) {
		t.Fatalf("RSDP checksum mismatch")
	}
	if rsdp[15] != 0 {
		t.Fatalf("RSDP revision = %d, want 0", rsdp[15])
	}
	if rsdtAddr := binary.LittleEndian.Uint32(rsdp[16:20]); uint64(rsdtAddr) != tables["RSDT"] {
		t.Fatalf("rsdt pointer mismatch: got 0x%x want 0x%x", rsdtAddr, tables["RSDT"])
	}

	entries := parseRSDTEntries(t, mem, tables["RSDT"])
	want := []uint64{tables["FACP"], tables["APIC"], tables["HPET"]}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("rsdt entries mismatch (-want +got):\n%s", diff)
	}

	fadt := readTable(t, mem, tables["FACP"])
	if len(fadt) != 116 {
		t.Fatalf("FADT length = %d, want 116", len(fadt))
	}
}

func TestInstallWithoutHPET(t *testing.T) {
	mem := physmem.NewImage(0, make([]byte, 1<<20))

	cfg := Config{}
	if err := Install(mem, cfg); err != nil {
		t.Fatalf("install ACPI: %v", err)
	}
	cfg.normalize(mem)

	tables := parseTables(t, mem, cfg.TablesBase, cfg.TablesSize)
	if _, ok := tables["HPET"]; ok {
		t.Fatalf("unexpected HPET table present")
	}

	entries := parseRSDTEntries(t, mem, tables["RSDT"])
	want := []uint64{tables["FACP"], tables["APIC"]}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("rsdt entries mismatch (-want +got):\n%s", diff)
	}
}

func TestInstallMADTContents(t *testing.T) {
	mem := physmem.NewImage(0, make([]byte, 1<<20))

	cfg := Config{
		NumCPUs:      3,
		DisabledCPUs: []uint8{2},
		PCATCompat:   true,
		IOAPIC:       IOAPICConfig{ID: 3, GSIBase: 0},
		ISAOverrides: []InterruptOverride{{IRQ: 0, GSI: 2}, {IRQ: 9, GSI: 9, Flags: 0xd}},
		ExtraMADTEntries: [][]byte{
			{0x7f, 4, 0, 0},
		},
	}
	if err := Install(mem, cfg); err != nil {
		t.Fatalf("install ACPI: %v", err)
	}
	cfg.normalize(mem)

	tables := parseTables(t, mem, cfg.TablesBase, cfg.TablesSize)

	rep := &recordingReporter{}
	m, err := ParseMADT(readTable(t, mem, tables["APIC"]), rep)
	if err != nil {
		t.Fatalf("parse installed MADT: %v", err)
	}

	want := []Entry{
		ProcessorLocalAPIC{ProcessorID: 0, APICID: 0, Flags: 1},
		ProcessorLocalAPIC{ProcessorID: 1, APICID: 1, Flags: 1},
		ProcessorLocalAPIC{ProcessorID: 2, APICID: 2, Flags: 0},
		IOAPIC{ID: 3, Address: 0xFEC00000},
		InterruptSourceOverride{Source: 0, GSI: 2},
		InterruptSourceOverride{Source: 9, GSI: 9, Flags: 0xd},
		UnknownEntry{Tag: 0x7f, Length: 4},
	}
	if diff := cmp.Diff(want, m.Entries); diff != "" {
		t.Fatalf("MADT entries mismatch (-want +got):\n%s", diff)
	}
	if m.LocalAPICAddress != 0xFEE00000 || !m.PCATCompat() {
		t.Fatalf("MADT prefix = 0x%x flags=%d", m.LocalAPICAddress, m.Flags)
	}
	if len(rep.unsupported) != 1 {
		t.Fatalf("unsupported = %v", rep.unsupported)
	}
}

func TestInstallExtraTables(t *testing.T) {
	mem := physmem.NewImage(0, make([]byte, 1<<20))

	cfg := Config{
		ExtraTables: []RawTable{{Signature: sig("SSDT"), Revision: 2, Body: []byte{1, 2, 3}}},
	}
	if err := Install(mem, cfg); err != nil {
		t.Fatalf("install ACPI: %v", err)
	}
	cfg.normalize(mem)

	tables := parseTables(t, mem, cfg.TablesBase, cfg.TablesSize)
	entries := parseRSDTEntries(t, mem, tables["RSDT"])
	if len(entries) != 3 || entries[2] != tables["SSDT"] {
		t.Fatalf("rsdt entries = %x, want SSDT last", entries)
	}
}

func TestInstallRejectsBadLayout(t *testing.T) {
	for name, cfg := range map[string]Config{
		"tables past image": {TablesBase: 0xf8000, TablesSize: 0x10000},
		"rsdp past image":   {RSDPBase: 0xffff0},
		"region too small":  {TablesBase: 0x1000, TablesSize: 0x40, NumCPUs: 4},
		"too many cpus":     {NumCPUs: MaxCPUs + 1},
	} {
		t.Run(name, func(t *testing.T) {
			mem := physmem.NewImage(0, make([]byte, 1<<20))
			if err := Install(mem, cfg); err == nil {
				t.Fatalf("install succeeded")
			}
		})
	}
}

func TestInstallMaxCPUs(t *testing.T) {
	mem := physmem.NewImage(0, make([]byte, 1<<20))

	cfg := Config{NumCPUs: MaxCPUs}
	if err := Install(mem, cfg); err != nil {
		t.Fatalf("install ACPI: %v", err)
	}
	cfg.normalize(mem)

	tables := parseTables(t, mem, cfg.TablesBase, cfg.TablesSize)
	m, err := ParseMADT(readTable(t, mem, tables["APIC"]), &recordingReporter{})
	if err != nil {
		t.Fatalf("parse installed MADT: %v", err)
	}

	seen := make(map[uint8]bool)
	for _, p := range m.Processors() {
		if seen[p.ProcessorID] {
			t.Fatalf("duplicate processor ID %d", p.ProcessorID)
		}
		seen[p.ProcessorID] = true
	}
	if len(seen) != MaxCPUs {
		t.Fatalf("processors = %d, want %d", len(seen), MaxCPUs)
	}
}

func parseTables(t *testing.T, mem *physmem.Image, tablesBase, size uint64) map[string]uint64 {
	t.Helper()
	tables := make(map[string]uint64)
	region := readAt(t, mem, tablesBase, size)
	for pos := 0; pos+headerSize <= len(region); {
		sig := string(region[pos : pos+4])
		if sig == "\x00\x00\x00\x00" {
			break
		}
		length := int(binary.LittleEndian.Uint32(region[pos+4 : pos+8]))
		if pos+length > len(region) {
			t.Fatalf("table %s overruns region", sig)
		}
		if Sum(region[pos:pos+length]) != 0 {
			t.Fatalf("table %s checksum mismatch", sig)
		}
		tables[sig] = tablesBase + uint64(pos)
		pos += align(length, 8)
	}
	return tables
}

func align(n, a int) int {
	if r := n % a; r != 0 {
		return n + (a - r)
	}
	return n
}

func readAt(t *testing.T, mem *physmem.Image, phys, n uint64) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := mem.ReadAt(buf, int64(phys)); err != nil {
		t.Fatalf("read 0x%x: %v", phys, err)
	}
	return buf
}

func readTable(t *testing.T, mem *physmem.Image, phys uint64) []byte {
	t.Helper()
	hdr := readAt(t, mem, phys, headerSize)
	return readAt(t, mem, phys, uint64(binary.LittleEndian.Uint32(hdr[4:8])))
}

func parseRSDTEntries(t *testing.T, mem *physmem.Image, phys uint64) []uint64 {
	t.Helper()
	rsdt := readTable(t, mem, phys)
	words, err := rsdtEntries(rsdt, uint32(len(rsdt)))
	if err != nil {
		t.Fatalf("rsdt entries: %v", err)
	}
	entries := make([]uint64, len(words))
	for i, w := range words {
		entries[i] = uint64(w)
	}
	return entries
}
