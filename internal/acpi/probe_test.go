package acpi

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tinyrange/acpiprobe/internal/physmem"
)

func TestProbeInstalledTables(t *testing.T) {
	mapper := newTracingMapper(0, 1<<20)
	if err := Install(mapper.Image, Config{NumCPUs: 4, HPET: &HPETConfig{Address: 0xFED00000}}); err != nil {
		t.Fatalf("install ACPI: %v", err)
	}

	rep := &recordingReporter{}
	tables, err := Probe(mapper, rep, Options{})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}

	wantEvents := []string{
		"search [0x80000-0xa0000)",
		"search [0xe0000-0x100000)",
		"root 0xe0000",
		"unsupported FACP",
		"header APIC",
		"topology 0xfee00000",
		"unsupported HPET",
	}
	if diff := cmp.Diff(wantEvents, rep.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	if tables.Root.ACPIVersion() != 1 {
		t.Fatalf("ACPI version = %d", tables.Root.ACPIVersion())
	}
	if n := len(tables.MADT.Processors()); n != 4 {
		t.Fatalf("processors = %d, want 4", n)
	}
	if _, ok := tables.Lookup(SignatureFADT); !ok {
		t.Fatalf("FADT missing from refs")
	}
}

func TestProbeWithoutACPI(t *testing.T) {
	mapper := newTracingMapper(0, 1<<20)

	rep := &recordingReporter{}
	tables, err := Probe(mapper, rep, Options{})
	if !errors.Is(err, ErrRootNotFound) {
		t.Fatalf("error = %v, want ErrRootNotFound", err)
	}
	if tables != nil {
		t.Fatalf("tables = %+v, want nil", tables)
	}
	if rep.count("missing") != 1 || len(rep.events) != 3 {
		t.Fatalf("events = %v", rep.events)
	}
	if mapper.Live() != 0 || mapper.maxLive != 1 {
		t.Fatalf("live=%d maxLive=%d, want 0 and 1", mapper.Live(), mapper.maxLive)
	}
}

func TestProbeFirstWindowWins(t *testing.T) {
	mapper := newTracingMapper(0, 1<<20)
	mapper.poke(t, rsdtAt, makeTable("RSDT", nil))
	mapper.poke(t, 0x9f000, makeRSDP(0, rsdtAt, 0))
	mapper.poke(t, 0xe0000, makeRSDP(2, 0xdead0000, 0))

	rep := &recordingReporter{}
	tables, err := Probe(mapper, rep, Options{})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if tables.Root.Phys != 0x9f000 {
		t.Fatalf("root at 0x%x, want the one in the first window", tables.Root.Phys)
	}
	if rep.count("search [0xe0000-0x100000)") != 0 {
		t.Fatalf("second window searched: %v", rep.events)
	}
	if len(tables.Refs) != 0 || tables.MADT != nil {
		t.Fatalf("empty RSDT produced tables: %+v", tables)
	}
}

func TestProbeFallsBackAfterMappingFailure(t *testing.T) {
	mapper := newTracingMapper(0, 1<<20)
	mapper.poke(t, rsdtAt, makeTable("RSDT", nil))
	mapper.poke(t, 0x9f000, makeRSDP(0, 0x2000, 0))
	mapper.poke(t, 0xf0010, makeRSDP(0, rsdtAt, 0))
	mapper.failAt[0x81000] = true

	rep := &recordingReporter{}
	tables, err := Probe(mapper, rep, Options{})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if tables.Root.Phys != 0xf0010 {
		t.Fatalf("root at 0x%x, want the one in the second window", tables.Root.Phys)
	}
	if mapper.Live() != 1 {
		t.Fatalf("live mappings = %d, want only the RSDT", mapper.Live())
	}
}

func TestProbeCustomWindows(t *testing.T) {
	mapper := newTracingMapper(0, 1<<20)
	mapper.poke(t, rsdtAt, makeTable("RSDT", nil))
	mapper.poke(t, 0x40100, makeRSDP(0, rsdtAt, 0))

	rep := &recordingReporter{}
	tables, err := Probe(mapper, rep, Options{Windows: []Window{{Base: 0x40000, Limit: 0x41000}}})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if tables.Root.Phys != 0x40100 {
		t.Fatalf("root at 0x%x", tables.Root.Phys)
	}

	want := []physmem.Region{
		{Start: rsdtAt, End: 0x2000, Perm: physmem.PermRead | physmem.PermWrite},
		{Start: 0x40000, End: 0x41000, Perm: physmem.PermRead | physmem.PermWrite},
	}
	if diff := cmp.Diff(want, mapper.AddressSpace().Regions()); diff != "" {
		t.Fatalf("regions mismatch (-want +got):\n%s", diff)
	}
}

func TestProbeBadRSDT(t *testing.T) {
	mapper := newTracingMapper(0, 1<<20)
	mapper.poke(t, 0xe0000, makeRSDP(0, 0x2000000, 0))

	rep := &recordingReporter{}
	_, err := Probe(mapper, rep, Options{})
	if err == nil || errors.Is(err, ErrRootNotFound) {
		t.Fatalf("error = %v, want an RSDT failure", err)
	}
	if rep.count("bad-rsdt 0x2000000") != 1 {
		t.Fatalf("events = %v", rep.events)
	}
}
