package acpi

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/tinyrange/acpiprobe/internal/physmem"
)

// recordingReporter keeps every report as a short event string.
type recordingReporter struct {
	events []string

	entries     []Entry
	unsupported []UnknownEntry
	faults      []error
}

func (r *recordingReporter) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recordingReporter) SearchWindow(w Window)      { r.add("search %s", w) }
func (r *recordingReporter) RootFound(d RootDescriptor) { r.add("root 0x%x", d.Phys) }
func (r *recordingReporter) RootMissing()               { r.add("missing") }
func (r *recordingReporter) RootTableInvalid(addr uint64, err error) {
	r.add("bad-rsdt 0x%x", addr)
}
func (r *recordingReporter) TableChecksumMismatch(addr uint64, h TableHeader) {
	r.add("checksum %s", h.Signature)
}
func (r *recordingReporter) TableLengthInvalid(addr uint64, h TableHeader) {
	r.add("bad-length %s", h.Signature)
}
func (r *recordingReporter) TableUnsupported(addr uint64, h TableHeader) {
	r.add("unsupported %s", h.Signature)
}
func (r *recordingReporter) Header(h TableHeader)        { r.add("header %s", h.Signature) }
func (r *recordingReporter) Topology(base, flags uint32) { r.add("topology 0x%x", base) }
func (r *recordingReporter) Entry(e Entry)               { r.entries = append(r.entries, e) }
func (r *recordingReporter) EntryUnsupported(e UnknownEntry) {
	r.unsupported = append(r.unsupported, e)
}
func (r *recordingReporter) DecodeFault(sig Signature, err error) { r.faults = append(r.faults, err) }

func (r *recordingReporter) count(event string) int {
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// tracingMapper records the order of map and unmap calls and can be told to
// fail mapping a given page.
type tracingMapper struct {
	*physmem.Image

	trace  []string
	flags  []physmem.Flags
	failAt map[uint64]bool

	live, maxLive int
}

func newTracingMapper(base uint64, size int) *tracingMapper {
	return &tracingMapper{
		Image:  physmem.NewImage(base, make([]byte, size)),
		failAt: make(map[uint64]bool),
	}
}

func (tm *tracingMapper) Map(phys, size uint64, flags physmem.Flags) (*physmem.Mapping, error) {
	start, _ := physmem.PageRange(phys, size)
	if tm.failAt[start] {
		tm.trace = append(tm.trace, fmt.Sprintf("fail 0x%x", start))
		return nil, fmt.Errorf("injected failure at 0x%x", start)
	}
	m, err := tm.Image.Map(phys, size, flags)
	if err != nil {
		return nil, err
	}
	tm.trace = append(tm.trace, fmt.Sprintf("map 0x%x", m.Phys))
	tm.flags = append(tm.flags, m.Flags)
	tm.live++
	tm.maxLive = max(tm.maxLive, tm.live)
	return m, nil
}

func (tm *tracingMapper) Unmap(m *physmem.Mapping) error {
	tm.trace = append(tm.trace, fmt.Sprintf("unmap 0x%x", m.Phys))
	tm.live--
	return tm.Image.Unmap(m)
}

func (tm *tracingMapper) poke(t *testing.T, addr uint64, b []byte) {
	t.Helper()
	if _, err := tm.WriteAt(b, int64(addr)); err != nil {
		t.Fatalf("write 0x%x: %v", addr, err)
	}
}

// makeRSDP returns a legacy RSDP; a non-zero skew breaks its checksum.
func makeRSDP(revision uint8, rsdtAddr uint32, skew byte) []byte {
	b := make([]byte, rsdpSize)
	copy(b, rsdpSignature[:])
	copy(b[9:15], "OEMID ")
	b[15] = revision
	binary.LittleEndian.PutUint32(b[16:20], rsdtAddr)
	b[8] = checksum(b) + skew
	return b
}

// makeTable returns a table with a valid checksum.
func makeTable(signature string, body []byte) []byte {
	b := make([]byte, headerSize+len(body))
	copy(b[0:4], signature)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)))
	b[8] = 1
	copy(b[10:16], "OEMID ")
	copy(b[16:24], "TABLEID ")
	copy(b[28:32], "TEST")
	copy(b[headerSize:], body)
	b[9] = checksum(b)
	return b
}

// makeMADT builds a MADT from raw entry bytes.
func makeMADT(lapic uint32, flags uint32, entries ...[]byte) []byte {
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body[0:4], lapic)
	binary.LittleEndian.PutUint32(body[4:8], flags)
	for _, e := range entries {
		body = append(body, e...)
	}
	return makeTable("APIC", body)
}

func lapicEntry(procID, apicID uint8, enabled bool) []byte {
	b := []byte{0, 8, procID, apicID, 0, 0, 0, 0}
	if enabled {
		b[4] = 1
	}
	return b
}

func ioapicEntry(id uint8, addr, gsiBase uint32) []byte {
	b := []byte{1, 12, id, 0}
	b = binary.LittleEndian.AppendUint32(b, addr)
	return binary.LittleEndian.AppendUint32(b, gsiBase)
}

func overrideEntry(bus, source uint8, gsi uint32, flags uint16) []byte {
	b := []byte{2, 10, bus, source}
	b = binary.LittleEndian.AppendUint32(b, gsi)
	return binary.LittleEndian.AppendUint16(b, flags)
}

func rsdtBody(addrs ...uint32) []byte {
	var b []byte
	for _, a := range addrs {
		b = binary.LittleEndian.AppendUint32(b, a)
	}
	return b
}
