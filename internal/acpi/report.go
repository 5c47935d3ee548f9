package acpi

import (
	"fmt"
	"io"

	"github.com/charmbracelet/x/ansi"
)

// Reporter receives human-readable diagnostics while the tables are probed.
type Reporter interface {
	SearchWindow(w Window)
	RootFound(d RootDescriptor)
	RootMissing()
	RootTableInvalid(addr uint64, err error)

	TableChecksumMismatch(addr uint64, h TableHeader)
	TableLengthInvalid(addr uint64, h TableHeader)
	TableUnsupported(addr uint64, h TableHeader)
	Header(h TableHeader)

	Topology(localAPICAddress, flags uint32)
	Entry(e Entry)
	EntryUnsupported(e UnknownEntry)
	DecodeFault(sig Signature, err error)
}

// TextReporter renders diagnostics as indented text, one fact per line.
type TextReporter struct {
	w     io.Writer
	color bool
}

// NewTextReporter writes to w. When color is set, headings and faults are
// styled with ANSI escape sequences.
func NewTextReporter(w io.Writer, color bool) *TextReporter {
	return &TextReporter{w: w, color: color}
}

var (
	headingStyle = ansi.Style{}.Bold()
	faintStyle   = ansi.Style{}.Faint()
	faultStyle   = ansi.Style{}.Bold().ForegroundColor(ansi.Red)
)

func (r *TextReporter) heading(s string) string {
	if !r.color {
		return s
	}
	return headingStyle.Styled(s)
}

func (r *TextReporter) faint(s string) string {
	if !r.color {
		return s
	}
	return faintStyle.Styled(s)
}

func (r *TextReporter) fault(s string) string {
	if !r.color {
		return s
	}
	return faultStyle.Styled(s)
}

func (r *TextReporter) printf(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
}

func (r *TextReporter) SearchWindow(w Window) {
	r.printf("Searching ACPI RSDP table at 0x%x - 0x%x\n", w.Base, w.Limit)
}

func (r *TextReporter) RootFound(d RootDescriptor) {
	r.printf("%s\n", r.heading(fmt.Sprintf("Host supports ACPI rev. %d.0", d.ACPIVersion())))
	r.printf("  RSDP at 0x%x, OEM id: %q, RSDT at 0x%x\n", d.Phys, printable(d.OEMID[:]), d.RSDTAddr)
}

func (r *TextReporter) RootMissing() {
	r.printf("No ACPI tables found\n")
}

func (r *TextReporter) RootTableInvalid(addr uint64, err error) {
	r.printf("%s\n", r.fault(fmt.Sprintf("Bad RSDT at 0x%x: %v", addr, err)))
}

func (r *TextReporter) TableChecksumMismatch(addr uint64, h TableHeader) {
	r.printf("%s\n", r.fault(fmt.Sprintf("ACPI table '%s' at 0x%x has incorrect checksum", h.Signature, addr)))
}

func (r *TextReporter) TableLengthInvalid(addr uint64, h TableHeader) {
	r.printf("%s\n", r.fault(fmt.Sprintf("ACPI table '%s' at 0x%x has impossible length %d", h.Signature, addr, h.Length)))
}

func (r *TextReporter) TableUnsupported(addr uint64, h TableHeader) {
	r.printf("Found table '%s' at 0x%x, len: %d %s\n", h.Signature, addr, h.Length, r.faint("(not yet implemented)"))
}

func (r *TextReporter) Header(h TableHeader) {
	r.printf("%s\n", r.heading(fmt.Sprintf("Table '%s':", h.Signature)))
	r.printf("  Length: %d\n", h.Length)
	r.printf("  Revision: %d\n", h.Revision)
	r.printf("  OEM id: %q\n", printable(h.OEMID[:]))
	r.printf("  OEM table id: %q\n", printable(h.OEMTableID[:]))
	r.printf("  OEM rev: %d\n", h.OEMRevision)
	r.printf("  Creator id: %q\n", printable(h.CreatorID[:]))
	r.printf("  Creator rev: %d\n", h.CreatorRevision)
}

func (r *TextReporter) Topology(localAPICAddress, flags uint32) {
	r.printf("  Local APIC Address: 0x%x\n", localAPICAddress)
	r.printf("  PC-AT compatible: %s\n", yesNo(flags&madtFlagPCATCompat != 0))
}

func (r *TextReporter) Entry(e Entry) {
	r.printf("  Entry '%s':\n", e.Type())

	switch e := e.(type) {
	case ProcessorLocalAPIC:
		r.printf("    Processor ID: %d\n", e.ProcessorID)
		r.printf("    APIC ID: %d\n", e.APICID)
		r.printf("    Enabled: %s\n", yesNo(e.Enabled()))
	case IOAPIC:
		r.printf("    I/O APIC ID: %d\n", e.ID)
		r.printf("    I/O APIC Address: 0x%x\n", e.Address)
		r.printf("    Global System Interrupt Base: %d\n", e.GSIBase)
	case InterruptSourceOverride:
		r.printf("    Bus: %d\n", e.Bus)
		r.printf("    Source: %d\n", e.Source)
		r.printf("    Global System Interrupt: %d\n", e.GSI)
		r.printf("    Polarity: %d\n", e.Polarity())
		r.printf("    Trigger Mode: %d\n", e.TriggerMode())
	case UnknownEntry:
		r.printf("    Length: %d\n", e.Length)
	}
}

func (r *TextReporter) EntryUnsupported(e UnknownEntry) {
	r.printf("  MADT entry of type %d not implemented yet %s\n", e.Tag, r.faint(fmt.Sprintf("(%d bytes)", e.Length)))
}

func (r *TextReporter) DecodeFault(sig Signature, err error) {
	r.printf("%s\n", r.fault(fmt.Sprintf("Aborting '%s' parse: %v", sig, err)))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

var _ Reporter = (*TextReporter)(nil)
