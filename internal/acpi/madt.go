package acpi

import (
	"encoding/binary"
	"fmt"
)

const (
	// madtPrefixSize covers the header, local APIC address and flags that
	// precede the interrupt controller structures.
	madtPrefixSize = headerSize + 8

	entryPrefixSize = 2

	madtFlagPCATCompat = 1 << 0
	lapicFlagEnabled   = 1 << 0
)

// EntryType is the type tag of an interrupt controller structure.
type EntryType uint8

const (
	EntryProcessorLocalAPIC      EntryType = 0
	EntryIOAPIC                  EntryType = 1
	EntryInterruptSourceOverride EntryType = 2
)

func (t EntryType) String() string {
	switch t {
	case EntryProcessorLocalAPIC:
		return "Processor Local APIC"
	case EntryIOAPIC:
		return "I/O APIC"
	case EntryInterruptSourceOverride:
		return "Interrupt Source Override"
	default:
		return fmt.Sprintf("type %d", uint8(t))
	}
}

// Entry is one decoded interrupt controller structure. It is one of
// ProcessorLocalAPIC, IOAPIC, InterruptSourceOverride or UnknownEntry.
type Entry interface {
	Type() EntryType
	isEntry()
}

type ProcessorLocalAPIC struct {
	ProcessorID uint8
	APICID      uint8
	Flags       uint32
}

func (ProcessorLocalAPIC) Type() EntryType { return EntryProcessorLocalAPIC }
func (ProcessorLocalAPIC) isEntry()        {}

// Enabled reports whether the processor is usable.
func (e ProcessorLocalAPIC) Enabled() bool { return e.Flags&lapicFlagEnabled != 0 }

type IOAPIC struct {
	ID      uint8
	Address uint32
	GSIBase uint32
}

func (IOAPIC) Type() EntryType { return EntryIOAPIC }
func (IOAPIC) isEntry()        {}

type InterruptSourceOverride struct {
	Bus    uint8
	Source uint8
	GSI    uint32

	// Flags hold the MPS INTI polarity (bits 0-1) and trigger mode (bits 2-3).
	Flags uint16
}

func (InterruptSourceOverride) Type() EntryType { return EntryInterruptSourceOverride }
func (InterruptSourceOverride) isEntry()        {}

func (e InterruptSourceOverride) Polarity() uint8    { return uint8(e.Flags & 0x3) }
func (e InterruptSourceOverride) TriggerMode() uint8 { return uint8(e.Flags>>2) & 0x3 }

// UnknownEntry is an interrupt controller structure this package does not decode.
type UnknownEntry struct {
	Tag    uint8
	Length uint8
}

func (e UnknownEntry) Type() EntryType { return EntryType(e.Tag) }
func (UnknownEntry) isEntry()          {}

// DecodeError describes a malformed interrupt controller structure. Offset is
// relative to the start of the structure list.
type DecodeError struct {
	Offset int
	Tag    uint8
	Length uint8
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v at offset %d (type %d, length %d)", e.Err, e.Offset, e.Tag, e.Length)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MADT is the decoded multiple APIC description table.
type MADT struct {
	Header TableHeader

	LocalAPICAddress uint32
	Flags            uint32

	Entries []Entry
}

// PCATCompat reports whether the system also has dual 8259 PICs.
func (m *MADT) PCATCompat() bool { return m.Flags&madtFlagPCATCompat != 0 }

func (m *MADT) Processors() []ProcessorLocalAPIC {
	var out []ProcessorLocalAPIC
	for _, e := range m.Entries {
		if p, ok := e.(ProcessorLocalAPIC); ok {
			out = append(out, p)
		}
	}
	return out
}

func (m *MADT) IOAPICs() []IOAPIC {
	var out []IOAPIC
	for _, e := range m.Entries {
		if io, ok := e.(IOAPIC); ok {
			out = append(out, io)
		}
	}
	return out
}

func (m *MADT) Overrides() []InterruptSourceOverride {
	var out []InterruptSourceOverride
	for _, e := range m.Entries {
		if o, ok := e.(InterruptSourceOverride); ok {
			out = append(out, o)
		}
	}
	return out
}

// ParseMADT decodes a checksum-validated MADT. table must hold at least the
// length declared in its header. Entries decoded before a malformed one are
// kept in the returned table alongside the error.
func ParseMADT(table []byte, rep Reporter) (*MADT, error) {
	hdr, err := decodeHeader(table)
	if err != nil {
		rep.DecodeFault(SignatureMADT, err)
		return nil, err
	}
	if hdr.Length < madtPrefixSize || uint64(hdr.Length) > uint64(len(table)) {
		err := fmt.Errorf("%w: MADT length %d", ErrBadTableLength, hdr.Length)
		rep.DecodeFault(hdr.Signature, err)
		return nil, err
	}

	m := &MADT{
		Header:           hdr,
		LocalAPICAddress: binary.LittleEndian.Uint32(table[headerSize : headerSize+4]),
		Flags:            binary.LittleEndian.Uint32(table[headerSize+4 : headerSize+8]),
	}
	rep.Header(hdr)
	rep.Topology(m.LocalAPICAddress, m.Flags)

	entries := table[madtPrefixSize:hdr.Length]
	for off := 0; off < len(entries); {
		if len(entries)-off < entryPrefixSize {
			err := &DecodeError{Offset: off, Tag: entries[off], Err: ErrTruncatedEntry}
			rep.DecodeFault(hdr.Signature, err)
			return m, err
		}

		tag, length := entries[off], entries[off+1]
		if int(length) < entryPrefixSize || int(length) > len(entries)-off {
			err := &DecodeError{Offset: off, Tag: tag, Length: length, Err: ErrBadEntryLength}
			rep.DecodeFault(hdr.Signature, err)
			return m, err
		}

		entry, err := decodeEntry(entries[off : off+int(length)])
		if err != nil {
			fault := &DecodeError{Offset: off, Tag: tag, Length: length, Err: err}
			rep.DecodeFault(hdr.Signature, fault)
			return m, fault
		}

		m.Entries = append(m.Entries, entry)
		switch e := entry.(type) {
		case UnknownEntry:
			rep.EntryUnsupported(e)
		default:
			rep.Entry(e)
		}

		off += int(length)
	}

	return m, nil
}

// decodeEntry decodes a single structure whose length has already been
// checked against the table bounds.
func decodeEntry(b []byte) (Entry, error) {
	tag := b[0]

	switch EntryType(tag) {
	case EntryProcessorLocalAPIC:
		if len(b) < 8 {
			return nil, ErrTruncatedEntry
		}
		return ProcessorLocalAPIC{
			ProcessorID: b[2],
			APICID:      b[3],
			Flags:       binary.LittleEndian.Uint32(b[4:8]),
		}, nil

	case EntryIOAPIC:
		if len(b) < 12 {
			return nil, ErrTruncatedEntry
		}
		return IOAPIC{
			ID:      b[2],
			Address: binary.LittleEndian.Uint32(b[4:8]),
			GSIBase: binary.LittleEndian.Uint32(b[8:12]),
		}, nil

	case EntryInterruptSourceOverride:
		if len(b) < 10 {
			return nil, ErrTruncatedEntry
		}
		return InterruptSourceOverride{
			Bus:    b[2],
			Source: b[3],
			GSI:    binary.LittleEndian.Uint32(b[4:8]),
			Flags:  binary.LittleEndian.Uint16(b[8:10]),
		}, nil

	default:
		return UnknownEntry{Tag: tag, Length: uint8(len(b))}, nil
	}
}
