package acpi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// rsdpSize is the size of the legacy (ACPI 1.0) root system description pointer.
	rsdpSize = 20

	// headerSize is the size of the header shared by every system description table.
	headerSize = 36

	// rsdtEntrySize is the width of one RSDT pointer.
	rsdtEntrySize = 4

	// maxTableLength bounds the mapping made for a single table. Real MADTs and
	// FADTs are a few hundred bytes; anything past this is a corrupted length.
	maxTableLength = 1 << 20
)

var (
	ErrRootNotFound   = errors.New("acpi: could not locate RSDP")
	ErrChecksum       = errors.New("acpi: checksum mismatch")
	ErrTruncated      = errors.New("acpi: structure truncated")
	ErrBadTableLength = errors.New("acpi: table length out of bounds")
	ErrBadEntryLength = errors.New("acpi: malformed MADT entry length")
	ErrTruncatedEntry = errors.New("acpi: MADT entry truncated")
)

// rsdpSignature must contain "RSD PTR " (last byte is a space).
var rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}

// The signature is compared as two 32-bit words.
var (
	rsdpSignatureLo = binary.LittleEndian.Uint32(rsdpSignature[0:4])
	rsdpSignatureHi = binary.LittleEndian.Uint32(rsdpSignature[4:8])
)

// Signature identifies a system description table.
type Signature [4]byte

var (
	SignatureRSDT = Signature{'R', 'S', 'D', 'T'}
	SignatureMADT = Signature{'A', 'P', 'I', 'C'}
	SignatureFADT = Signature{'F', 'A', 'C', 'P'}
	SignatureHPET = Signature{'H', 'P', 'E', 'T'}
)

func (s Signature) String() string { return printable(s[:]) }

// RootDescriptor is the decoded legacy root system description pointer.
type RootDescriptor struct {
	// Phys is the physical address the descriptor was found at.
	Phys uint64

	Checksum uint8
	OEMID    [6]byte

	// Revision is 0 for ACPI 1.0 and 2 for ACPI 2.0 and later.
	Revision uint8

	// RSDTAddr is the physical address of the 32-bit root system description table.
	RSDTAddr uint32
}

// ACPIVersion returns the major ACPI version advertised by the descriptor.
func (d RootDescriptor) ACPIVersion() int { return int(d.Revision) + 1 }

func decodeRootDescriptor(b []byte, phys uint64) (RootDescriptor, error) {
	if len(b) < rsdpSize {
		return RootDescriptor{}, fmt.Errorf("%w: RSDP needs %d bytes, have %d", ErrTruncated, rsdpSize, len(b))
	}

	d := RootDescriptor{
		Phys:     phys,
		Checksum: b[8],
		Revision: b[15],
		RSDTAddr: binary.LittleEndian.Uint32(b[16:20]),
	}
	copy(d.OEMID[:], b[9:15])
	return d, nil
}

// TableHeader is the common header for all ACPI-related tables.
type TableHeader struct {
	Signature Signature

	// Length of the whole table, header included.
	Length uint32

	Revision uint8
	Checksum uint8

	OEMID       [6]byte
	OEMTableID  [8]byte
	OEMRevision uint32

	CreatorID       [4]byte
	CreatorRevision uint32
}

func decodeHeader(b []byte) (TableHeader, error) {
	if len(b) < headerSize {
		return TableHeader{}, fmt.Errorf("%w: table header needs %d bytes, have %d", ErrTruncated, headerSize, len(b))
	}

	h := TableHeader{
		Length:          binary.LittleEndian.Uint32(b[4:8]),
		Revision:        b[8],
		Checksum:        b[9],
		OEMRevision:     binary.LittleEndian.Uint32(b[24:28]),
		CreatorRevision: binary.LittleEndian.Uint32(b[32:36]),
	}
	copy(h.Signature[:], b[0:4])
	copy(h.OEMID[:], b[10:16])
	copy(h.OEMTableID[:], b[16:24])
	copy(h.CreatorID[:], b[28:32])
	return h, nil
}

// rsdtEntries decodes the 32-bit table pointers that follow the RSDT header.
// Trailing bytes that do not form a whole pointer are ignored.
func rsdtEntries(table []byte, length uint32) ([]uint32, error) {
	if length < headerSize || uint64(length) > uint64(len(table)) {
		return nil, fmt.Errorf("%w: RSDT length %d", ErrBadTableLength, length)
	}

	count := (length - headerSize) / rsdtEntrySize
	entries := make([]uint32, count)
	for i := range entries {
		off := headerSize + i*rsdtEntrySize
		entries[i] = binary.LittleEndian.Uint32(table[off : off+rsdtEntrySize])
	}
	return entries, nil
}

// printable renders firmware-provided identifiers, replacing anything that is
// not printable ASCII with '.'.
func printable(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
