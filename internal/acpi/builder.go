package acpi

import "encoding/binary"

// tableWriter lays tables out back to back from a fixed physical address,
// each starting on an 8-byte boundary.
type tableWriter struct {
	buf  []byte
	base uint64
	oem  OEMInfo
}

func newTableWriter(base uint64, oem OEMInfo) *tableWriter {
	return &tableWriter{base: base, oem: oem}
}

// Append encodes a header for body, seals the table with its checksum and
// returns the physical address it will live at. A zero tableID falls back to
// the writer's OEM table ID.
func (w *tableWriter) Append(sig Signature, revision uint8, tableID [8]byte, body []byte) uint64 {
	for len(w.buf)%8 != 0 {
		w.buf = append(w.buf, 0)
	}
	start := len(w.buf)

	if tableID == ([8]byte{}) {
		tableID = w.oem.OEMTableID
	}
	h := TableHeader{
		Signature:       sig,
		Length:          uint32(headerSize + len(body)),
		Revision:        revision,
		OEMID:           w.oem.OEMID,
		OEMTableID:      tableID,
		OEMRevision:     w.oem.OEMRevision,
		CreatorID:       w.oem.CreatorID,
		CreatorRevision: w.oem.CreatorRevision,
	}
	w.buf = appendHeader(w.buf, h)
	w.buf = append(w.buf, body...)

	table := w.buf[start:]
	table[9] = checksum(table)

	return w.base + uint64(start)
}

func (w *tableWriter) Bytes() []byte { return w.buf }

// appendHeader is the inverse of decodeHeader. The checksum byte is written
// as given.
func appendHeader(b []byte, h TableHeader) []byte {
	b = append(b, h.Signature[:]...)
	b = binary.LittleEndian.AppendUint32(b, h.Length)
	b = append(b, h.Revision, h.Checksum)
	b = append(b, h.OEMID[:]...)
	b = append(b, h.OEMTableID[:]...)
	b = binary.LittleEndian.AppendUint32(b, h.OEMRevision)
	b = append(b, h.CreatorID[:]...)
	return binary.LittleEndian.AppendUint32(b, h.CreatorRevision)
}

// appendEntry is the inverse of decodeEntry. Unknown entries are emitted as
// zero-filled structures of their recorded length.
func appendEntry(b []byte, e Entry) []byte {
	switch e := e.(type) {
	case ProcessorLocalAPIC:
		b = append(b, byte(EntryProcessorLocalAPIC), 8, e.ProcessorID, e.APICID)
		return binary.LittleEndian.AppendUint32(b, e.Flags)
	case IOAPIC:
		b = append(b, byte(EntryIOAPIC), 12, e.ID, 0)
		b = binary.LittleEndian.AppendUint32(b, e.Address)
		return binary.LittleEndian.AppendUint32(b, e.GSIBase)
	case InterruptSourceOverride:
		b = append(b, byte(EntryInterruptSourceOverride), 10, e.Bus, e.Source)
		b = binary.LittleEndian.AppendUint32(b, e.GSI)
		return binary.LittleEndian.AppendUint16(b, e.Flags)
	case UnknownEntry:
		entry := make([]byte, max(int(e.Length), entryPrefixSize))
		entry[0], entry[1] = e.Tag, byte(len(entry))
		return append(b, entry...)
	}
	return b
}

// checksum returns the byte that makes b add up to zero.
func checksum(b []byte) byte {
	return byte(0 - Sum(b))
}

func sig(name string) Signature {
	var out Signature
	copy(out[:], name)
	return out
}

func tableID(name string) [8]byte {
	var out [8]byte
	copy(out[:], name)
	return out
}
