package acpi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Memory is a physical memory image tables can be installed into.
type Memory interface {
	io.WriterAt

	MemoryBase() uint64
	MemorySize() uint64
}

// Install writes a legacy RSDP/RSDT chain with a MADT, a FADT, an optional
// HPET and any extra tables into mem. The RSDT lists the FADT first, then the
// MADT, the HPET and the extra tables in order.
func Install(mem Memory, cfg Config) error {
	cfg.normalize(mem)

	if cfg.NumCPUs > MaxCPUs {
		return fmt.Errorf("acpi: %d CPUs do not fit 8-bit processor IDs (max %d)", cfg.NumCPUs, MaxCPUs)
	}

	memBase, memEnd := mem.MemoryBase(), mem.MemoryBase()+mem.MemorySize()
	if cfg.TablesBase < memBase || cfg.TablesBase+cfg.TablesSize > memEnd {
		return fmt.Errorf("acpi: table region [0x%x-0x%x) outside memory image", cfg.TablesBase, cfg.TablesBase+cfg.TablesSize)
	}
	if cfg.TablesBase+cfg.TablesSize > 1<<32 {
		return fmt.Errorf("acpi: table region above 4 GiB cannot be referenced by the RSDT")
	}
	if cfg.RSDPBase < memBase || cfg.RSDPBase+rsdpSize > memEnd {
		return fmt.Errorf("acpi: RSDP at 0x%x outside memory image", cfg.RSDPBase)
	}

	w := newTableWriter(cfg.TablesBase, cfg.OEM)

	madt := w.Append(SignatureMADT, 1, tableID("ACPIPAPC"), madtBody(cfg))
	fadt := w.Append(SignatureFADT, 1, tableID("ACPIPFAC"), fadtBody())

	refs := []uint64{fadt, madt}
	if cfg.HPET != nil {
		refs = append(refs, w.Append(SignatureHPET, 1, tableID("ACPIPHPT"), hpetBody(cfg.HPET)))
	}
	for _, extra := range cfg.ExtraTables {
		refs = append(refs, w.Append(extra.Signature, extra.Revision, [8]byte{}, extra.Body))
	}

	var rsdtBody []byte
	for _, ref := range refs {
		rsdtBody = binary.LittleEndian.AppendUint32(rsdtBody, uint32(ref))
	}
	rsdt := w.Append(SignatureRSDT, 1, tableID("ACPIPRSD"), rsdtBody)

	tables := w.Bytes()
	if uint64(len(tables)) > cfg.TablesSize {
		return fmt.Errorf("acpi: tables need %d bytes, region holds %d", len(tables), cfg.TablesSize)
	}
	if _, err := mem.WriteAt(tables, int64(cfg.TablesBase)); err != nil {
		return fmt.Errorf("acpi: write tables: %w", err)
	}

	if _, err := mem.WriteAt(rootDescriptorBytes(uint32(rsdt), cfg.OEM), int64(cfg.RSDPBase)); err != nil {
		return fmt.Errorf("acpi: write RSDP: %w", err)
	}
	return nil
}

// madtEntries lists the interrupt controller structures Install emits, in
// table order. Raw extra entries are appended separately.
func madtEntries(cfg Config) []Entry {
	disabled := make(map[uint8]bool, len(cfg.DisabledCPUs))
	for _, id := range cfg.DisabledCPUs {
		disabled[id] = true
	}

	var entries []Entry
	for cpu := 0; cpu < cfg.NumCPUs; cpu++ {
		p := ProcessorLocalAPIC{ProcessorID: uint8(cpu), APICID: uint8(cpu)}
		if !disabled[p.ProcessorID] {
			p.Flags = lapicFlagEnabled
		}
		entries = append(entries, p)
	}

	entries = append(entries, IOAPIC{ID: cfg.IOAPIC.ID, Address: cfg.IOAPIC.Address, GSIBase: cfg.IOAPIC.GSIBase})

	for _, ovr := range cfg.ISAOverrides {
		entries = append(entries, InterruptSourceOverride{Bus: ovr.Bus, Source: ovr.IRQ, GSI: ovr.GSI, Flags: ovr.Flags})
	}
	return entries
}

func madtBody(cfg Config) []byte {
	var flags uint32
	if cfg.PCATCompat {
		flags |= madtFlagPCATCompat
	}

	b := binary.LittleEndian.AppendUint32(nil, cfg.LAPICBase)
	b = binary.LittleEndian.AppendUint32(b, flags)
	for _, e := range madtEntries(cfg) {
		b = appendEntry(b, e)
	}
	for _, raw := range cfg.ExtraMADTEntries {
		b = append(b, raw...)
	}
	return b
}

// fadtV1 is the ACPI 1.0 fixed ACPI description table body. Install emits it
// without a DSDT or any power management blocks.
type fadtV1 struct {
	FirmwareCtrl uint32
	DSDT         uint32
	IntModel     uint8
	_            uint8
	SCIInt       uint16
	SMICmd       uint32
	ACPIEnable   uint8
	ACPIDisable  uint8
	S4BIOSReq    uint8
	_            uint8

	// PM1a/b event, PM1a/b control, PM2 control, PM timer, GPE0, GPE1.
	Blocks [8]uint32

	PM1EvtLen  uint8
	PM1CntLen  uint8
	PM2CntLen  uint8
	PMTmrLen   uint8
	GPE0BlkLen uint8
	GPE1BlkLen uint8
	GPE1Base   uint8
	_          uint8

	PLvl2Lat    uint16
	PLvl3Lat    uint16
	FlushSize   uint16
	FlushStride uint16
	DutyOffset  uint8
	DutyWidth   uint8
	DayAlrm     uint8
	MonAlrm     uint8
	Century     uint8
	_           [3]uint8
	Flags       uint32
}

// hpetTable mirrors the HPET description table following the header.
type hpetTable struct {
	EventTimerBlockID uint32

	// Generic address structure of the timer block.
	SpaceID    uint8
	BitWidth   uint8
	BitOffset  uint8
	AccessSize uint8
	Address    uint64

	Number         uint8
	MinClockTick   uint16
	PageProtection uint8
}

func fadtBody() []byte {
	return encodeStruct(fadtV1{SCIInt: 9})
}

func hpetBody(cfg *HPETConfig) []byte {
	return encodeStruct(hpetTable{
		EventTimerBlockID: 0x8086a201,
		BitWidth:          64,
		Address:           cfg.Address,
		MinClockTick:      0x80,
	})
}

func encodeStruct(v any) []byte {
	var buf bytes.Buffer
	// Fixed-size structs only, which cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// rootDescriptorBytes builds a revision 0 RSDP pointing at rsdt.
func rootDescriptorBytes(rsdt uint32, oem OEMInfo) []byte {
	b := make([]byte, 0, rsdpSize)
	b = append(b, rsdpSignature[:]...)
	b = append(b, 0)
	b = append(b, oem.OEMID[:]...)
	b = append(b, 0)
	b = binary.LittleEndian.AppendUint32(b, rsdt)
	b[8] = checksum(b)
	return b
}
