package acpi

// Config controls how Install lays out a legacy ACPI table chain inside a
// physical memory image. All addresses are physical; zero fields take the
// defaults filled in by normalize.
type Config struct {
	// TablesBase and TablesSize bound the region the RSDT and the tables it
	// references are written to.
	TablesBase uint64
	TablesSize uint64

	// RSDPBase is where the root pointer goes. It should fall inside one of
	// the search windows.
	RSDPBase uint64

	NumCPUs int

	// DisabledCPUs lists processor IDs emitted with the enabled bit clear.
	DisabledCPUs []uint8

	LAPICBase uint32

	// PCATCompat sets the MADT flag announcing dual 8259 PICs.
	PCATCompat bool

	IOAPIC IOAPICConfig

	// HPET adds an HPET table when set.
	HPET *HPETConfig

	ISAOverrides []InterruptOverride

	// ExtraMADTEntries are appended verbatim after the generated MADT entries.
	ExtraMADTEntries [][]byte

	// ExtraTables are appended to the RSDT after the generated tables.
	ExtraTables []RawTable

	OEM OEMInfo
}

type IOAPICConfig struct {
	ID      uint8
	Address uint32
	GSIBase uint32
}

type HPETConfig struct {
	// Address of the event timer block.
	Address uint64
}

// InterruptOverride remaps a legacy ISA IRQ to a global system interrupt.
type InterruptOverride struct {
	Bus uint8
	IRQ uint8
	GSI uint32

	// Flags carry the polarity in bits 0-1 and the trigger mode in bits 2-3.
	Flags uint16
}

// RawTable is an arbitrary table body written behind a standard header.
type RawTable struct {
	Signature Signature
	Revision  uint8
	Body      []byte
}

// OEMInfo fills the identification fields of every generated header.
type OEMInfo struct {
	OEMID           [6]byte
	OEMTableID      [8]byte
	OEMRevision     uint32
	CreatorID       [4]byte
	CreatorRevision uint32
}

// DefaultOEMInfo returns the table header metadata used for synthesized images.
func DefaultOEMInfo() OEMInfo {
	oem := OEMInfo{OEMRevision: 1, CreatorRevision: 1}
	copy(oem.OEMID[:], "ACPIPR")
	copy(oem.OEMTableID[:], "ACPIPDEF")
	copy(oem.CreatorID[:], "APRB")
	return oem
}

// MaxCPUs is the number of processors a MADT built by Install can describe,
// one per 8-bit processor ID.
const MaxCPUs = 256

const (
	defaultTablesSize = 0x10000
	defaultLAPICBase  = 0xfee00000
	defaultIOAPICBase = 0xfec00000
)

func (c *Config) normalize(mem Memory) {
	if c.TablesSize == 0 {
		c.TablesSize = defaultTablesSize
	}
	if c.TablesBase == 0 {
		// Legacy firmware keeps its tables at the top of the memory it owns.
		c.TablesBase = mem.MemoryBase() + mem.MemorySize() - c.TablesSize
	}
	if c.RSDPBase == 0 {
		c.RSDPBase = BIOSROMWindow.Base
	}
	if c.NumCPUs <= 0 {
		c.NumCPUs = 1
	}
	if c.LAPICBase == 0 {
		c.LAPICBase = defaultLAPICBase
	}
	if c.IOAPIC.Address == 0 {
		c.IOAPIC.Address = defaultIOAPICBase
	}
	if c.OEM == (OEMInfo{}) {
		c.OEM = DefaultOEMInfo()
	}
}
