package physmem

import (
	"errors"
	"fmt"
)

// PageSize is the granularity of every mapping handed out by a Mapper.
const PageSize uint64 = 0x1000

var (
	ErrOutOfRange = errors.New("physmem: physical range not backed by memory")
	ErrNotMapped  = errors.New("physmem: mapping is not live")
)

// Flags select the page attributes requested for an identity mapping.
type Flags uint32

const (
	FlagWritable Flags = 1 << iota
	FlagCacheDisable
	FlagGlobal
)

func (f Flags) String() string {
	s := ""
	for _, b := range []struct {
		flag Flags
		name string
	}{
		{FlagWritable, "rw"},
		{FlagCacheDisable, "pcd"},
		{FlagGlobal, "global"},
	} {
		if f&b.flag == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += b.name
	}
	if s == "" {
		return "ro"
	}
	return s
}

// Perm is the access permission recorded for a registered address-space region.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
)

func (p Perm) String() string {
	r, w := "-", "-"
	if p&PermRead != 0 {
		r = "r"
	}
	if p&PermWrite != 0 {
		w = "w"
	}
	return r + w
}

// Mapper establishes and tears down identity mappings of physical memory and
// records permanent address-space regions.
type Mapper interface {
	// Map identity-maps the pages covering [phys, phys+size). The returned
	// mapping starts at the page containing phys.
	Map(phys, size uint64, flags Flags) (*Mapping, error)

	// Unmap releases a mapping returned by Map.
	Unmap(m *Mapping) error

	// Register marks [start, end) as a permanent region of the address space.
	Register(start, end uint64, perm Perm) error
}

// Mapping is a live view of a page-aligned physical range.
type Mapping struct {
	Phys  uint64
	Flags Flags

	data []byte
}

// Bytes returns the whole mapped range.
func (m *Mapping) Bytes() []byte { return m.data }

// Size returns the number of mapped bytes.
func (m *Mapping) Size() uint64 { return uint64(len(m.data)) }

// End returns the first physical address after the mapping.
func (m *Mapping) End() uint64 { return m.Phys + m.Size() }

// Contains reports whether [phys, phys+n) lies inside the mapping.
func (m *Mapping) Contains(phys, n uint64) bool {
	return phys >= m.Phys && n <= m.Size() && phys-m.Phys <= m.Size()-n
}

// Slice returns the view of [phys, phys+n) or an error when the range is not
// fully covered by the mapping.
func (m *Mapping) Slice(phys, n uint64) ([]byte, error) {
	if !m.Contains(phys, n) {
		return nil, fmt.Errorf("physmem: range [0x%x-0x%x) outside mapping [0x%x-0x%x)",
			phys, phys+n, m.Phys, m.End())
	}
	off := phys - m.Phys
	return m.data[off : off+n], nil
}

// PageRange returns the page-aligned range covering [phys, phys+size).
func PageRange(phys, size uint64) (start, end uint64) {
	start = alignDown(phys, PageSize)
	end = alignUp(phys+size, PageSize)
	if end == start {
		end = start + PageSize
	}
	return start, end
}

// alignUp aligns value up to the specified alignment.
func alignUp(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	mask := align - 1
	return (value + mask) &^ mask
}

func alignDown(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	return value &^ (align - 1)
}

// AlignUp rounds value up to a multiple of PageSize.
func AlignUp(value uint64) uint64 { return alignUp(value, PageSize) }

// AlignDown rounds value down to a multiple of PageSize.
func AlignDown(value uint64) uint64 { return alignDown(value, PageSize) }
