package acpi

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/tinyrange/acpiprobe/internal/physmem"
)

// Window is a physical range [Base, Limit) scanned for the RSDP.
type Window struct {
	Base  uint64 `yaml:"base"`
	Limit uint64 `yaml:"limit"`
}

func (w Window) String() string { return fmt.Sprintf("[0x%x-0x%x)", w.Base, w.Limit) }

var (
	// ExtendedWindow covers the extended BIOS data area below the video memory hole.
	ExtendedWindow = Window{Base: 0x80000, Limit: 0xa0000}

	// BIOSROMWindow is the BIOS read-only memory shadow below 1 MiB.
	BIOSROMWindow = Window{Base: 0xe0000, Limit: 0x100000}
)

const (
	// rsdpStride is the alignment of RSDP candidates.
	rsdpStride = 4

	// carrySize is how many trailing bytes of a page can start a candidate
	// that runs into the next page.
	carrySize = rsdpSize - rsdpStride
)

// Locator scans physical memory for the root system description pointer.
type Locator struct {
	mapper physmem.Mapper
	log    *slog.Logger
}

func NewLocator(mapper physmem.Mapper, log *slog.Logger) *Locator {
	if log == nil {
		log = slog.Default()
	}
	return &Locator{mapper: mapper, log: log}
}

// scanSlot holds the single transient page mapping used while scanning.
type scanSlot struct {
	mapper physmem.Mapper
	log    *slog.Logger
	cur    *physmem.Mapping
}

// move releases the current page before mapping page.
func (s *scanSlot) move(page uint64) ([]byte, error) {
	s.release()

	m, err := s.mapper.Map(page, physmem.PageSize, tableFlags)
	if err != nil {
		return nil, err
	}
	s.cur = m

	return m.Slice(page, physmem.PageSize)
}

func (s *scanSlot) release() {
	if s.cur == nil {
		return
	}
	if err := s.mapper.Unmap(s.cur); err != nil {
		s.log.Warn("failed to release RSDP scan page", "page", fmt.Sprintf("0x%x", s.cur.Phys), "error", err)
	}
	s.cur = nil
}

// Search scans w in 4-byte steps starting at the first page boundary inside
// it. Only one page is mapped at a time. A signature whose checksum does not
// add up is skipped. ErrRootNotFound is returned when the window is exhausted;
// a mapping failure aborts the search with that error.
func (l *Locator) Search(w Window) (RootDescriptor, error) {
	start := physmem.AlignUp(w.Base)
	if w.Limit < rsdpSize || start > w.Limit-rsdpSize {
		return RootDescriptor{}, ErrRootNotFound
	}
	last := w.Limit - rsdpSize

	slot := &scanSlot{mapper: l.mapper, log: l.log}
	defer slot.release()

	var (
		carry    [carrySize]byte
		carrying bool
	)

	for page := start; page < w.Limit; page += physmem.PageSize {
		data, err := slot.move(page)
		if err != nil {
			l.log.Warn("RSDP scan aborted", "window", w, "page", fmt.Sprintf("0x%x", page), "error", err)
			return RootDescriptor{}, fmt.Errorf("acpi: map scan page 0x%x: %w", page, err)
		}

		// Candidates left over from the previous page run into this one.
		if carrying {
			var joined [2 * carrySize]byte
			copy(joined[:carrySize], carry[:])
			copy(joined[carrySize:], data[:carrySize])

			for off := 0; off < carrySize; off += rsdpStride {
				addr := page - carrySize + uint64(off)
				if addr > last {
					break
				}
				if d, ok := l.check(joined[off:off+rsdpSize], addr); ok {
					return d, nil
				}
			}
			carrying = false
		}

		for off := uint64(0); off+rsdpSize <= physmem.PageSize; off += rsdpStride {
			addr := page + off
			if addr > last {
				return RootDescriptor{}, ErrRootNotFound
			}
			if d, ok := l.check(data[off:off+rsdpSize], addr); ok {
				return d, nil
			}
		}

		if page+physmem.PageSize <= last {
			copy(carry[:], data[physmem.PageSize-carrySize:])
			carrying = true
		}
	}

	return RootDescriptor{}, ErrRootNotFound
}

// check examines the candidate b found at addr and, when it is a valid RSDP,
// registers the pages it lives in.
func (l *Locator) check(b []byte, addr uint64) (RootDescriptor, bool) {
	if binary.LittleEndian.Uint32(b[0:4]) != rsdpSignatureLo || binary.LittleEndian.Uint32(b[4:8]) != rsdpSignatureHi {
		return RootDescriptor{}, false
	}

	l.log.Debug("RSDP signature found", "addr", fmt.Sprintf("0x%x", addr))
	if !validFn(b, rsdpSize) {
		l.log.Debug("RSDP checksum mismatch; continuing scan", "addr", fmt.Sprintf("0x%x", addr))
		return RootDescriptor{}, false
	}

	d, err := decodeRootDescriptor(b, addr)
	if err != nil {
		return RootDescriptor{}, false
	}

	start, end := physmem.PageRange(addr, rsdpSize)
	if err := l.mapper.Register(start, end, physmem.PermRead|physmem.PermWrite); err != nil {
		l.log.Warn("failed to register RSDP region", "start", fmt.Sprintf("0x%x", start), "error", err)
	}

	return d, true
}
