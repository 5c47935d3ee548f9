package acpi

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/acpiprobe/internal/physmem"
)

// tableFlags are the page attributes of every firmware table mapping,
// including the RSDP scan pages.
const tableFlags = physmem.FlagWritable | physmem.FlagCacheDisable | physmem.FlagGlobal

// TableRef records one table reached through the RSDT.
type TableRef struct {
	Addr   uint64
	Header TableHeader

	// Valid is false when the checksum or the declared length was rejected.
	Valid bool
}

// Tables is the outcome of a single probe. Nothing in it is retained by this
// package after the call returns.
type Tables struct {
	Root RootDescriptor
	RSDT TableHeader

	Refs []TableRef

	// MADT is nil when the system has no valid MADT.
	MADT *MADT
}

// Lookup returns the first valid table with the given signature.
func (t *Tables) Lookup(sig Signature) (TableRef, bool) {
	for _, ref := range t.Refs {
		if ref.Valid && ref.Header.Signature == sig {
			return ref, true
		}
	}
	return TableRef{}, false
}

// Walker maps the RSDT and every table it points to, validates them and
// dispatches the ones with a decoder.
type Walker struct {
	mapper physmem.Mapper
	rep    Reporter
	log    *slog.Logger
}

func NewWalker(mapper physmem.Mapper, rep Reporter, log *slog.Logger) *Walker {
	if log == nil {
		log = slog.Default()
	}
	return &Walker{mapper: mapper, rep: rep, log: log}
}

// Walk parses the RSDT referenced by d. Bad sub-tables are reported and
// skipped; a bad RSDT or a mapping failure ends the walk with an error.
func (w *Walker) Walk(d RootDescriptor) (*Tables, error) {
	rsdtAddr := uint64(d.RSDTAddr)

	header, table, err := w.mapTable(rsdtAddr)
	if err != nil {
		w.rep.RootTableInvalid(rsdtAddr, err)
		return nil, fmt.Errorf("acpi: RSDT at 0x%x: %w", rsdtAddr, err)
	}
	if header.Signature != SignatureRSDT {
		w.log.Warn("root table has unexpected signature", "addr", fmt.Sprintf("0x%x", rsdtAddr), "signature", header.Signature)
	}

	entries, err := rsdtEntries(table, header.Length)
	if err != nil {
		w.rep.RootTableInvalid(rsdtAddr, err)
		return nil, err
	}

	tables := &Tables{Root: d, RSDT: header}
	for _, entry := range entries {
		addr := uint64(entry)

		header, table, err := w.mapTable(addr)
		switch {
		case errors.Is(err, ErrChecksum):
			w.rep.TableChecksumMismatch(addr, header)
			tables.Refs = append(tables.Refs, TableRef{Addr: addr, Header: header})
			continue
		case errors.Is(err, ErrBadTableLength):
			w.rep.TableLengthInvalid(addr, header)
			tables.Refs = append(tables.Refs, TableRef{Addr: addr, Header: header})
			continue
		case err != nil:
			return tables, fmt.Errorf("acpi: table at 0x%x: %w", addr, err)
		}

		tables.Refs = append(tables.Refs, TableRef{Addr: addr, Header: header, Valid: true})

		switch header.Signature {
		case SignatureMADT:
			madt, err := ParseMADT(table, w.rep)
			if err != nil {
				w.log.Warn("MADT parse aborted", "addr", fmt.Sprintf("0x%x", addr), "error", err)
			}
			if tables.MADT == nil && madt != nil {
				tables.MADT = madt
			}
		default:
			w.rep.TableUnsupported(addr, header)
		}
	}

	return tables, nil
}

// mapTable maps the table at addr, first just enough to read the header and
// then its full declared length, and verifies the checksum. The mapping is
// kept for the rest of boot and registered read/write. The header is returned
// along with ErrChecksum or ErrBadTableLength so the caller can report it.
func (w *Walker) mapTable(addr uint64) (TableHeader, []byte, error) {
	m, err := w.mapper.Map(addr, headerSize, tableFlags)
	if err != nil {
		return TableHeader{}, nil, err
	}

	raw, err := m.Slice(addr, headerSize)
	if err != nil {
		return TableHeader{}, nil, err
	}
	header, err := decodeHeader(raw)
	if err != nil {
		return TableHeader{}, nil, err
	}

	if header.Length < headerSize || header.Length > maxTableLength {
		return header, nil, fmt.Errorf("%w: %d", ErrBadTableLength, header.Length)
	}

	// Expand the mapping to cover the table contents.
	if !m.Contains(addr, uint64(header.Length)) {
		if err := w.mapper.Unmap(m); err != nil {
			w.log.Warn("failed to release table header mapping", "addr", fmt.Sprintf("0x%x", addr), "error", err)
		}
		if m, err = w.mapper.Map(addr, uint64(header.Length), tableFlags); err != nil {
			return header, nil, err
		}
	}

	if err := w.mapper.Register(m.Phys, m.End(), physmem.PermRead|physmem.PermWrite); err != nil {
		w.log.Warn("failed to register table region", "addr", fmt.Sprintf("0x%x", addr), "error", err)
	}

	table, err := m.Slice(addr, uint64(header.Length))
	if err != nil {
		return header, nil, err
	}

	if !validFn(table, header.Length) {
		return header, nil, ErrChecksum
	}

	return header, table, nil
}
