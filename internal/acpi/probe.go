package acpi

import (
	"errors"
	"log/slog"

	"github.com/tinyrange/acpiprobe/internal/physmem"
)

// Options controls where Probe looks for the RSDP.
type Options struct {
	// Windows are searched in order; the first valid RSDP wins.
	Windows []Window

	Logger *slog.Logger
}

// DefaultWindows returns the firmware locations searched when none are configured.
func DefaultWindows() []Window {
	return []Window{ExtendedWindow, BIOSROMWindow}
}

func (o *Options) normalize() {
	if len(o.Windows) == 0 {
		o.Windows = DefaultWindows()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Probe locates the RSDP, walks the RSDT and decodes the MADT, reporting
// everything it finds to rep. A machine without ACPI yields ErrRootNotFound,
// which callers should treat as a normal outcome.
func Probe(mapper physmem.Mapper, rep Reporter, opts Options) (*Tables, error) {
	opts.normalize()
	log := opts.Logger.With("module", "acpi")

	locator := NewLocator(mapper, log)

	var (
		rsdp  RootDescriptor
		found bool
	)
	for _, w := range opts.Windows {
		rep.SearchWindow(w)

		d, err := locator.Search(w)
		if err == nil {
			rsdp, found = d, true
			break
		}
		// A failed mapping only rules out this window.
		if !errors.Is(err, ErrRootNotFound) {
			log.Warn("RSDP search failed", "window", w, "error", err)
		}
	}

	if !found {
		rep.RootMissing()
		return nil, ErrRootNotFound
	}

	rep.RootFound(rsdp)
	log.Info("found RSDP", "addr", rsdp.Phys, "revision", rsdp.Revision, "rsdt", rsdp.RSDTAddr)

	return NewWalker(mapper, rep, log).Walk(rsdp)
}
