//go:build linux

package physmem

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultDevMemPath is the character device exposing physical memory.
const DefaultDevMemPath = "/dev/mem"

// DevMem maps physical pages of the running machine through /dev/mem.
//
// The device is opened read-only with O_SYNC, which the kernel turns into
// uncached mappings on x86. FlagWritable is not honoured: the tables are only
// ever read.
type DevMem struct {
	mu sync.Mutex

	f     *os.File
	space *AddressSpace
	log   *slog.Logger

	live map[*Mapping]struct{}
}

// OpenDevMem opens the physical memory device at path.
func OpenDevMem(path string) (*DevMem, error) {
	if path == "" {
		path = DefaultDevMemPath
	}
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("physmem: open %s: %w", path, err)
	}
	return &DevMem{
		f:     f,
		space: NewAddressSpace(),
		log:   slog.Default(),
		live:  make(map[*Mapping]struct{}),
	}, nil
}

// SetLogger replaces the logger used for mapping events.
func (d *DevMem) SetLogger(log *slog.Logger) {
	if log != nil {
		d.log = log
	}
}

func (d *DevMem) Map(phys, size uint64, flags Flags) (*Mapping, error) {
	start, end := PageRange(phys, size)

	data, err := unix.Mmap(int(d.f.Fd()), int64(start), int(end-start), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("physmem: mmap [0x%x-0x%x): %w", start, end, err)
	}

	m := &Mapping{Phys: start, Flags: flags &^ FlagWritable, data: data}

	d.mu.Lock()
	d.live[m] = struct{}{}
	d.mu.Unlock()

	d.log.Debug("map physical range", "start", fmt.Sprintf("0x%x", start), "end", fmt.Sprintf("0x%x", end), "flags", m.Flags)
	return m, nil
}

func (d *DevMem) Unmap(m *Mapping) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.live[m]; !ok {
		return ErrNotMapped
	}
	delete(d.live, m)

	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("physmem: munmap [0x%x-0x%x): %w", m.Phys, m.End(), err)
	}
	m.data = nil
	return nil
}

func (d *DevMem) Register(start, end uint64, perm Perm) error {
	return d.space.Register(start, end, perm)
}

// AddressSpace returns the regions registered through this mapper.
func (d *DevMem) AddressSpace() *AddressSpace { return d.space }

// Close releases every live mapping and closes the device.
func (d *DevMem) Close() error {
	d.mu.Lock()
	var errs []error
	for m := range d.live {
		if err := unix.Munmap(m.data); err != nil {
			errs = append(errs, fmt.Errorf("physmem: munmap [0x%x-0x%x): %w", m.Phys, m.End(), err))
		}
		m.data = nil
		delete(d.live, m)
	}
	d.mu.Unlock()

	if err := d.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("physmem: close device: %w", err))
	}
	return errors.Join(errs...)
}

// Live returns the number of mappings that have not been released.
func (d *DevMem) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

var _ Mapper = (*DevMem)(nil)
