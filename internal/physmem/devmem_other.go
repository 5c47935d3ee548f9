//go:build !linux

package physmem

import (
	"errors"
	"log/slog"
)

const DefaultDevMemPath = "/dev/mem"

var errDevMemUnsupported = errors.New("physmem: /dev/mem is only supported on linux")

// DevMem is unavailable on this platform.
type DevMem struct{}

func OpenDevMem(path string) (*DevMem, error) {
	return nil, errDevMemUnsupported
}

func (d *DevMem) SetLogger(*slog.Logger) {}

func (d *DevMem) Map(phys, size uint64, flags Flags) (*Mapping, error) {
	return nil, errDevMemUnsupported
}

func (d *DevMem) Unmap(m *Mapping) error { return errDevMemUnsupported }

func (d *DevMem) Register(start, end uint64, perm Perm) error { return errDevMemUnsupported }

func (d *DevMem) AddressSpace() *AddressSpace { return nil }

func (d *DevMem) Close() error { return nil }

func (d *DevMem) Live() int { return 0 }

var _ Mapper = (*DevMem)(nil)
