package physmem

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Image is a Mapper over a snapshot of physical memory held in a byte slice.
// Mappings are views into the slice, so no data is copied.
type Image struct {
	mu sync.Mutex

	base uint64
	mem  []byte

	space *AddressSpace
	log   *slog.Logger

	live   map[*Mapping]struct{}
	mapped int
}

// NewImage wraps mem as the physical memory starting at base.
func NewImage(base uint64, mem []byte) *Image {
	return &Image{
		base:  base,
		mem:   mem,
		space: NewAddressSpace(),
		log:   slog.Default(),
		live:  make(map[*Mapping]struct{}),
	}
}

// LoadImage reads a raw physical memory dump from path.
func LoadImage(path string, base uint64) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("physmem: read image: %w", err)
	}
	return NewImage(base, data), nil
}

// SetLogger replaces the logger used for mapping events.
func (i *Image) SetLogger(log *slog.Logger) {
	if log != nil {
		i.log = log
	}
}

func (i *Image) Map(phys, size uint64, flags Flags) (*Mapping, error) {
	start, end := PageRange(phys, size)
	idx, err := i.translate(start, end-start)
	if err != nil {
		return nil, err
	}

	m := &Mapping{Phys: start, Flags: flags, data: i.mem[idx : idx+int(end-start)]}

	i.mu.Lock()
	i.live[m] = struct{}{}
	i.mapped++
	i.mu.Unlock()

	i.log.Debug("map physical range", "start", fmt.Sprintf("0x%x", start), "end", fmt.Sprintf("0x%x", end), "flags", flags)
	return m, nil
}

func (i *Image) Unmap(m *Mapping) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.live[m]; !ok {
		return ErrNotMapped
	}
	delete(i.live, m)

	i.log.Debug("unmap physical range", "start", fmt.Sprintf("0x%x", m.Phys), "end", fmt.Sprintf("0x%x", m.End()))
	return nil
}

func (i *Image) Register(start, end uint64, perm Perm) error {
	return i.space.Register(start, end, perm)
}

// Live returns the number of mappings that have not been released.
func (i *Image) Live() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.live)
}

// Mapped returns how many mappings were handed out in total.
func (i *Image) Mapped() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mapped
}

// AddressSpace returns the regions registered through this mapper.
func (i *Image) AddressSpace() *AddressSpace { return i.space }

func (i *Image) MemoryBase() uint64 { return i.base }
func (i *Image) MemorySize() uint64 { return uint64(len(i.mem)) }

func (i *Image) ReadAt(p []byte, off int64) (int, error) {
	idx, err := i.translate(uint64(off), uint64(len(p)))
	if err != nil {
		return 0, err
	}
	return copy(p, i.mem[idx:]), nil
}

func (i *Image) WriteAt(p []byte, off int64) (int, error) {
	idx, err := i.translate(uint64(off), uint64(len(p)))
	if err != nil {
		return 0, err
	}
	return copy(i.mem[idx:], p), nil
}

func (i *Image) translate(phys, n uint64) (int, error) {
	if phys < i.base || n > uint64(len(i.mem)) || phys-i.base > uint64(len(i.mem))-n {
		return 0, fmt.Errorf("%w: [0x%x-0x%x)", ErrOutOfRange, phys, phys+n)
	}
	return int(phys - i.base), nil
}

var _ Mapper = (*Image)(nil)
