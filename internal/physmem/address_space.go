package physmem

import (
	"fmt"
	"sort"
	"sync"
)

// Region is a permanently registered physical range.
type Region struct {
	Start uint64
	End   uint64
	Perm  Perm
}

func (r Region) String() string {
	return fmt.Sprintf("[0x%x-0x%x) %s", r.Start, r.End, r.Perm)
}

// AddressSpace tracks the regions firmware tables were found in so they stay
// reachable after probing. Overlapping or adjacent registrations with the
// same permission are merged into a single region.
type AddressSpace struct {
	mu sync.Mutex

	regions []Region
}

// NewAddressSpace creates an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{}
}

// Register records [start, end) with the given permission.
func (a *AddressSpace) Register(start, end uint64, perm Perm) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if end <= start {
		return fmt.Errorf("address_space: empty region [0x%x-0x%x)", start, end)
	}
	if perm == 0 {
		return fmt.Errorf("address_space: region [0x%x-0x%x) registered without permissions", start, end)
	}

	merged := Region{Start: start, End: end, Perm: perm}
	kept := make([]Region, 0, len(a.regions)+1)
	for _, r := range a.regions {
		// Regions with different permissions must not overlap; touching is fine.
		if r.Perm != perm {
			if r.Start < merged.End && merged.Start < r.End {
				return fmt.Errorf("address_space: region [0x%x-0x%x) %s overlaps %s",
					start, end, perm, r)
			}
			kept = append(kept, r)
			continue
		}
		if r.Start <= merged.End && merged.Start <= r.End {
			merged.Start = min(merged.Start, r.Start)
			merged.End = max(merged.End, r.End)
			continue
		}
		kept = append(kept, r)
	}
	a.regions = append(kept, merged)
	sort.Slice(a.regions, func(i, j int) bool { return a.regions[i].Start < a.regions[j].Start })

	return nil
}

// Regions returns a copy of all registered regions ordered by start address.
func (a *AddressSpace) Regions() []Region {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]Region, len(a.regions))
	copy(result, a.regions)
	return result
}

// Lookup returns the region containing addr.
func (a *AddressSpace) Lookup(addr uint64) (Region, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range a.regions {
		if addr >= r.Start && addr < r.End {
			return r, true
		}
	}
	return Region{}, false
}
