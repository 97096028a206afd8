// Package nvdimm is the generic storage-region subsystem the pmem driver
// registers with. It owns bus registration, pmem region creation and the
// dispatch of durability barriers to the provider's flush callback.
//
// Only the surface a provider driver touches is implemented here; namespace
// and label management are out of scope.
package nvdimm

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrBusRegister is returned when a bus cannot be registered.
	ErrBusRegister = errors.New("nvdimm: bus registration failed")

	// ErrRegionCreate is returned when a region cannot be created.
	ErrRegionCreate = errors.New("nvdimm: region creation failed")

	// ErrBusGone is returned for operations on an unregistered bus.
	ErrBusGone = errors.New("nvdimm: bus unregistered")
)

// BusDesc describes a provider bus to register.
type BusDesc struct {
	// Provider is the diagnostic provider name, e.g. "virtio-pmem".
	Provider string
}

// Bus is one registered provider bus. Regions are created on a bus and are
// torn down with it when the bus is unregistered.
type Bus struct {
	mu       sync.Mutex
	desc     BusDesc
	logger   *slog.Logger
	regions  []*Region
	inactive bool
}

// RegisterBus registers a provider bus. logger may be nil.
func RegisterBus(desc *BusDesc, logger *slog.Logger) (*Bus, error) {
	if desc == nil || desc.Provider == "" {
		return nil, fmt.Errorf("%w: missing provider name", ErrBusRegister)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{desc: *desc, logger: logger}, nil
}

// Unregister tears the bus down. Every region created on it becomes inert:
// further Flush calls on those regions fail with ErrBusGone. Providers must
// unregister the bus before destroying the resources the flush callback uses.
func (b *Bus) Unregister() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inactive {
		return
	}
	b.inactive = true
	for _, r := range b.regions {
		r.detach()
	}
	b.regions = nil
}

// Active reports whether the bus is still registered.
func (b *Bus) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.inactive
}

// Provider returns the diagnostic provider name.
func (b *Bus) Provider() string {
	return b.desc.Provider
}

func (b *Bus) addRegion(r *Region) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inactive {
		return ErrBusGone
	}
	b.regions = append(b.regions, r)
	return nil
}
