package device

import (
	"slices"
	"strings"
	"sync"

	"github.com/Alia5/VIIPMI/ipmi"
)

// Registration describes a device type.
type Registration interface {
	// CreateDevice returns a new device instance of this type. cfg carries the
	// scheduling model and collaborators for the interface.
	CreateDevice(o *CreateOptions, cfg ipmi.Config) (Device, error)
}

var (
	registry   = make(map[string]Registration)
	registryMu sync.RWMutex
)

// Register registers a device type for dynamic creation.
// This should be called from device package init() functions.
// The name is case-insensitive and will be lowercased.
func Register(name string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = reg
}

// GetRegistration retrieves a registered device type by name.
// Returns nil if not found.
func GetRegistration(name string) Registration {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[strings.ToLower(name)]
}

// ListDeviceTypes returns the sorted names of all registered device types.
func ListDeviceTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for name := range registry {
		types = append(types, name)
	}
	slices.Sort(types)
	return types
}
