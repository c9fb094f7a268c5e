package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// DeviceAliases persists a name -> last-known host device index mapping
// so a device that enumerates at a different index across restarts (USB
// re-plugged, driver reordering) can still be found by name. Grounded on
// the original implementation's external device mapper, which kept the
// same kind of name/index table to survive device re-enumeration.
type DeviceAliases struct {
	mu      sync.Mutex
	path    string
	aliases map[string]int
}

// NewDeviceAliases builds an empty alias table bound to path for
// subsequent Save calls.
func NewDeviceAliases(path string) *DeviceAliases {
	return &DeviceAliases{path: path, aliases: make(map[string]int)}
}

// LoadDeviceAliases reads path; a missing file yields an empty table,
// not an error.
func LoadDeviceAliases(path string) (*DeviceAliases, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewDeviceAliases(path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading device aliases %s: %w", path, err)
	}
	aliases := make(map[string]int)
	if err := json.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("config: parsing device aliases %s: %w", path, err)
	}
	return &DeviceAliases{path: path, aliases: aliases}, nil
}

// Remember records that name was last seen at hostIndex.
func (a *DeviceAliases) Remember(name string, hostIndex int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aliases[name] = hostIndex
}

// Lookup returns the last-known host index for name.
func (a *DeviceAliases) Lookup(name string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.aliases[name]
	return idx, ok
}

// Forget removes name from the table.
func (a *DeviceAliases) Forget(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.aliases, name)
}

// Save persists the current alias table to its bound path.
func (a *DeviceAliases) Save() error {
	a.mu.Lock()
	data, err := json.MarshalIndent(a.aliases, "", "  ")
	path := a.path
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("config: marshalling device aliases: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing device aliases %s: %w", path, err)
	}
	return nil
}
