// Package service installs and controls the driver and the
// mount service through the service control manager of the
// platform.
//
// The network provider is not a service of its own, but it
// is registered under the services of the system, so the
// manager takes care of it as well.
package service

import (
	"strings"

	"github.com/pkg/errors"
)

// Names under which the components are registered.
const (
	DriverName          = "Dokan"
	MounterName         = "DokanMounter"
	NetworkProviderName = "DokanNP"
)

// Kind tells what is being installed.
type Kind int

const (
	// KindDriver is a file system driver.
	KindDriver Kind = iota

	// KindService is a service running in its own process.
	KindService
)

func (k Kind) String() string {
	switch k {
	case KindDriver:
		return "driver"
	case KindService:
		return "service"
	}
	return "unknown"
}

// ErrUnsupported is returned where there is no service
// control manager.
var ErrUnsupported = errors.New("service control unsupported on this platform")

// ErrExists is returned when installing over a registered
// component.
var ErrExists = errors.New("service already installed")

// Manager controls registered services by name.
type Manager interface {
	// Install registers and starts the service.
	Install(name string, kind Kind, binaryPath string) error

	// Remove stops and unregisters the service.
	Remove(name string) error

	Start(name string) error
	Stop(name string) error

	// InstallNetworkProvider registers the network provider
	// and puts it at the end of the provider order.
	InstallNetworkProvider(providerPath string) error

	// RemoveNetworkProvider reverses InstallNetworkProvider.
	RemoveNetworkProvider() error
}

const providerSeparator = ","

// addProvider appends the provider to the provider order
// unless it is there already.
func addProvider(order, name string) (string, bool) {
	var providers []string
	for _, provider := range strings.Split(order, providerSeparator) {
		provider = strings.TrimSpace(provider)
		if provider == "" {
			continue
		}
		if strings.EqualFold(provider, name) {
			return order, false
		}
		providers = append(providers, provider)
	}
	providers = append(providers, name)
	return strings.Join(providers, providerSeparator), true
}

// removeProvider takes the provider out of the order.
func removeProvider(order, name string) (string, bool) {
	var providers []string
	removed := false
	for _, provider := range strings.Split(order, providerSeparator) {
		provider = strings.TrimSpace(provider)
		if provider == "" {
			continue
		}
		if strings.EqualFold(provider, name) {
			removed = true
			continue
		}
		providers = append(providers, provider)
	}
	return strings.Join(providers, providerSeparator), removed
}
