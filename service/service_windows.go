package service

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

const (
	providerOrderKey = `SYSTEM\CurrentControlSet\Control\NetworkProvider\Order`
	providerOrder    = "ProviderOrder"
	providerKey      = `SYSTEM\CurrentControlSet\Services\` +
		NetworkProviderName + `\NetworkProvider`
	providerDevice = `\Device\DokanRedirector`

	stopTimeout = 10 * time.Second
)

type manager struct{}

// Connect reaches the service control manager.
func Connect() (Manager, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, errors.Wrap(err, "connect service manager")
	}
	_ = m.Disconnect()
	return manager{}, nil
}

func withService(name string, f func(*mgr.Service) error) error {
	m, err := mgr.Connect()
	if err != nil {
		return errors.Wrap(err, "connect service manager")
	}
	defer func() { _ = m.Disconnect() }()
	s, err := m.OpenService(name)
	if err != nil {
		return errors.Wrapf(err, "open service %s", name)
	}
	defer func() { _ = s.Close() }()
	return f(s)
}

func (manager) Install(name string, kind Kind, binaryPath string) error {
	m, err := mgr.Connect()
	if err != nil {
		return errors.Wrap(err, "connect service manager")
	}
	defer func() { _ = m.Disconnect() }()
	if s, err := m.OpenService(name); err == nil {
		_ = s.Close()
		return errors.Wrapf(ErrExists, "install %s", name)
	}
	config := mgr.Config{
		ServiceType:  windows.SERVICE_WIN32_OWN_PROCESS,
		StartType:    mgr.StartAutomatic,
		ErrorControl: mgr.ErrorIgnore,
		DisplayName:  name,
	}
	if kind == KindDriver {
		config.ServiceType = windows.SERVICE_FILE_SYSTEM_DRIVER
		config.StartType = mgr.StartManual
	}
	s, err := m.CreateService(name, binaryPath, config)
	if err != nil {
		return errors.Wrapf(err, "create %s %s", kind, name)
	}
	defer func() { _ = s.Close() }()
	if err := s.Start(); err != nil {
		return errors.Wrapf(err, "start %s %s", kind, name)
	}
	return nil
}

func stop(s *mgr.Service) error {
	status, err := s.Control(svc.Stop)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_NOT_ACTIVE) {
			return nil
		}
		return err
	}
	deadline := time.Now().Add(stopTimeout)
	for status.State != svc.Stopped {
		if time.Now().After(deadline) {
			return errors.New("timeout waiting for service to stop")
		}
		time.Sleep(100 * time.Millisecond)
		if status, err = s.Query(); err != nil {
			return err
		}
	}
	return nil
}

func (manager) Remove(name string) error {
	return withService(name, func(s *mgr.Service) error {
		if err := stop(s); err != nil {
			return errors.Wrapf(err, "stop %s", name)
		}
		return errors.Wrapf(s.Delete(), "delete %s", name)
	})
}

func (manager) Start(name string) error {
	return withService(name, func(s *mgr.Service) error {
		return errors.Wrapf(s.Start(), "start %s", name)
	})
}

func (manager) Stop(name string) error {
	return withService(name, func(s *mgr.Service) error {
		return errors.Wrapf(stop(s), "stop %s", name)
	})
}

func updateOrder(f func(string) (string, bool)) error {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, providerOrderKey,
		registry.QUERY_VALUE|registry.SET_VALUE)
	if err != nil {
		return errors.Wrap(err, "open provider order")
	}
	defer func() { _ = k.Close() }()
	order, _, err := k.GetStringValue(providerOrder)
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return errors.Wrap(err, "read provider order")
	}
	if order, changed := f(order); changed {
		return errors.Wrap(k.SetStringValue(providerOrder, order),
			"write provider order")
	}
	return nil
}

func (manager) InstallNetworkProvider(providerPath string) error {
	k, _, err := registry.CreateKey(registry.LOCAL_MACHINE, providerKey,
		registry.SET_VALUE)
	if err != nil {
		return errors.Wrap(err, "create network provider")
	}
	defer func() { _ = k.Close() }()
	if err := k.SetStringValue("DeviceName", providerDevice); err != nil {
		return errors.Wrap(err, "write network provider")
	}
	if err := k.SetStringValue("Name", NetworkProviderName); err != nil {
		return errors.Wrap(err, "write network provider")
	}
	if err := k.SetExpandStringValue("ProviderPath", providerPath); err != nil {
		return errors.Wrap(err, "write network provider")
	}
	return updateOrder(func(order string) (string, bool) {
		return addProvider(order, NetworkProviderName)
	})
}

func (manager) RemoveNetworkProvider() error {
	if err := updateOrder(func(order string) (string, bool) {
		return removeProvider(order, NetworkProviderName)
	}); err != nil {
		return err
	}
	err := registry.DeleteKey(registry.LOCAL_MACHINE, providerKey)
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return errors.Wrap(err, "delete network provider")
	}
	return nil
}
