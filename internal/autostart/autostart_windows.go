//go:build windows

package autostart

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/weewx-zbxsender/bridge/internal/service"
)

const stopTimeout = 30 * time.Second

// windowsManager registers the bridge with the service control manager.
type windowsManager struct{}

// New returns the Windows service Manager.
func New() Manager {
	return &windowsManager{}
}

func (w *windowsManager) ServiceName() string { return service.ServiceName }

// IsInstalled reports whether the service is registered.
func (w *windowsManager) IsInstalled() (bool, error) {
	m, err := mgr.Connect()
	if err != nil {
		return false, fmt.Errorf("connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(service.ServiceName)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return false, nil
		}
		return false, err
	}
	s.Close()
	return true, nil
}

// Install registers an automatic-start service running
// "<execPath> run --config <configPath>" and starts it.
func (w *windowsManager) Install(execPath, configPath string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service manager: %w", err)
	}
	defer m.Disconnect()

	if s, err := m.OpenService(service.ServiceName); err == nil {
		s.Close()
		return fmt.Errorf("service %s already exists", service.ServiceName)
	}

	s, err := m.CreateService(service.ServiceName, execPath, mgr.Config{
		DisplayName: "weewx Zabbix bridge",
		Description: "Forwards weewx observations to Zabbix",
		StartType:   mgr.StartAutomatic,
	}, "run", "--config", configPath)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	return nil
}

// Uninstall stops the service if it is running and removes it.
func (w *windowsManager) Uninstall() error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(service.ServiceName)
	if err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	defer s.Close()

	status, err := s.Control(svc.Stop)
	if err == nil {
		deadline := time.Now().Add(stopTimeout)
		for status.State != svc.Stopped && time.Now().Before(deadline) {
			time.Sleep(500 * time.Millisecond)
			if status, err = s.Query(); err != nil {
				break
			}
		}
	}

	if err := s.Delete(); err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	return nil
}
