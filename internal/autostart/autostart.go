// Package autostart installs the bridge as a system service so it starts
// with the station host.
package autostart

import "errors"

// ErrUnsupported is returned on platforms without a service manager
// integration.
var ErrUnsupported = errors.New("autostart is not supported on this platform")

// Manager provides platform-specific autostart installation.
type Manager interface {
	IsInstalled() (bool, error)
	Install(execPath, configPath string) error
	Uninstall() error
	ServiceName() string
}
