//go:build !linux && !windows

package autostart

// otherManager reports that autostart is unavailable.
type otherManager struct{}

// New returns a Manager whose operations fail with ErrUnsupported.
func New() Manager {
	return otherManager{}
}

func (otherManager) ServiceName() string { return "zbxbridge" }
func (otherManager) IsInstalled() (bool, error) { return false, ErrUnsupported }
func (otherManager) Install(execPath, configPath string) error { return ErrUnsupported }
func (otherManager) Uninstall() error { return ErrUnsupported }
