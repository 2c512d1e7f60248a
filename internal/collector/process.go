package collector

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// ProcessCollector reports the process count and whether the weewx daemon
// is running.
type ProcessCollector struct {
	daemon string
}

// NewProcessCollector creates a process collector watching for a process
// whose name or command line contains daemon.
func NewProcessCollector(daemon string) *ProcessCollector {
	return &ProcessCollector{daemon: daemon}
}

// Name returns the collector identifier.
func (c *ProcessCollector) Name() string { return "processes" }

// Collect counts processes and looks for the daemon. Individual process
// errors are skipped; a process can exit while being inspected.
func (c *ProcessCollector) Collect(ctx context.Context) ([]models.Field, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	running := false
	for _, p := range procs {
		if running {
			break
		}
		name, _ := p.NameWithContext(ctx)
		if c.matches(name) {
			running = true
			continue
		}
		// weewxd usually runs as "python3 /usr/share/weewx/weewxd.py".
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil && c.matches(cmdline) {
			running = true
		}
	}

	return []models.Field{
		{Name: "stationProcesses", Value: len(procs)},
		{Name: "stationWeewxRunning", Value: running},
	}, nil
}

func (c *ProcessCollector) matches(s string) bool {
	return c.daemon != "" && strings.Contains(s, c.daemon)
}

// IsAvailable returns true; process listing is available on all platforms.
func (c *ProcessCollector) IsAvailable() bool { return true }
