package collector

import (
	"context"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// OSInfoCollector reports the operating system as a text field.
// Results are cached after the first successful collection.
type OSInfoCollector struct {
	mu    sync.Mutex
	cache string
}

// NewOSInfoCollector creates a new OS info collector.
func NewOSInfoCollector() *OSInfoCollector {
	return &OSInfoCollector{}
}

// Name returns the collector identifier.
func (c *OSInfoCollector) Name() string { return "osinfo" }

// Collect returns e.g. "debian 12.5 (linux 6.1.0-18-arm64)".
func (c *OSInfoCollector) Collect(ctx context.Context) ([]models.Field, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache == "" {
		info, err := host.InfoWithContext(ctx)
		if err != nil {
			return nil, err
		}
		c.cache = describeOS(info)
	}
	return []models.Field{{Name: "stationOS", Value: c.cache}}, nil
}

// IsAvailable returns true; OS info is available on all platforms.
func (c *OSInfoCollector) IsAvailable() bool { return true }

func describeOS(info *host.InfoStat) string {
	name := strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	if name == "" {
		name = info.OS
	}
	if info.KernelVersion != "" {
		name += " (" + info.OS + " " + info.KernelVersion + ")"
	}
	return name
}
