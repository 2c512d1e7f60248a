package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// UptimeCollector collects uptime and boot time.
type UptimeCollector struct{}

// NewUptimeCollector creates a new uptime collector.
func NewUptimeCollector() *UptimeCollector {
	return &UptimeCollector{}
}

// Name returns the collector identifier.
func (c *UptimeCollector) Name() string { return "uptime" }

// Collect gathers seconds since boot and the boot time as a Unix timestamp.
func (c *UptimeCollector) Collect(ctx context.Context) ([]models.Field, error) {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, err
	}
	fields := []models.Field{{Name: "stationUptime", Value: uptime}}

	if boot, err := host.BootTimeWithContext(ctx); err == nil {
		fields = append(fields, models.Field{Name: "stationBootTime", Value: boot})
	}
	return fields, nil
}

// IsAvailable returns true; uptime is available on all platforms.
func (c *UptimeCollector) IsAvailable() bool { return true }
