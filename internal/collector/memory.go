package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// MemoryCollector collects RAM usage.
type MemoryCollector struct{}

// NewMemoryCollector creates a new memory collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{}
}

// Name returns the collector identifier.
func (c *MemoryCollector) Name() string { return "memory" }

// Collect gathers used and total bytes and the used percentage.
func (c *MemoryCollector) Collect(ctx context.Context) ([]models.Field, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return []models.Field{
		{Name: "stationMemUsed", Value: v.Used},
		{Name: "stationMemTotal", Value: v.Total},
		{Name: "stationMemPercent", Value: v.UsedPercent},
	}, nil
}

// IsAvailable returns true; memory metrics are available on all platforms.
func (c *MemoryCollector) IsAvailable() bool { return true }
