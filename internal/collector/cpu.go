package collector

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// CPUCollector collects overall CPU usage.
type CPUCollector struct{}

// NewCPUCollector creates a new CPU collector.
func NewCPUCollector() *CPUCollector {
	return &CPUCollector{}
}

// Name returns the collector identifier.
func (c *CPUCollector) Name() string { return "cpu" }

// Collect measures overall CPU usage over one second.
func (c *CPUCollector) Collect(ctx context.Context) ([]models.Field, error) {
	overall, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return nil, err
	}
	if len(overall) == 0 {
		return nil, nil
	}
	return []models.Field{{Name: "stationCPU", Value: overall[0]}}, nil
}

// IsAvailable returns true; CPU metrics are available on all platforms.
func (c *CPUCollector) IsAvailable() bool { return true }
