package collector

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/net"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// NetworkCollector collects bytes received and transmitted since the
// previous collection.
type NetworkCollector struct {
	mu          sync.Mutex
	lastRx      uint64
	lastTx      uint64
	initialized bool
}

// NewNetworkCollector creates a new network collector.
func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{}
}

// Name returns the collector identifier.
func (c *NetworkCollector) Name() string { return "network" }

// Collect gathers RX/TX byte deltas. The first collection only establishes
// a baseline and emits no fields.
func (c *NetworkCollector) Collect(ctx context.Context) ([]models.Field, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(counters) == 0 {
		return nil, nil
	}
	return c.delta(counters[0].BytesRecv, counters[0].BytesSent), nil
}

func (c *NetworkCollector) delta(totalRx, totalTx uint64) []models.Field {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fields []models.Field
	// Counters reset on interface restart; skip that interval.
	if c.initialized && totalRx >= c.lastRx && totalTx >= c.lastTx {
		fields = []models.Field{
			{Name: "stationNetRx", Value: totalRx - c.lastRx},
			{Name: "stationNetTx", Value: totalTx - c.lastTx},
		}
	}
	c.lastRx = totalRx
	c.lastTx = totalTx
	c.initialized = true
	return fields
}

// IsAvailable returns true; network metrics are available on all platforms.
func (c *NetworkCollector) IsAvailable() bool { return true }
