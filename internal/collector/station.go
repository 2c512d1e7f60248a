package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/clock"
	"github.com/weewx-zbxsender/bridge/internal/models"
)

// collectTimeout bounds one pass over all collectors.
const collectTimeout = 10 * time.Second

// Station turns one registry pass into an observation.
type Station struct {
	registry *Registry
	source   string
	clock    clock.Clock
	logger   *zap.Logger
}

// NewStation creates a Station labelling its observations with source.
func NewStation(registry *Registry, source string, clk clock.Clock, logger *zap.Logger) *Station {
	if clk == nil {
		clk = clock.Real()
	}
	return &Station{registry: registry, source: source, clock: clk, logger: logger}
}

// DefaultRegistry registers every station collector.
func DefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewCPUCollector())
	r.Register(NewMemoryCollector())
	r.Register(NewDiskCollector(logger))
	r.Register(NewNetworkCollector())
	r.Register(NewUptimeCollector())
	r.Register(NewTemperatureCollector(logger))
	r.Register(NewProcessCollector("weewxd"))
	r.Register(NewOSInfoCollector())
	return r
}

// Observe collects one observation. The timestamp is taken when collection
// starts.
func (s *Station) Observe(ctx context.Context) models.Observation {
	collectCtx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	obs := models.Observation{Source: s.source, Time: s.clock.Now()}
	obs.Fields = s.registry.CollectAll(collectCtx)

	s.logger.Debug("Collected station health",
		zap.Int("fields", len(obs.Fields)),
		zap.Time("timestamp", obs.Time))
	return obs
}
