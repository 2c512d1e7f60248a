// Package collector gathers self-health readings from the host the weather
// station runs on. Each collector contributes named fields which the
// Station assembles into one observation, so host health travels to Zabbix
// through the same encoder and batch path as the weather data.
package collector

import (
	"context"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// Collector is the interface that all station collectors must implement.
type Collector interface {
	// Name returns the unique identifier for this collector.
	Name() string

	// Collect gathers readings and returns them as observation fields.
	// The context allows for cancellation and timeout control.
	Collect(ctx context.Context) ([]models.Field, error)

	// IsAvailable checks if this collector can run on the current platform.
	// Collectors that return false will not be registered.
	IsAvailable() bool
}
