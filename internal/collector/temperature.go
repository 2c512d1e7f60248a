package collector

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// Sensor name substrings used to identify CPU temperature sensors across platforms.
// Linux:  coretemp_core_0_input, k10temp_tctl_input, acpitz_temp1_input, zenpower_tctl_input
// macOS:  TC0P (CPU proximity), TC0D (CPU die), TCXC (CPU core)
// Windows: CPU Package, CPU Core #0, etc.
var cpuSensorKeys = []string{
	"cpu", "core", "package",
	"tctl", "tdie", "k10temp", "coretemp",
	"tc0p", "tc0d", "tcxc",
	"acpitz", "zenpower",
}

// Sensor name substrings used to identify GPU temperature sensors across platforms.
// Linux:  amdgpu_edge_input, nouveau_temp1_input
// macOS:  TG0P (GPU proximity), TG0D (GPU die)
// Windows: GPU, nvidia, radeon, etc.
var gpuSensorKeys = []string{
	"gpu", "nvidia", "amd", "radeon",
	"tg0p", "tg0d",
	"amdgpu", "nouveau",
}

// minValidTemp is the minimum temperature (°C) considered valid.
const minValidTemp = 0.0

// maxValidTemp is the maximum temperature (°C) considered valid.
// Readings above this are likely sensor errors.
const maxValidTemp = 150.0

// TemperatureCollector reports the hottest CPU and GPU sensor readings.
type TemperatureCollector struct {
	logger *zap.Logger
}

// NewTemperatureCollector creates a new temperature collector.
// Pass a nil logger for no logging.
func NewTemperatureCollector(logger *zap.Logger) *TemperatureCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemperatureCollector{logger: logger}
}

// Name returns the collector identifier.
func (c *TemperatureCollector) Name() string { return "temperature" }

// Collect emits stationCPUTemp and stationGPUTemp in °C for the sensor
// categories found. Hosts without sensors yield no fields.
func (c *TemperatureCollector) Collect(ctx context.Context) ([]models.Field, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		// gopsutil returns partial readings alongside a warning error.
		c.logger.Debug("Temperature sensors not fully available", zap.Error(err))
	}

	readings := make([]sensorReading, 0, len(temps))
	for _, t := range temps {
		readings = append(readings, sensorReading{key: t.SensorKey, celsius: t.Temperature})
	}
	return hottest(readings), nil
}

// IsAvailable returns true. Collect yields nothing when no sensors are readable.
func (c *TemperatureCollector) IsAvailable() bool { return true }

type sensorReading struct {
	key     string
	celsius float64
}

// hottest picks the maximum valid reading per category.
func hottest(readings []sensorReading) []models.Field {
	var cpuMax, gpuMax float64
	cpuFound, gpuFound := false, false

	for _, r := range readings {
		if !isValidTemperature(r.celsius) {
			continue
		}
		name := strings.ToLower(r.key)
		if matchesSensor(name, gpuSensorKeys) {
			if !gpuFound || r.celsius > gpuMax {
				gpuMax, gpuFound = r.celsius, true
			}
			continue
		}
		if matchesSensor(name, cpuSensorKeys) {
			if !cpuFound || r.celsius > cpuMax {
				cpuMax, cpuFound = r.celsius, true
			}
		}
	}

	var fields []models.Field
	if cpuFound {
		fields = append(fields, models.Field{Name: "stationCPUTemp", Value: cpuMax})
	}
	if gpuFound {
		fields = append(fields, models.Field{Name: "stationGPUTemp", Value: gpuMax})
	}
	return fields
}

// matchesSensor checks if the sensor name contains any of the given key substrings.
func matchesSensor(name string, keys []string) bool {
	for _, key := range keys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

// isValidTemperature returns true if the temperature is within a plausible range.
func isValidTemperature(temp float64) bool {
	return temp > minValidTemp && temp <= maxValidTemp
}
