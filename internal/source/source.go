// Package source feeds weewx packets into the forwarder. Packets arrive as
// JSON objects, one per line on a stream or one per NATS message.
package source

import (
	"github.com/weewx-zbxsender/bridge/internal/models"
)

// Handler receives every decoded observation. Forwarder.OnObservation
// satisfies it.
type Handler func(models.Observation)
