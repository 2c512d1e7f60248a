// Package sender implements the delivery clients that hand sealed batches
// to Zabbix. Three transports satisfy the same Client contract:
//
//   - exec: pipes sender input lines into the zabbix_sender binary
//   - trapper: speaks the Zabbix sender protocol over TCP directly
//   - history: calls the history.push JSON-RPC method over HTTP
//
// Ordinary transport failures never surface as errors; they are
// classified into the returned DeliveryResult. Only Check, run once at
// startup, returns a ConfigError.
package sender

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/config"
	"github.com/weewx-zbxsender/bridge/internal/models"
)

// Client delivers sealed batches to the monitoring backend.
type Client interface {
	// Name identifies the transport in logs and metrics.
	Name() string

	// Check validates the relay configuration and reachability.
	// A failure is returned as *models.ConfigError.
	Check(ctx context.Context) error

	// Deliver makes one attempt to transmit batch. Zero-length batches
	// are answered without contacting the backend.
	Deliver(ctx context.Context, batch models.Batch) models.DeliveryResult
}

// New builds the client selected by cfg.Relay.Type.
func New(cfg config.RelayConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Type {
	case config.RelayExec:
		return NewExecClient(cfg, logger), nil
	case config.RelayTrapper:
		return NewTrapperClient(cfg, logger), nil
	case config.RelayHistory:
		return NewHistoryClient(cfg, logger), nil
	default:
		return nil, &models.ConfigError{Field: "relay.type", Err: fmt.Errorf("unknown relay type %q", cfg.Type)}
	}
}

// attemptContext bounds one delivery attempt by the relay timeout.
func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// transportFailure marks every sample of batch failed after a transport
// problem.
func transportFailure(relay string, batch models.Batch, err error, started time.Time) models.DeliveryResult {
	r := models.AllFailed(models.StatusTransportError, batch.Len(), &models.TransportError{Relay: relay, Err: err})
	r.Latency = time.Since(started)
	return r
}

// countsResult classifies a counts-only backend answer. Backends that only
// report how many values were processed cannot say which ones failed, so
// rejections stay unattributed.
func countsResult(batch models.Batch, s Summary, started time.Time) models.DeliveryResult {
	n := batch.Len()
	r := models.DeliveryResult{
		Processed: s.Processed,
		Total:     n,
		Info:      s.Raw,
		Latency:   time.Since(started),
	}
	switch {
	case s.Failed == 0 && s.Processed >= n:
		ok := models.OK(n, s.Raw)
		ok.Latency = r.Latency
		return ok
	case s.Processed == 0 && s.Failed > 0:
		r.Status = models.StatusFailed
		r.Rejected = s.Failed
	default:
		r.Status = models.StatusPartial
		r.Rejected = s.Failed
	}
	// Values the backend never counted were not processed at all.
	if missing := n - s.Processed - s.Failed; missing > 0 {
		r.Rejected += missing
	}
	return r
}
