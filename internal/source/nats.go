package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/clock"
	"github.com/weewx-zbxsender/bridge/internal/config"
	"github.com/weewx-zbxsender/bridge/internal/models"
)

// drainTimeout bounds how long pending packets are handed over at shutdown.
const drainTimeout = 10 * time.Second

var errDrainTimeout = errors.New("timed out waiting for NATS drain")

// Subscriber receives packets published on NATS by a weewx extension.
type Subscriber struct {
	cfg    config.InputConfig
	clock  clock.Clock
	logger *zap.Logger
}

// NewSubscriber creates a Subscriber for cfg.
func NewSubscriber(cfg config.InputConfig, clk clock.Clock, logger *zap.Logger) *Subscriber {
	if clk == nil {
		clk = clock.Real()
	}
	return &Subscriber{cfg: cfg, clock: clk, logger: logger.Named("nats")}
}

// Subject returns the subject for the configured weewx binding,
// e.g. "weewx.loop".
func (s *Subscriber) Subject() string {
	return s.cfg.Subject + "." + s.cfg.Binding
}

// Run connects, subscribes and calls handle for every packet until ctx is
// done. NATS delivers the messages of one subscription sequentially. On
// return every received packet has been handed to handle, unless the
// drain timed out.
func (s *Subscriber) Run(ctx context.Context, handle Handler) error {
	closed := make(chan struct{})
	var closeOnce sync.Once

	nc, err := nats.Connect(s.cfg.NATSURL,
		nats.Name("zbxbridge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			s.logger.Error("NATS error", zap.Error(err))
		}),
		nats.DrainTimeout(drainTimeout),
		nats.ClosedHandler(func(*nats.Conn) {
			closeOnce.Do(func() { close(closed) })
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	_, err = nc.Subscribe(s.Subject(), func(msg *nats.Msg) {
		s.handleMessage(msg, handle)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.Subject(), err)
	}
	s.logger.Info("Subscribed to packets",
		zap.String("url", s.cfg.NATSURL),
		zap.String("subject", s.Subject()))

	<-ctx.Done()

	if err := drainAndWait(nc, closed, drainTimeout+time.Second); err != nil {
		s.logger.Warn("NATS drain incomplete, pending packets may be lost", zap.Error(err))
	}
	return nil
}

type drainer interface {
	Drain() error
}

// drainAndWait starts draining c and waits until closed fires or timeout
// elapses. Drain itself returns before the pending messages are handled.
func drainAndWait(c drainer, closed <-chan struct{}, timeout time.Duration) error {
	if err := c.Drain(); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	select {
	case <-closed:
		return nil
	case <-time.After(timeout):
		return errDrainTimeout
	}
}

func (s *Subscriber) handleMessage(msg *nats.Msg, handle Handler) {
	obs, err := models.DecodePacket(msg.Data, s.cfg.Source, s.clock.Now())
	if err != nil {
		s.logger.Warn("Skipping malformed packet",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return
	}
	handle(obs)
}
