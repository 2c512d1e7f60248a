//go:build windows

// Package service provides Windows Service integration.
// When running as a Windows service, the bridge enters the SCM control loop.
// When running from a terminal, it runs in foreground (debug mode).
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"
)

// ServiceName is the name registered with the service control manager.
const ServiceName = "WeewxZabbixBridge"

// stopWaitHint is reported to the SCM while the final flush runs.
const stopWaitHint = 30 * time.Second

// BridgeService implements the Windows service interface (svc.Handler).
type BridgeService struct {
	logger *zap.Logger
	run    func(ctx context.Context) error
}

// New creates a new Windows service wrapper.
// run is called with a context that is cancelled when the SCM stops the
// service; the service reports stopped once run returns.
func New(logger *zap.Logger, run func(ctx context.Context) error) *BridgeService {
	return &BridgeService{
		logger: logger,
		run:    run,
	}
}

// IsWindowsService checks if the process is running as a Windows service.
func IsWindowsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// Run starts the Windows service control loop.
func (s *BridgeService) Run() error {
	return svc.Run(ServiceName, s)
}

// Execute implements the svc.Handler interface for Windows SCM integration.
func (s *BridgeService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	changes <- svc.Status{
		State:   svc.Running,
		Accepts: svc.AcceptStop | svc.AcceptShutdown,
	}
	s.logger.Info("Windows service started")

	for {
		select {
		case err := <-done:
			if err != nil {
				s.logger.Error("Bridge exited", zap.Error(err))
				return true, 1
			}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				s.logger.Info("Windows service stopping")
				changes <- svc.Status{State: svc.StopPending, WaitHint: uint32(stopWaitHint / time.Millisecond)}
				cancel()
				if err := <-done; err != nil {
					s.logger.Error("Bridge exited", zap.Error(err))
				}
				return false, 0
			default:
				s.logger.Warn("Unexpected service control request",
					zap.Uint32("cmd", uint32(c.Cmd)))
			}
		}
	}
}
