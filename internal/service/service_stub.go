//go:build !windows

// Package service provides a stub implementation for non-Windows platforms.
// On Linux and macOS the bridge runs as a foreground process under systemd,
// launchd or the weewx process itself; no service wrapper is needed.
package service

import (
	"context"

	"go.uber.org/zap"
)

// ServiceName is the name the bridge registers under on Windows.
const ServiceName = "WeewxZabbixBridge"

// BridgeService runs the bridge in the foreground on non-Windows platforms.
type BridgeService struct {
	logger *zap.Logger
	run    func(ctx context.Context) error
}

// New creates a stub service wrapper for non-Windows platforms.
func New(logger *zap.Logger, run func(ctx context.Context) error) *BridgeService {
	return &BridgeService{
		logger: logger,
		run:    run,
	}
}

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() bool {
	return false
}

// Run executes the bridge directly (no service wrapper needed on non-Windows).
func (s *BridgeService) Run() error {
	return s.run(context.Background())
}
