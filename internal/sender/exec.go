package sender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/config"
	"github.com/weewx-zbxsender/bridge/internal/models"
)

// zabbix_sender exit codes.
const (
	senderExitOK      = 0
	senderExitFailed  = 1
	senderExitPartial = 2
)

// ExecClient delivers batches by running zabbix_sender once per batch
// with the sender input on stdin.
type ExecClient struct {
	cfg    config.RelayConfig
	logger *zap.Logger
}

// NewExecClient creates a client that shells out to cfg.Target.
func NewExecClient(cfg config.RelayConfig, logger *zap.Logger) *ExecClient {
	return &ExecClient{cfg: cfg, logger: logger.Named("exec")}
}

// Name returns the transport name.
func (c *ExecClient) Name() string { return config.RelayExec }

// Check verifies the zabbix_sender binary resolves and the agent config
// file, when set, is readable.
func (c *ExecClient) Check(_ context.Context) error {
	if _, err := exec.LookPath(c.cfg.Target); err != nil {
		return &models.ConfigError{Field: "relay.relay_target", Err: err}
	}
	if c.cfg.Config != "" {
		f, err := os.Open(c.cfg.Config)
		if err != nil {
			return &models.ConfigError{Field: "relay.config", Err: err}
		}
		f.Close()
	}
	return nil
}

// Args returns the zabbix_sender command line, without the binary.
func (c *ExecClient) Args() []string {
	var args []string
	if c.cfg.Config != "" {
		args = append(args, "-c", c.cfg.Config)
	}
	if c.cfg.Server != "" {
		args = append(args, "-z", c.cfg.Server)
	}
	if c.cfg.Port > 0 {
		args = append(args, "-p", strconv.Itoa(c.cfg.Port))
	}
	if c.cfg.SendTimestamps {
		args = append(args, "-T")
	}
	return append(args, "-i", "-")
}

// Deliver runs zabbix_sender for batch and classifies its output.
func (c *ExecClient) Deliver(ctx context.Context, batch models.Batch) models.DeliveryResult {
	if batch.Empty() {
		return models.OK(0, "")
	}
	started := time.Now()

	attemptCtx, cancel := attemptContext(ctx, c.cfg.Timeout.Duration)
	defer cancel()

	args := c.Args()
	cmd := exec.CommandContext(attemptCtx, c.cfg.Target, args...)
	cmd.Stdin = bytes.NewReader(EncodeLines(batch, c.cfg.SendTimestamps))
	cmd.WaitDelay = time.Second

	c.logger.Debug("Running zabbix_sender",
		zap.String("path", c.cfg.Target),
		zap.Strings("args", args),
		zap.Int("samples", batch.Len()))

	out, err := cmd.CombinedOutput()
	output := strings.Join(strings.Fields(string(out)), " ")

	if attemptCtx.Err() != nil {
		return transportFailure(c.Name(), batch, fmt.Errorf("zabbix_sender timed out: %w", attemptCtx.Err()), started)
	}

	code := senderExitOK
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return transportFailure(c.Name(), batch, fmt.Errorf("run zabbix_sender: %w", err), started)
		}
		code = exitErr.ExitCode()
	}

	summary, parseErr := ParseSummary(output)
	switch {
	case parseErr != nil:
		return transportFailure(c.Name(), batch,
			fmt.Errorf("zabbix_sender exit %d without summary: %s", code, output), started)
	case code == senderExitOK, code == senderExitPartial:
		return countsResult(batch, summary, started)
	case code == senderExitFailed && summary.Processed+summary.Failed > 0:
		// zabbix_sender exits 1 when every value was refused by the server.
		return countsResult(batch, summary, started)
	default:
		return transportFailure(c.Name(), batch,
			fmt.Errorf("zabbix_sender exit %d: %s", code, output), started)
	}
}
