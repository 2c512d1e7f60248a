package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/config"
	"github.com/weewx-zbxsender/bridge/internal/models"
)

const (
	apiPath          = "/api_jsonrpc.php"
	rpcContentType   = "application/json-rpc"
	maxRPCBodyBytes  = 4 << 20
	historyPushCall  = "history.push"
	apiVersionCall   = "apiinfo.version"
	historyRequestID = 1
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s %s", e.Code, e.Message, e.Data)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type pushResult struct {
	Response string       `json:"response"`
	Data     []pushStatus `json:"data"`
}

type pushStatus struct {
	ItemID string `json:"itemid,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HistoryClient pushes batches through the history.push API method, which
// answers per item and so supports partial acknowledgment.
type HistoryClient struct {
	cfg    config.RelayConfig
	logger *zap.Logger
	client *http.Client
}

// NewHistoryClient creates a client for the frontend at cfg.Target.
func NewHistoryClient(cfg config.RelayConfig, logger *zap.Logger) *HistoryClient {
	return &HistoryClient{
		cfg:    cfg,
		logger: logger.Named("history"),
		client: &http.Client{},
	}
}

// Name returns the transport name.
func (c *HistoryClient) Name() string { return config.RelayHistory }

// Endpoint returns the JSON-RPC URL.
func (c *HistoryClient) Endpoint() string {
	target := strings.TrimRight(c.cfg.Target, "/")
	if strings.HasSuffix(target, apiPath) {
		return target
	}
	return target + apiPath
}

// Check validates the endpoint and token and asks the API for its version.
func (c *HistoryClient) Check(ctx context.Context) error {
	u, err := url.Parse(c.Endpoint())
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		if err == nil {
			err = fmt.Errorf("invalid API URL %q", c.cfg.Target)
		}
		return &models.ConfigError{Field: "relay.relay_target", Err: err}
	}
	if c.cfg.APIToken == "" {
		return &models.ConfigError{Field: "relay.api_token", Err: errors.New("API token is required for history relay")}
	}

	checkCtx, cancel := attemptContext(ctx, c.cfg.Timeout.Duration)
	defer cancel()
	var version string
	if err := c.call(checkCtx, apiVersionCall, []string{}, false, &version); err != nil {
		return &models.ConfigError{Field: "relay.relay_target", Err: fmt.Errorf("API unreachable: %w", err)}
	}
	c.logger.Info("Zabbix API reachable", zap.String("version", version))
	return nil
}

// Deliver pushes batch and maps per-item errors to rejected samples.
func (c *HistoryClient) Deliver(ctx context.Context, batch models.Batch) models.DeliveryResult {
	if batch.Empty() {
		return models.OK(0, "")
	}
	started := time.Now()

	attemptCtx, cancel := attemptContext(ctx, c.cfg.Timeout.Duration)
	defer cancel()

	var result pushResult
	err := c.call(attemptCtx, historyPushCall, batch.Samples(), true, &result)
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			r := models.AllFailed(models.StatusFailed, batch.Len(), err)
			r.Latency = time.Since(started)
			return r
		}
		return transportFailure(c.Name(), batch, err, started)
	}
	if len(result.Data) != batch.Len() {
		return transportFailure(c.Name(), batch,
			fmt.Errorf("history.push answered %d items for %d samples", len(result.Data), batch.Len()), started)
	}

	r := models.DeliveryResult{Total: batch.Len(), Info: result.Response}
	for i, st := range result.Data {
		if st.Error != "" {
			reason := (&models.RejectedError{Key: batch.Sample(i).Key, Reason: st.Error}).Error()
			r.Failed = append(r.Failed, models.SampleFailure{Index: i, Reason: reason})
			continue
		}
		r.Succeeded = append(r.Succeeded, i)
	}
	r.Processed = len(r.Succeeded)
	switch {
	case len(r.Failed) == 0:
		r.Status = models.StatusOK
	case len(r.Succeeded) == 0:
		r.Status = models.StatusFailed
	default:
		r.Status = models.StatusPartial
	}
	r.Latency = time.Since(started)
	return r
}

// call performs one JSON-RPC round trip and decodes result into out.
func (c *HistoryClient) call(ctx context.Context, method string, params any, auth bool, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: historyRequestID})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", rpcContentType)
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var rpc rpcResponse
	if err := json.Unmarshal(data, &rpc); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpc.Error != nil {
		return rpc.Error
	}
	if err := json.Unmarshal(rpc.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
