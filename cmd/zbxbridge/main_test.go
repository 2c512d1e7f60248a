package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/weewx-zbxsender/bridge/internal/config"
	"github.com/weewx-zbxsender/bridge/internal/models"
)

const packets = `{"dateTime": 1700000000, "outTemp": 71.2, "windDir": 90.0, "barometer": 29.92}
{"dateTime": 1700000300, "outTemp": 71.4, "windDir": 191.0, "rain": null}
`

func clearEnv(t *testing.T) {
	for _, k := range []string{"ZBX_RELAY_TARGET", "ZBX_SERVER", "ZBX_API_TOKEN", "ZBX_SOURCE_HOST", "ZBX_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zbxbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestEncodeCommand(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "encoding:\n  source_host: garage\nlogging:\n  level: error\n")

	out, errOut, err := execute(t, packets, "encode", "--config", path)
	require.NoError(t, err)

	assert.Equal(t,
		"garage weewx_outTemp 71.2\n"+
			"garage weewx_windDir E\n"+
			"garage weewx_barometer 29.92\n"+
			"garage weewx_outTemp 71.4\n"+
			"garage weewx_windDir S\n",
		out)
	assert.Contains(t, errOut, "skipped rain: missing value")
}

func TestEncodeCommandHonoursFlags(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "logging:\n  level: error\n")

	out, _, err := execute(t, `{"dateTime": 1700000000, "outTemp": 50}`+"\n",
		"encode", "--config", path, "--source-host", "roof", "-T")
	require.NoError(t, err)
	assert.Equal(t, "roof weewx_outTemp 1700000000 50\n", out)
}

func TestEncodeCommandUsesInputSourceAsHost(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "encoding:\n  source_host: \"\"\ninput:\n  source: vp2\nlogging:\n  level: error\n")

	out, _, err := execute(t, `{"dateTime": 1700000000, "outTemp": 50}`+"\n", "encode", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "vp2 weewx_outTemp 50\n", out)
}

func TestValidateCommand(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "relay:\n  type: trapper\n  relay_target: zabbix.lan\n")

	out, _, err := execute(t, "", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration ok")
}

func TestValidateCommandRejectsBadConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "batch:\n  max_batch_size: 0\n")

	_, _, err := execute(t, "", "validate", "--config", path)
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
	assert.Contains(t, err.Error(), "batch.max_batch_size")
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "zbxbridge dev\n", out)
}

// historyServer records the samples pushed through history.push.
type historyServer struct {
	mu      sync.Mutex
	samples []models.Sample
}

func (h *historyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var result any = "7.0.0"
	if req.Method == "history.push" {
		var samples []models.Sample
		json.Unmarshal(req.Params, &samples)
		h.mu.Lock()
		h.samples = append(h.samples, samples...)
		h.mu.Unlock()

		data := make([]map[string]string, len(samples))
		for i := range data {
			data[i] = map[string]string{"itemid": "1"}
		}
		result = map[string]any{"response": "success", "data": data}
	}
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": result, "id": 1})
}

func (h *historyServer) Samples() []models.Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Sample(nil), h.samples...)
}

func TestRunBridgeDeliversUntilInputCloses(t *testing.T) {
	api := &historyServer{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Relay.Type = config.RelayHistory
	cfg.Relay.Target = srv.URL
	cfg.Relay.APIToken = "s3cret"
	cfg.Relay.Timeout = config.Duration{Duration: 2 * time.Second}
	cfg.Encoding.SourceHost = "garage"
	cfg.Spool.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, runBridge(ctx, cfg, strings.NewReader(packets), zaptest.NewLogger(t)))

	samples := api.Samples()
	require.Len(t, samples, 5)
	assert.Equal(t, models.Sample{Host: "garage", Key: "weewx_outTemp", Value: "71.2", Clock: 1700000000}, samples[0])
	assert.Equal(t, "S", samples[4].Value)

	entries, err := os.ReadDir(cfg.Spool.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing left to spool")
}

func TestRunBridgeFailsFastOnUnreachableRelay(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Relay.Type = config.RelayTrapper
	cfg.Relay.Target = "127.0.0.1:1"
	cfg.Relay.Timeout = config.Duration{Duration: time.Second}

	err := runBridge(context.Background(), cfg, strings.NewReader(packets), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
}

func TestInstallRefusesStdinInput(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "input:\n  mode: stdin\n")

	_, _, err := execute(t, "", "install", "--config", path)
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
	assert.Contains(t, err.Error(), "input.mode")
}
