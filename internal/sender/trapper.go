package sender

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/config"
	"github.com/weewx-zbxsender/bridge/internal/models"
)

// Zabbix protocol header: "ZBXD", one flags byte, then little-endian data
// length and reserved length (the uncompressed size when compressed).
const (
	protocolMagic    = "ZBXD"
	flagZabbix       = 0x01
	flagCompressed   = 0x02
	headerSize       = 13
	maxResponseBytes = 1 << 20
)

// DefaultTrapperPort is the Zabbix server trapper port.
const DefaultTrapperPort = 10051

type senderRequest struct {
	Request string       `json:"request"`
	Data    []senderItem `json:"data"`
}

// senderItem is one value of a sender-data request. Without a clock the
// server stamps the value on receipt.
type senderItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Clock int64  `json:"clock,omitempty"`
}

type senderResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// TrapperClient speaks the Zabbix sender protocol over TCP. Every Deliver
// dials, writes one request, reads one response and closes the socket.
type TrapperClient struct {
	cfg    config.RelayConfig
	logger *zap.Logger
	dialer net.Dialer
}

// NewTrapperClient creates a client for the trapper at cfg.Target.
func NewTrapperClient(cfg config.RelayConfig, logger *zap.Logger) *TrapperClient {
	return &TrapperClient{cfg: cfg, logger: logger.Named("trapper")}
}

// Name returns the transport name.
func (c *TrapperClient) Name() string { return config.RelayTrapper }

// Address returns the host:port the client dials.
func (c *TrapperClient) Address() string {
	target := c.cfg.Target
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	port := c.cfg.Port
	if port <= 0 {
		port = DefaultTrapperPort
	}
	return net.JoinHostPort(target, strconv.Itoa(port))
}

// Check verifies the address is well formed and accepts connections.
func (c *TrapperClient) Check(ctx context.Context) error {
	if c.cfg.Target == "" {
		return &models.ConfigError{Field: "relay.relay_target", Err: errors.New("trapper address is required")}
	}
	if _, _, err := net.SplitHostPort(c.Address()); err != nil {
		return &models.ConfigError{Field: "relay.relay_target", Err: err}
	}
	dialCtx, cancel := attemptContext(ctx, c.cfg.Timeout.Duration)
	defer cancel()
	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.Address())
	if err != nil {
		return &models.ConfigError{Field: "relay.relay_target", Err: fmt.Errorf("trapper unreachable: %w", err)}
	}
	return conn.Close()
}

// EncodeRequest builds the framed sender-data request for batch. Sample
// clocks are included only when timestamps is set. The request carries no
// send-time clock, so the frame depends only on the batch contents.
func EncodeRequest(batch models.Batch, compress, timestamps bool) ([]byte, error) {
	samples := batch.Samples()
	items := make([]senderItem, len(samples))
	for i, smp := range samples {
		items[i] = senderItem{Host: smp.Host, Key: smp.Key, Value: smp.Value}
		if timestamps {
			items[i].Clock = smp.Clock
		}
	}
	body, err := json.Marshal(senderRequest{Request: "sender data", Data: items})
	if err != nil {
		return nil, fmt.Errorf("marshal sender data: %w", err)
	}
	return frame(body, compress)
}

func frame(body []byte, compress bool) ([]byte, error) {
	flags := byte(flagZabbix)
	payload := body
	reserved := uint32(0)
	if compress {
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		if _, err := zw.Write(body); err != nil {
			return nil, fmt.Errorf("compress sender data: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress sender data: %w", err)
		}
		flags |= flagCompressed
		payload = zbuf.Bytes()
		reserved = uint32(len(body))
	}

	out := make([]byte, headerSize, headerSize+len(payload))
	copy(out, protocolMagic)
	out[4] = flags
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(payload)))
	binary.LittleEndian.PutUint32(out[9:13], reserved)
	return append(out, payload...), nil
}

// readFrame reads one framed message and returns its decompressed body.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(header[:4]) != protocolMagic {
		return nil, fmt.Errorf("bad protocol magic %q", header[:4])
	}
	flags := header[4]
	size := binary.LittleEndian.Uint32(header[5:9])
	reserved := binary.LittleEndian.Uint32(header[9:13])
	if size > maxResponseBytes {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if flags&flagCompressed == 0 {
		return payload, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompress body: %w", err)
	}
	defer zr.Close()
	body, err := io.ReadAll(io.LimitReader(zr, int64(reserved)+1))
	if err != nil {
		return nil, fmt.Errorf("decompress body: %w", err)
	}
	return body, nil
}

// Deliver sends batch to the trapper and classifies its answer.
func (c *TrapperClient) Deliver(ctx context.Context, batch models.Batch) models.DeliveryResult {
	if batch.Empty() {
		return models.OK(0, "")
	}
	started := time.Now()

	request, err := EncodeRequest(batch, c.cfg.Compress, c.cfg.SendTimestamps)
	if err != nil {
		// Samples are plain strings; this only fails on a broken encoder.
		return transportFailure(c.Name(), batch, err, started)
	}

	attemptCtx, cancel := attemptContext(ctx, c.cfg.Timeout.Duration)
	defer cancel()

	conn, err := c.dialer.DialContext(attemptCtx, "tcp", c.Address())
	if err != nil {
		return transportFailure(c.Name(), batch, fmt.Errorf("dial: %w", err), started)
	}
	defer conn.Close()
	if deadline, ok := attemptCtx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(attemptCtx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(request); err != nil {
		return transportFailure(c.Name(), batch, fmt.Errorf("write request: %w", err), started)
	}
	body, err := readFrame(conn)
	if err != nil {
		return transportFailure(c.Name(), batch, err, started)
	}

	var resp senderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return transportFailure(c.Name(), batch, fmt.Errorf("decode response: %w", err), started)
	}
	c.logger.Debug("Trapper response",
		zap.String("response", resp.Response),
		zap.String("info", resp.Info))

	if resp.Response != "success" {
		r := models.AllFailed(models.StatusFailed, batch.Len(),
			fmt.Errorf("trapper answered %q: %s", resp.Response, resp.Info))
		r.Info = resp.Info
		r.Latency = time.Since(started)
		return r
	}
	summary, err := ParseSummary(resp.Info)
	if err != nil {
		return transportFailure(c.Name(), batch, err, started)
	}
	return countsResult(batch, summary, started)
}
