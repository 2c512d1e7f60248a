package source

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/weewx-zbxsender/bridge/internal/clock"
	"github.com/weewx-zbxsender/bridge/internal/config"
	"github.com/weewx-zbxsender/bridge/internal/models"
)

type collected struct {
	mu  sync.Mutex
	obs []models.Observation
}

func (c *collected) handle(o models.Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = append(c.obs, o)
}

func TestReaderDecodesEveryLine(t *testing.T) {
	input := `{"dateTime": 1700000000, "outTemp": 71.2, "windDir": 90.0}

not json
{"dateTime": 1700000300, "outTemp": 71.4}
`
	var got collected
	r := NewReader(strings.NewReader(input), "weewx", clock.Fake(time.Unix(0, 0)), zaptest.NewLogger(t))

	err := r.Run(context.Background(), got.handle)
	assert.ErrorIs(t, err, io.EOF)

	require.Len(t, got.obs, 2)
	assert.Equal(t, "weewx", got.obs[0].Source)
	assert.Equal(t, int64(1700000000), got.obs[0].Time.Unix())
	assert.Len(t, got.obs[0].Fields, 2)
	assert.Equal(t, int64(1700000300), got.obs[1].Time.Unix())
}

func TestReaderSkipsOversizedLine(t *testing.T) {
	oversized := `{"outTemp": "` + strings.Repeat("x", maxPacketBytes+10) + `"}`
	input := `{"dateTime": 1700000000, "outTemp": 71.2}` + "\n" +
		oversized + "\n" +
		`{"dateTime": 1700000300, "outTemp": 71.4}` + "\n"

	var got collected
	r := NewReader(strings.NewReader(input), "weewx", clock.Fake(time.Unix(0, 0)), zaptest.NewLogger(t))

	err := r.Run(context.Background(), got.handle)
	assert.ErrorIs(t, err, io.EOF)

	require.Len(t, got.obs, 2)
	assert.Equal(t, int64(1700000000), got.obs[0].Time.Unix())
	assert.Equal(t, int64(1700000300), got.obs[1].Time.Unix())
}

func TestReaderDecodesUnterminatedLastLine(t *testing.T) {
	var got collected
	r := NewReader(strings.NewReader(`{"dateTime": 1700000000, "outTemp": 71.2}`), "weewx", nil, zaptest.NewLogger(t))

	assert.ErrorIs(t, r.Run(context.Background(), got.handle), io.EOF)
	require.Len(t, got.obs, 1)
}

func TestReadLine(t *testing.T) {
	br := bufio.NewReaderSize(strings.NewReader("short\r\n"+strings.Repeat("a", 40)+"\n  \nlast"), 16)

	l, err := readLine(br, 20)
	require.NoError(t, err)
	assert.Equal(t, "short", string(l.data))

	l, err = readLine(br, 20)
	require.NoError(t, err)
	assert.True(t, l.tooLong)
	assert.Empty(t, l.data)

	l, err = readLine(br, 20)
	require.NoError(t, err)
	assert.Empty(t, l.data)
	assert.False(t, l.tooLong)

	l, err = readLine(br, 20)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "last", string(l.data))
}

func TestReaderStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	r := NewReader(pr, "weewx", nil, zaptest.NewLogger(t))
	go func() { done <- r.Run(ctx, func(models.Observation) {}) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSubscriberSubject(t *testing.T) {
	s := NewSubscriber(config.InputConfig{Subject: "weewx", Binding: "archive"}, nil, zaptest.NewLogger(t))
	assert.Equal(t, "weewx.archive", s.Subject())
}

type fakeDrainer struct {
	err    error
	closed chan struct{}
}

func (d *fakeDrainer) Drain() error {
	if d.err != nil {
		return d.err
	}
	go close(d.closed)
	return nil
}

func TestDrainAndWaitWaitsForClose(t *testing.T) {
	d := &fakeDrainer{closed: make(chan struct{})}
	assert.NoError(t, drainAndWait(d, d.closed, time.Second))
}

func TestDrainAndWaitTimesOut(t *testing.T) {
	closed := make(chan struct{})
	d := &fakeDrainer{closed: make(chan struct{})}
	assert.ErrorIs(t, drainAndWait(d, closed, 20*time.Millisecond), errDrainTimeout)
}

func TestDrainAndWaitReportsDrainError(t *testing.T) {
	d := &fakeDrainer{err: nats.ErrConnectionClosed}
	assert.ErrorIs(t, drainAndWait(d, make(chan struct{}), time.Second), nats.ErrConnectionClosed)
}

func TestSubscriberHandleMessage(t *testing.T) {
	fallback := time.Unix(1650000000, 0)
	s := NewSubscriber(config.InputConfig{Subject: "weewx", Binding: "loop", Source: "vp2"}, clock.Fake(fallback), zaptest.NewLogger(t))

	var got collected
	s.handleMessage(&nats.Msg{Subject: "weewx.loop", Data: []byte(`{"outTemp": 12.5}`)}, got.handle)
	s.handleMessage(&nats.Msg{Subject: "weewx.loop", Data: []byte(`{broken`)}, got.handle)

	require.Len(t, got.obs, 1)
	assert.Equal(t, "vp2", got.obs[0].Source)
	assert.Equal(t, fallback, got.obs[0].Time)
}
