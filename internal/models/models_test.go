package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePacketKeepsKeyOrder(t *testing.T) {
	packet := `{"dateTime": 1700000000, "usUnits": 1, "outTemp": 71.2, "windDir": 90.0, "barometer": 29.92, "rain": null, "station": "vp2"}`

	obs, err := DecodePacket([]byte(packet), "garage", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "garage", obs.Source)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), obs.Time)

	names := make([]string, len(obs.Fields))
	for i, f := range obs.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"usUnits", "outTemp", "windDir", "barometer", "rain", "station"}, names)

	v, ok := obs.Get("usUnits")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)

	v, _ = obs.Get("outTemp")
	assert.Equal(t, 71.2, v)

	v, ok = obs.Get("rain")
	assert.True(t, ok)
	assert.Nil(t, v)

	v, _ = obs.Get("station")
	assert.Equal(t, "vp2", v)

	_, ok = obs.Get("dateTime")
	assert.False(t, ok, "dateTime becomes the observation time")
}

func TestDecodePacketFallbackTime(t *testing.T) {
	fallback := time.Unix(1600000000, 0)
	obs, err := DecodePacket([]byte(`{"outTemp": 50}`), "garage", fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, obs.Time)
}

func TestDecodePacketErrors(t *testing.T) {
	tests := []struct {
		name   string
		packet string
	}{
		{"not an object", `[1, 2]`},
		{"truncated", `{"outTemp": 71.2`},
		{"non-numeric time", `{"dateTime": "yesterday"}`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePacket([]byte(tt.packet), "garage", time.Time{})
			assert.Error(t, err)
		})
	}
}

func TestSealedBatchIsIsolated(t *testing.T) {
	entries := []Entry{
		{Sample: Sample{Host: "garage", Key: "weewx_outTemp", Value: "71.2", Clock: 1}},
	}
	b := Seal(7, time.Unix(1, 0), entries)
	entries[0].Sample.Value = "0"

	assert.Equal(t, uint64(7), b.Seq())
	assert.Equal(t, "71.2", b.Sample(0).Value)

	samples := b.Samples()
	samples[0].Value = "changed"
	assert.Equal(t, "71.2", b.Sample(0).Value)
}

func TestResultBuilders(t *testing.T) {
	ok := OK(3, "processed: 3")
	assert.Equal(t, StatusOK, ok.Status)
	assert.Equal(t, []int{0, 1, 2}, ok.Succeeded)

	failed := AllFailed(StatusTransportError, 2, errors.New("i/o timeout"))
	assert.Equal(t, StatusTransportError, failed.Status)
	require.Len(t, failed.Failed, 2)
	assert.True(t, failed.Failed[1].Retryable)
	assert.Equal(t, "i/o timeout", failed.Failed[1].Reason)
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	var te error = &TransportError{Relay: "trapper", Err: cause}
	assert.ErrorIs(t, te, cause)
	assert.Equal(t, "trapper transport: connection refused", te.Error())

	var ce error = &ConfigError{Field: "relay.type", Err: cause}
	assert.ErrorIs(t, ce, cause)
	assert.Equal(t, "config relay.type: connection refused", ce.Error())
}
