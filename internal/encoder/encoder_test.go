package encoder

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

func TestEncodeGarageScenario(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	obs := models.Observation{
		Source: "garage",
		Time:   ts,
		Fields: []models.Field{
			{Name: "outTemp", Value: 21.5},
			{Name: "windDir", Value: 90.0},
		},
	}

	enc := New("weewx_", "weewx-host", nil, nil)
	samples, skipped := enc.Encode(obs)

	require.Empty(t, skipped)
	assert.Equal(t, []models.Sample{
		{Host: "weewx-host", Key: "weewx_outTemp", Value: "21.5", Clock: ts.Unix()},
		{Host: "weewx-host", Key: "weewx_windDir", Value: "E", Clock: ts.Unix()},
	}, samples)
}

func TestEncodeOneSamplePerField(t *testing.T) {
	obs := models.Observation{
		Time: time.Unix(100, 0),
		Fields: []models.Field{
			{Name: "usUnits", Value: int64(1)},
			{Name: "barometer", Value: 30.012},
			{Name: "rain", Value: 0.0},
			{Name: "outHumidity", Value: int64(54)},
			{Name: "stationName", Value: "backyard"},
			{Name: "dayRain", Value: 0.25},
		},
	}

	enc := New("wx.", "h", nil, []string{"dayRain"})
	samples, skipped := enc.Encode(obs)

	require.Empty(t, skipped)
	require.Len(t, samples, 5)
	for i, s := range samples {
		assert.Equal(t, "wx."+obs.Fields[i].Name, s.Key)
		assert.Equal(t, "h", s.Host)
		assert.Equal(t, int64(100), s.Clock)
	}
	assert.Equal(t, "30.012", samples[1].Value)
	assert.Equal(t, "0", samples[2].Value)
	assert.Equal(t, "54", samples[3].Value)
	assert.Equal(t, "backyard", samples[4].Value)
}

func TestEncodeSkipsUnrenderableFields(t *testing.T) {
	obs := models.Observation{
		Time: time.Unix(0, 0),
		Fields: []models.Field{
			{Name: "outTemp", Value: nil},
			{Name: "inTemp", Value: math.NaN()},
			{Name: "windDir", Value: "calm"},
			{Name: "heatindex", Value: 20.0},
			{Name: "heatindex", Value: 21.0},
			{Name: "pressure", Value: "n/a"},
		},
	}

	enc := New("weewx_", "h", map[string]Rule{
		"windDir":  RuleCompass,
		"pressure": RuleRawNumber,
	}, nil)
	samples, skipped := enc.Encode(obs)

	require.Len(t, samples, 1)
	assert.Equal(t, "weewx_heatindex", samples[0].Key)
	assert.Equal(t, "20", samples[0].Value)

	var fields []string
	for _, s := range skipped {
		fields = append(fields, s.Field)
	}
	assert.Equal(t, []string{"outTemp", "inTemp", "windDir", "heatindex", "pressure"}, fields)
}

func TestEncodeFallsBackToObservationSource(t *testing.T) {
	enc := New("weewx_", "", nil, nil)
	samples, _ := enc.Encode(models.Observation{
		Source: "garage",
		Fields: []models.Field{{Name: "outTemp", Value: 1.0}},
	})
	require.Len(t, samples, 1)
	assert.Equal(t, "garage", samples[0].Host)
}

func TestCompassOrdinals(t *testing.T) {
	tests := []struct {
		deg  float64
		want string
	}{
		{0, "N"},
		{11.24, "N"},
		{11.25, "N"},
		{11.26, "NNE"},
		{33.75, "NE"},
		{56.25, "NE"},
		{78.75, "E"},
		{101.25, "E"},
		{123.75, "SE"},
		{45, "NE"},
		{90, "E"},
		{135, "SE"},
		{180, "S"},
		{202.5, "SSW"},
		{270, "W"},
		{348.74, "NNW"},
		{348.75, "N"},
		{359.99, "N"},
		{360, "N"},
		{-90, "W"},
		{450, "E"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Compass(tt.deg), "Compass(%v)", tt.deg)
	}
}

func TestCompassCoversRangeDeterministically(t *testing.T) {
	valid := make(map[string]bool, len(ordinals))
	for _, o := range ordinals {
		valid[o] = true
	}
	seen := make(map[string]bool)
	for deg := 0.0; deg < 360; deg += 0.5 {
		got := Compass(deg)
		require.True(t, valid[got], "Compass(%v) = %q", deg, got)
		require.Equal(t, got, Compass(deg))
		seen[got] = true
	}
	assert.Len(t, seen, 16)
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   any
		want string
		ok   bool
	}{
		{21.5, "21.5", true},
		{90.0, "90", true},
		{1e21, "1000000000000000000000", true},
		{float32(0.1), "0.1", true},
		{int64(-3), "-3", true},
		{true, "1", true},
		{false, "0", true},
		{"text value", "text value", true},
		{time.Second, "1s", true},
		{[]int{1, 2}, "[1 2]", true},
		{nil, "", false},
		{math.Inf(1), "", false},
	}
	for _, tt := range tests {
		got, ok := Stringify(tt.in)
		assert.Equal(t, tt.ok, ok, "Stringify(%v)", tt.in)
		assert.Equal(t, tt.want, got, "Stringify(%v)", tt.in)
	}
}

func TestParseRule(t *testing.T) {
	for _, name := range []string{"raw-number", "compass-ordinal", "string-passthrough", "exclude"} {
		r, err := ParseRule(name)
		require.NoError(t, err)
		assert.Equal(t, Rule(name), r)
	}
	_, err := ParseRule("degrees")
	assert.Error(t, err)
}
