package sender

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

func testBatch(samples ...models.Sample) models.Batch {
	entries := make([]models.Entry, len(samples))
	for i, s := range samples {
		entries[i] = models.Entry{Sample: s}
	}
	return models.Seal(1, time.Unix(1700000000, 0), entries)
}

func garageBatch() models.Batch {
	return testBatch(
		models.Sample{Host: "garage", Key: "weewx_outTemp", Value: "71.2", Clock: 1700000000},
		models.Sample{Host: "garage", Key: "weewx_windDir", Value: "E", Clock: 1700000000},
		models.Sample{Host: "garage", Key: "weewx_barometer", Value: "29.92", Clock: 1700000000},
	)
}

func TestEncodeLines(t *testing.T) {
	assert.Equal(t,
		"garage weewx_outTemp 71.2\ngarage weewx_windDir E\ngarage weewx_barometer 29.92\n",
		string(EncodeLines(garageBatch(), false)))
}

func TestEncodeLinesWithTimestamps(t *testing.T) {
	b := testBatch(models.Sample{Host: "garage", Key: "weewx_outTemp", Value: "71.2", Clock: 1700000000})
	assert.Equal(t, "garage weewx_outTemp 1700000000 71.2\n", string(EncodeLines(b, true)))
}

func TestEncodeLinesIsDeterministic(t *testing.T) {
	b := garageBatch()
	assert.Equal(t, EncodeLines(b, false), EncodeLines(b, false))
}

func TestQuoteField(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"garage", "garage"},
		{"71.2", "71.2"},
		{"my host", `"my host"`},
		{"", `""`},
		{`say "hi"`, `"say \"hi\""`},
		{`C:\weewx`, `"C:\\weewx"`},
		{"a\tb", "\"a\tb\""},
		{"line\nbreak", `"line\nbreak"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quoteField(tt.in), "input %q", tt.in)
	}
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }
