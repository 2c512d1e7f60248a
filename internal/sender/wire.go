package sender

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// EncodeLines renders batch in the zabbix_sender input-file format, one
// "<host> <key> <value>" line per sample in batch order. With timestamps
// the line becomes "<host> <key> <clock> <value>" (zabbix_sender -T).
// The output depends only on the batch, so redelivery is byte-identical.
func EncodeLines(batch models.Batch, timestamps bool) []byte {
	var buf bytes.Buffer
	for i := 0; i < batch.Len(); i++ {
		s := batch.Sample(i)
		buf.WriteString(quoteField(s.Host))
		buf.WriteByte(' ')
		buf.WriteString(quoteField(s.Key))
		buf.WriteByte(' ')
		if timestamps {
			buf.WriteString(strconv.FormatInt(s.Clock, 10))
			buf.WriteByte(' ')
		}
		buf.WriteString(quoteField(s.Value))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// quoteField double-quotes a field when zabbix_sender would otherwise split
// or misread it.
func quoteField(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"\\\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
