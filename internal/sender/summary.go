package sender

import (
	"fmt"
	"regexp"
	"strconv"
)

// Summary is the per-batch answer of the Zabbix trapper:
// "processed: 2; failed: 1; total: 3; seconds spent: 0.000055".
type Summary struct {
	Processed int
	Failed    int
	Total     int
	Raw       string
}

var summaryPattern = regexp.MustCompile(`processed:\s*(\d+);\s*failed:\s*(\d+);\s*total:\s*(\d+)`)

// ParseSummary extracts the counts from trapper info text or zabbix_sender
// output. When the text holds several summaries (zabbix_sender prints one
// per chunk of 250 values) the counts are summed.
func ParseSummary(text string) (Summary, error) {
	matches := summaryPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return Summary{Raw: text}, fmt.Errorf("no processed/failed/total summary in %q", text)
	}
	s := Summary{Raw: text}
	for _, m := range matches {
		processed, _ := strconv.Atoi(m[1])
		failed, _ := strconv.Atoi(m[2])
		total, _ := strconv.Atoi(m[3])
		s.Processed += processed
		s.Failed += failed
		s.Total += total
	}
	return s, nil
}
