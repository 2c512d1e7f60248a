package models

// Sample is the normalized wire unit sent to Zabbix: one item value for one
// host at one point in time.
type Sample struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Clock int64  `json:"clock"`
}

// Entry is a sample together with the number of delivery attempts it has
// already been part of.
type Entry struct {
	Sample   Sample `json:"sample"`
	Attempts int    `json:"attempts"`
}
