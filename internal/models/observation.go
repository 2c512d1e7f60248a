// Package models defines the data structures that flow through the bridge:
// observations received from the weather station, the samples encoded from
// them, the sealed batches handed to a relay, and the delivery outcomes.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Field is a single named reading inside an Observation.
// Value is a float64, an integer, a string, a bool, or nil when the station
// reported the reading as missing.
type Field struct {
	Name  string
	Value any
}

// Observation is one timestamped set of readings from a single source.
// It is treated as immutable once received.
type Observation struct {
	Source string
	Time   time.Time
	Fields []Field
}

// Get returns the value of the first field with the given name.
func (o Observation) Get(name string) (any, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// packetTimeKey is the weewx packet key carrying the observation time in
// seconds since the epoch.
const packetTimeKey = "dateTime"

// DecodePacket parses a weewx packet rendered as a JSON object into an
// Observation. Key order is preserved; the dateTime key becomes the
// observation time and is not emitted as a field. When dateTime is absent
// the fallback time is used.
func DecodePacket(data []byte, source string, fallback time.Time) (Observation, error) {
	obs := Observation{Source: source, Time: fallback}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return obs, fmt.Errorf("decode packet: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return obs, fmt.Errorf("decode packet: expected JSON object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return obs, fmt.Errorf("decode packet key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return obs, fmt.Errorf("decode packet: unexpected key token %v", tok)
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return obs, fmt.Errorf("decode packet value %q: %w", key, err)
		}
		value := normalizeJSON(raw)

		if key == packetTimeKey {
			ts, ok := value.(float64)
			if !ok {
				if n, isInt := value.(int64); isInt {
					ts, ok = float64(n), true
				}
			}
			if !ok {
				return obs, fmt.Errorf("decode packet: %s is not numeric", packetTimeKey)
			}
			obs.Time = time.Unix(int64(ts), 0).UTC()
			continue
		}
		obs.Fields = append(obs.Fields, Field{Name: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return obs, fmt.Errorf("decode packet: %w", err)
	}
	return obs, nil
}

// normalizeJSON turns json.Number into int64 when the literal is integral
// and float64 otherwise. Nested objects and arrays are kept as decoded.
func normalizeJSON(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
