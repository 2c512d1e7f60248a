// Package encoder turns weather observations into Zabbix samples.
//
// Encoding is pure and total: a field that cannot be rendered is reported
// back as skipped and the remaining fields are still encoded.
package encoder

import (
	"github.com/weewx-zbxsender/bridge/internal/models"
)

// Encoder holds the prefix, host label and rendering rules applied to every
// observation.
type Encoder struct {
	prefix string
	host   string
	rules  map[string]Rule
}

// New creates an Encoder. A nil rules map means DefaultRules. Names listed
// in exclude are dropped regardless of their rule.
func New(prefix, host string, rules map[string]Rule, exclude []string) *Encoder {
	if rules == nil {
		rules = DefaultRules()
	}
	table := make(map[string]Rule, len(rules)+len(exclude))
	for name, r := range rules {
		table[name] = r
	}
	for _, name := range exclude {
		table[name] = RuleExclude
	}
	return &Encoder{prefix: prefix, host: host, rules: table}
}

// Prefix returns the key prefix.
func (e *Encoder) Prefix() string { return e.prefix }

// Host returns the configured host label.
func (e *Encoder) Host() string { return e.host }

// Rule returns the rendering rule for a field name.
func (e *Encoder) Rule(name string) Rule {
	if r, ok := e.rules[name]; ok {
		return r
	}
	return RulePassthrough
}

// Encode expands obs into one sample per field in field order. Fields that
// cannot be rendered are returned as EncodeErrors instead.
func (e *Encoder) Encode(obs models.Observation) ([]models.Sample, []*models.EncodeError) {
	host := e.host
	if host == "" {
		host = obs.Source
	}
	clock := obs.Time.Unix()

	samples := make([]models.Sample, 0, len(obs.Fields))
	var skipped []*models.EncodeError
	seen := make(map[string]struct{}, len(obs.Fields))

	for _, f := range obs.Fields {
		rule := e.Rule(f.Name)
		if rule == RuleExclude {
			continue
		}
		if _, dup := seen[f.Name]; dup {
			skipped = append(skipped, &models.EncodeError{Field: f.Name, Reason: "duplicate field"})
			continue
		}
		seen[f.Name] = struct{}{}

		value, reason := render(rule, f.Value)
		if reason != "" {
			skipped = append(skipped, &models.EncodeError{Field: f.Name, Reason: reason})
			continue
		}
		samples = append(samples, models.Sample{
			Host:  host,
			Key:   e.prefix + f.Name,
			Value: value,
			Clock: clock,
		})
	}
	return samples, skipped
}

// render applies rule to v. A non-empty reason means the value was not
// renderable.
func render(rule Rule, v any) (string, string) {
	if v == nil {
		return "", "missing value"
	}
	switch rule {
	case RuleCompass:
		deg, ok := toFloat(v)
		if !ok {
			return "", "direction is not a finite number"
		}
		return Compass(deg), ""
	case RuleRawNumber:
		if _, ok := toFloat(v); !ok {
			return "", "value is not a finite number"
		}
		s, _ := Stringify(v)
		return s, ""
	default:
		s, ok := Stringify(v)
		if !ok {
			return "", "value is not a finite number"
		}
		return s, ""
	}
}
