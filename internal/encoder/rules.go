package encoder

import "fmt"

// Rule selects how an observation field is rendered into a sample value.
type Rule string

const (
	// RulePassthrough stringifies the value with Stringify.
	RulePassthrough Rule = "string-passthrough"
	// RuleRawNumber requires a numeric value and renders it in plain decimal.
	RuleRawNumber Rule = "raw-number"
	// RuleCompass renders a direction in degrees as a 16-point ordinal.
	RuleCompass Rule = "compass-ordinal"
	// RuleExclude drops the field without reporting it.
	RuleExclude Rule = "exclude"
)

// ParseRule validates a rule name from configuration.
func ParseRule(s string) (Rule, error) {
	switch r := Rule(s); r {
	case RulePassthrough, RuleRawNumber, RuleCompass, RuleExclude:
		return r, nil
	default:
		return "", fmt.Errorf("unknown rendering rule %q", s)
	}
}

// DefaultRules mirrors the weewx service: wind directions are sent as
// compass ordinals, everything else is passed through.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"windDir":     RuleCompass,
		"windGustDir": RuleCompass,
	}
}
