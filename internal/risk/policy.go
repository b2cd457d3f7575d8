package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hyperlocal/internal/types"
)

// Span controls how quickly the score saturates for a trigger type.
type Span struct {
	Factor float64 `yaml:"factor"`
	Min    float64 `yaml:"min"`
}

// Policy is the tunable part of risk scoring: per-type spans and the
// (trigger_type, risk_level) action table.
type Policy struct {
	Spans   map[types.TriggerType]Span                         `yaml:"spans"`
	Actions map[types.TriggerType]map[types.RiskLevel][]string `yaml:"actions"`
}

var fallbackSpan = Span{Factor: 1, Min: 1}

// DefaultPolicy returns the built-in spans and actions.
func DefaultPolicy() Policy {
	p := Policy{
		Spans: map[types.TriggerType]Span{
			types.TriggerRainfall:    {Factor: 1, Min: 1},  // mm/h
			types.TriggerWindSpeed:   {Factor: 1, Min: 1},  // m/s
			types.TriggerTemperature: {Factor: 0, Min: 10}, // degrees C
		},
		Actions: make(map[types.TriggerType]map[types.RiskLevel][]string, len(defaultActions)),
	}
	for tt, levels := range defaultActions {
		p.Actions[tt] = make(map[types.RiskLevel][]string, len(levels))
		for lvl, actions := range levels {
			p.Actions[tt][lvl] = append([]string(nil), actions...)
		}
	}
	return p
}

// LoadPolicyFile reads a YAML policy and merges it over DefaultPolicy. Spans
// replace the default for their trigger type; action lists replace the
// default for their (type, level) key. An empty path returns the defaults.
//
//	spans:
//	  rainfall: {factor: 0.5, min: 2}
//	actions:
//	  rainfall:
//	    critical: ["Activate flood response protocol"]
func LoadPolicyFile(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read risk policy %s: %w", path, err)
	}

	var override Policy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return p, fmt.Errorf("parse risk policy %s: %w", path, err)
	}

	for tt, span := range override.Spans {
		p.Spans[tt] = span
	}
	for tt, levels := range override.Actions {
		if p.Actions[tt] == nil {
			p.Actions[tt] = make(map[types.RiskLevel][]string, len(levels))
		}
		for lvl, actions := range levels {
			p.Actions[tt][lvl] = actions
		}
	}

	if err := p.Validate(); err != nil {
		return DefaultPolicy(), fmt.Errorf("risk policy %s: %w", path, err)
	}
	return p, nil
}

// Validate rejects spans that could divide by zero and unknown keys.
func (p Policy) Validate() error {
	for tt, span := range p.Spans {
		if !tt.Valid() {
			return fmt.Errorf("unknown trigger type %q in spans", tt)
		}
		if span.Min <= 0 || span.Factor < 0 {
			return fmt.Errorf("span for %s needs min > 0 and factor >= 0", tt)
		}
	}
	for tt, levels := range p.Actions {
		if !tt.Valid() {
			return fmt.Errorf("unknown trigger type %q in actions", tt)
		}
		for lvl := range levels {
			if !lvl.Valid() {
				return fmt.Errorf("unknown risk level %q for %s", lvl, tt)
			}
		}
	}
	return nil
}
