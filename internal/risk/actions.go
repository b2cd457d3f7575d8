package risk

import "hyperlocal/internal/types"

// ActionRegistry returns the prescriptive actions for a trigger type at a
// risk level. Unknown keys return the generic fallback list.
type ActionRegistry interface {
	Actions(t types.TriggerType, level types.RiskLevel) []string
}

// ActionTable is the map-backed ActionRegistry.
type ActionTable struct {
	table map[types.TriggerType]map[types.RiskLevel][]string
}

var fallbackActions = []string{
	"Review alert conditions",
	"Contact affected policyholders",
}

var defaultActions = map[types.TriggerType]map[types.RiskLevel][]string{
	types.TriggerRainfall: {
		types.RiskLow: {
			"Monitor rainfall accumulation",
		},
		types.RiskMedium: {
			"Alert policyholders in affected area",
			"Prepare claims processing team",
		},
		types.RiskHigh: {
			"Deploy emergency drainage equipment",
			"Alert policyholders in affected area",
			"Prepare claims processing team",
		},
		types.RiskCritical: {
			"Activate flood response protocol",
			"Notify policyholders in affected zone",
			"Deploy emergency drainage equipment",
			"Prepare claims processing team",
		},
	},
	types.TriggerWindSpeed: {
		types.RiskLow: {
			"Monitor wind conditions",
		},
		types.RiskMedium: {
			"Issue high wind warning to policyholders",
		},
		types.RiskHigh: {
			"Issue high wind warning to policyholders",
			"Pre-position damage assessment teams",
			"Review building coverage limits",
		},
		types.RiskCritical: {
			"Activate storm response protocol",
			"Issue high wind warning to policyholders",
			"Pre-position damage assessment teams",
			"Review building coverage limits",
		},
	},
	types.TriggerTemperature: {
		types.RiskLow: {
			"Monitor for heat/cold damage claims",
		},
		types.RiskMedium: {
			"Monitor for heat/cold damage claims",
			"Alert agricultural policyholders",
		},
		types.RiskHigh: {
			"Alert agricultural policyholders",
			"Review temperature-sensitive policies",
			"Monitor for heat/cold damage claims",
		},
		types.RiskCritical: {
			"Activate extreme temperature response",
			"Alert agricultural policyholders",
			"Review temperature-sensitive policies",
		},
	},
}

// NewActionTable copies the action section of p.
func NewActionTable(p Policy) *ActionTable {
	table := make(map[types.TriggerType]map[types.RiskLevel][]string, len(p.Actions))
	for tt, levels := range p.Actions {
		table[tt] = make(map[types.RiskLevel][]string, len(levels))
		for lvl, actions := range levels {
			table[tt][lvl] = append([]string(nil), actions...)
		}
	}
	return &ActionTable{table: table}
}

// Actions returns a copy so callers can store it on an alert.
func (a *ActionTable) Actions(t types.TriggerType, level types.RiskLevel) []string {
	if actions, ok := a.table[t][level]; ok && len(actions) > 0 {
		return append([]string(nil), actions...)
	}
	return append([]string(nil), fallbackActions...)
}
