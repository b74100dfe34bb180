package rules

import (
	"fmt"

	"coldroute/internal/model"
)

// ActionKind is the closed action vocabulary. Unknown kinds are rejected at
// compile time, never dispatched on at runtime.
type ActionKind string

const (
	// constraint actions: hard filters on candidate vehicles
	ActionRequireVehicleZone    ActionKind = "require_vehicle_zone"
	ActionRequireCapacityKg     ActionKind = "require_capacity_kg"
	ActionRequireCapacityPallet ActionKind = "require_capacity_pallets"
	ActionRequireDriverSkill    ActionKind = "require_driver_skill"
	ActionMaxDistanceKm         ActionKind = "max_distance_km" // straight-line vehicle-to-pickup km

	// assignment actions: how to pick among surviving vehicles
	ActionAssignStrategy ActionKind = "assign_strategy"
	ActionAssignTo       ActionKind = "assign_to"

	// optimization actions: soft weights fed into solver objectives
	ActionPreferVehicleZone ActionKind = "prefer_vehicle_zone"
	ActionPriorityWeight    ActionKind = "priority_weight"
)

// Assignment strategies selectable by assign_strategy.
const (
	StrategyNearest         = "nearest"
	StrategyPreferredDriver = "preferred_driver"
	StrategyRoundRobin      = "round_robin"
)

// Action is one declared rule action. Kind selects which value field carries
// the payload; application points switch exhaustively on Kind.
type Action struct {
	Kind ActionKind
	Str  string  // zone, skill, strategy, vehicle id
	Num  float64 // capacity, distance, weight
}

// IsConstraint reports whether the action is a hard vehicle filter.
func (a Action) IsConstraint() bool {
	switch a.Kind {
	case ActionRequireVehicleZone, ActionRequireCapacityKg, ActionRequireCapacityPallet,
		ActionRequireDriverSkill, ActionMaxDistanceKm:
		return true
	}
	return false
}

// ParseAction decodes a raw action object. Accepted forms are explicit
// ({"type": "require_driver_skill", "value": "forklift"}) and shorthand
// ({"require_driver_skill": "forklift"}).
func ParseAction(raw map[string]any) (Action, error) {
	kind, value, err := actionKindValue(raw)
	if err != nil {
		return Action{}, err
	}
	switch kind {
	case ActionRequireVehicleZone, ActionPreferVehicleZone:
		s, ok := value.(string)
		if !ok || !validZone(s) {
			return Action{}, &MalformedRuleError{Detail: fmt.Sprintf("%s requires a temperature zone, got %v", kind, value)}
		}
		return Action{Kind: kind, Str: s}, nil
	case ActionRequireDriverSkill, ActionAssignTo:
		s, ok := value.(string)
		if !ok || s == "" {
			return Action{}, &MalformedRuleError{Detail: fmt.Sprintf("%s requires a non-empty string", kind)}
		}
		return Action{Kind: kind, Str: s}, nil
	case ActionAssignStrategy:
		s, _ := value.(string)
		switch s {
		case StrategyNearest, StrategyPreferredDriver, StrategyRoundRobin:
			return Action{Kind: kind, Str: s}, nil
		}
		return Action{}, &MalformedRuleError{Detail: fmt.Sprintf("unknown assignment strategy %v", value)}
	case ActionRequireCapacityKg, ActionRequireCapacityPallet, ActionMaxDistanceKm, ActionPriorityWeight:
		n, ok := toFloat(value)
		if !ok || n < 0 {
			return Action{}, &MalformedRuleError{Detail: fmt.Sprintf("%s requires a non-negative number, got %v", kind, value)}
		}
		return Action{Kind: kind, Num: n}, nil
	}
	return Action{}, &MalformedRuleError{Detail: fmt.Sprintf("unknown action %q", kind)}
}

func actionKindValue(raw map[string]any) (ActionKind, any, error) {
	if t, ok := raw["type"]; ok {
		s, _ := t.(string)
		return canonicalKind(s), raw["value"], nil
	}
	if len(raw) == 1 {
		for k, v := range raw {
			return canonicalKind(k), v, nil
		}
	}
	return "", nil, &MalformedRuleError{Detail: "action must be {type, value} or a single-key object"}
}

// canonicalKind folds legacy spellings onto the closed vocabulary.
func canonicalKind(s string) ActionKind {
	switch s {
	case "require_vehicle_type":
		return ActionRequireVehicleZone
	case "require_capacity":
		return ActionRequireCapacityKg
	case "max_distance":
		return ActionMaxDistanceKm
	case "prefer_vehicle_type":
		return ActionPreferVehicleZone
	}
	return ActionKind(s)
}

func validZone(s string) bool {
	switch model.TempZone(s) {
	case model.ZoneFrozen, model.ZoneChilled, model.ZoneAmbient:
		return true
	}
	return false
}
