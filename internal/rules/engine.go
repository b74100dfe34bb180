package rules

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"coldroute/internal/distance"
	"coldroute/internal/metrics"
	"coldroute/internal/model"
)

// Candidate pairs a vehicle with its assigned driver for filtering.
type Candidate struct {
	Vehicle model.Vehicle
	Driver  *model.Driver
}

// Directive tells the caller how to pick among constraint-filtered vehicles.
type Directive struct {
	Strategy  string // nearest, preferred_driver, round_robin, assign_to, rank
	VehicleID string // set for assign_to
	RuleID    string // rule that produced the directive, empty on fallback
}

// StrategyRank is the fallback directive: defer to the multi-criteria ranker.
const StrategyRank = "rank"

// Engine turns evaluator output into constraint filters and assignment
// directives. It holds a compiled snapshot of the rule set; swap the engine,
// not its rules. Given the same rules and facts its decisions are
// deterministic, which keeps simulation runs reproducible.
type Engine struct {
	rules []CompiledRule
	log   *zap.Logger

	mu sync.Mutex
	rr uint64 // round-robin cursor
}

func NewEngine(ruleset []model.Rule, log *zap.Logger) (*Engine, error) {
	compiled, err := CompileAll(ruleset)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{rules: compiled, log: log}, nil
}

// SelectConstraints evaluates constraint-type rules against the order facts
// and applies every matched constraint action as a hard filter, ANDed
// together. A vehicle failing any filter is excluded, never penalized.
// Intrinsic feasibility (dispatchable, temperature zone, order fits physical
// capacity) is enforced before any rule runs.
func (e *Engine) SelectConstraints(order model.Order, client *model.Client, cands []Candidate, now time.Time) ([]Candidate, []Action, []error) {
	facts := BuildFacts(&order, client, nil, nil)
	matched, issues := Evaluate(e.constraintRules(), facts, now)
	e.observe(matched, issues)

	var constraints []Action
	for _, m := range matched {
		for _, a := range m.Actions {
			if a.IsConstraint() {
				constraints = append(constraints, a)
			}
		}
	}

	filtered := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if !baseEligible(order, c.Vehicle) {
			continue
		}
		if satisfiesAll(order, c, constraints) {
			filtered = append(filtered, c)
		}
	}
	return filtered, constraints, issues
}

// ChooseAssignmentPolicy returns the directive from the highest-priority
// matching assignment rule, or the ranker fallback. Assignment rules only
// take effect when the constraint-filtered set is non-empty.
func (e *Engine) ChooseAssignmentPolicy(order model.Order, client *model.Client, filtered []Candidate, now time.Time) Directive {
	if len(filtered) == 0 {
		return Directive{Strategy: StrategyRank}
	}
	facts := BuildFacts(&order, client, nil, nil)
	matched, issues := Evaluate(e.assignmentRules(), facts, now)
	e.observe(matched, issues)
	for _, m := range matched { // already (priority desc, id asc)
		for _, a := range m.Actions {
			switch a.Kind {
			case ActionAssignStrategy:
				return Directive{Strategy: a.Str, RuleID: m.Rule.ID}
			case ActionAssignTo:
				return Directive{Strategy: string(ActionAssignTo), VehicleID: a.Str, RuleID: m.Rule.ID}
			}
		}
	}
	return Directive{Strategy: StrategyRank}
}

// OptimizationHints returns matched optimization-type actions (soft weights)
// for the caller to fold into solver objectives.
func (e *Engine) OptimizationHints(order model.Order, client *model.Client, now time.Time) []Action {
	facts := BuildFacts(&order, client, nil, nil)
	matched, issues := Evaluate(e.optimizationRules(), facts, now)
	e.observe(matched, issues)
	var out []Action
	for _, m := range matched {
		out = append(out, m.Actions...)
	}
	return out
}

// PickVehicle resolves a directive to a concrete candidate. The second return
// is false when the directive cannot be satisfied (e.g. assign_to names a
// vehicle outside the filtered set); callers then fall back to the ranker.
func (e *Engine) PickVehicle(d Directive, order model.Order, client *model.Client, filtered []Candidate) (Candidate, bool) {
	if len(filtered) == 0 {
		return Candidate{}, false
	}
	sorted := append([]Candidate(nil), filtered...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Vehicle.ID < sorted[j].Vehicle.ID })

	switch d.Strategy {
	case StrategyNearest:
		best := sorted[0]
		bestKm := distance.HaversineKm(best.Vehicle.Location, order.Pickup)
		for _, c := range sorted[1:] {
			if km := distance.HaversineKm(c.Vehicle.Location, order.Pickup); km < bestKm {
				best, bestKm = c, km
			}
		}
		return best, true
	case StrategyPreferredDriver:
		if client != nil {
			for _, c := range sorted {
				if c.Driver == nil {
					continue
				}
				for _, pref := range client.PreferredDrivers {
					if c.Driver.ID == pref {
						return c, true
					}
				}
			}
		}
		// no preferred driver available: nearest wins
		return e.PickVehicle(Directive{Strategy: StrategyNearest}, order, client, sorted)
	case StrategyRoundRobin:
		e.mu.Lock()
		idx := int(e.rr % uint64(len(sorted)))
		e.rr++
		e.mu.Unlock()
		return sorted[idx], true
	case string(ActionAssignTo):
		for _, c := range sorted {
			if c.Vehicle.ID == d.VehicleID {
				return c, true
			}
		}
		return Candidate{}, false
	}
	return Candidate{}, false
}

func baseEligible(order model.Order, v model.Vehicle) bool {
	if !v.Dispatchable() || !v.SupportsZone(order.Zone) {
		return false
	}
	if v.CapPallets > 0 && order.Pallets > v.CapPallets {
		return false
	}
	if v.CapWeightKg > 0 && order.WeightKg > v.CapWeightKg {
		return false
	}
	if v.CapVolumeM3 > 0 && order.VolumeM3 > v.CapVolumeM3 {
		return false
	}
	return true
}

func satisfiesAll(order model.Order, c Candidate, constraints []Action) bool {
	for _, a := range constraints {
		switch a.Kind {
		case ActionRequireVehicleZone:
			if !c.Vehicle.SupportsZone(model.TempZone(a.Str)) {
				return false
			}
		case ActionRequireCapacityKg:
			if c.Vehicle.CapWeightKg < a.Num {
				return false
			}
		case ActionRequireCapacityPallet:
			if float64(c.Vehicle.CapPallets) < a.Num {
				return false
			}
		case ActionRequireDriverSkill:
			if c.Driver == nil || !c.Driver.HasSkill(a.Str) {
				return false
			}
		case ActionMaxDistanceKm:
			// Straight-line km, always: constraint filtering never calls
			// the routed provider, so the same pair filters the same way
			// no matter which provider the solver is configured with.
			if distance.HaversineKm(c.Vehicle.Location, order.Pickup) > a.Num {
				return false
			}
		}
	}
	return true
}

// observe logs evaluation issues and feeds the counters. A rule that errors
// is skipped for the current decision, never fatal.
func (e *Engine) observe(matched []MatchedRule, issues []error) {
	metrics.RuleEvaluations.WithLabelValues("matched").Add(float64(len(matched)))
	metrics.RuleEvaluations.WithLabelValues("error").Add(float64(len(issues)))
	for _, err := range issues {
		e.log.Warn("rule evaluation issue", zap.Error(err))
	}
}

func (e *Engine) constraintRules() []CompiledRule   { return e.byType(model.RuleConstraint) }
func (e *Engine) assignmentRules() []CompiledRule   { return e.byType(model.RuleAssignment) }
func (e *Engine) optimizationRules() []CompiledRule { return e.byType(model.RuleOptimization) }

func (e *Engine) byType(t model.RuleType) []CompiledRule {
	out := make([]CompiledRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Rule.Type == t {
			out = append(out, r)
		}
	}
	return out
}
