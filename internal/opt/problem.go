package opt

import (
	"time"

	"coldroute/internal/distance"
	"coldroute/internal/model"
)

// Problem is the CVRPTW instance handed to Solve: one start node per vehicle,
// one pickup and one matching delivery node per order.
type Problem struct {
	Orders   []model.Order
	Vehicles []model.Vehicle
	Provider distance.Provider

	// Objective weights: distance (km), waiting (min), lateness (min).
	// Zero map falls back to pure distance.
	Objectives map[string]float64

	// DepartAt anchors the schedule; time windows are absolute.
	DepartAt time.Time

	// MaxLateMinutes is the hard lateness threshold. Arrivals later than
	// window end by more than this make the insertion infeasible; anything
	// under it is accepted with a per-minute penalty.
	MaxLateMinutes float64

	Seed            int64
	IterationsLimit int
	InitialTemp     float64
	Cooling         float64
}

// Status classifies a solve outcome. All three are expected results, not
// errors; the caller decides whether to drop, relax, or escalate.
type Status int

const (
	// Solved: every order assigned and the search converged in budget.
	Solved Status = iota
	// Infeasible: at least one order cannot satisfy hard constraints on any
	// vehicle. Plan still covers the assignable remainder.
	Infeasible
	// TimedOut: budget exhausted or context cancelled before convergence;
	// Plan is the best feasible solution found so far.
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Solved:
		return "solved"
	case Infeasible:
		return "infeasible"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Result is the solve output.
type Result struct {
	Status     Status
	Plan       model.RoutePlan
	Unassigned []string // order ids that fit no vehicle
	Cost       float64
	Metrics    Metrics
}

// Metrics tracks search behavior for auditing and weight tuning.
type Metrics struct {
	RemovalSelects        [2]int // random, shaw
	InsertSelects         [2]int // greedy, regret2
	Iterations            int
	Improvements          int
	AcceptedWorse         int
	BestCost              float64
	FinalCost             float64
	FinalRemovalWeights   [2]float64
	FinalInsertionWeights [2]float64
	Snapshots             []WeightSnapshot
}

type WeightSnapshot struct {
	Iteration int
	Removal   [2]float64
	Insertion [2]float64
}
