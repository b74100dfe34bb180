package redispatch

import (
	"sort"

	"github.com/google/uuid"

	"coldroute/internal/model"
)

// OrderMove records one order changing vehicles between plans. FromVehicle
// is empty when the order was previously unassigned.
type OrderMove struct {
	OrderID     string `json:"orderId"`
	FromVehicle string `json:"fromVehicle,omitempty"`
	ToVehicle   string `json:"toVehicle,omitempty"`
}

// PlanDiff is the coordinator's output: what would change if the proposed
// plan were accepted. The coordinator never applies it; Accept does.
type PlanDiff struct {
	ID          string              `json:"id"`
	Trigger     model.EventType     `json:"trigger"`
	Reassigned  []OrderMove         `json:"reassigned"`
	Gained      map[string][]string `json:"gained"` // vehicleID -> order ids added
	Lost        map[string][]string `json:"lost"`   // vehicleID -> order ids removed
	OldCost     float64             `json:"oldCost"`
	NewCost     float64             `json:"newCost"`
	OldVersion  int                 `json:"oldVersion"`
	Proposed    model.RoutePlan     `json:"proposed"`
	SavingsPct  float64             `json:"savingsPct"`
	Unassigned  []string            `json:"unassigned,omitempty"`
	SolveStatus string              `json:"solveStatus"`
}

// Empty reports whether accepting the diff would change any assignment.
func (d PlanDiff) Empty() bool {
	return len(d.Reassigned) == 0 && len(d.Gained) == 0 && len(d.Lost) == 0
}

// diffPlans compares order-to-vehicle assignments between two plans. Frozen
// stops never appear: they are carried identically into the proposed plan
// before diffing, so their orders have the same vehicle on both sides.
func diffPlans(trigger model.EventType, old, proposed model.RoutePlan) PlanDiff {
	d := PlanDiff{
		ID:         uuid.New().String(),
		Trigger:    trigger,
		Gained:     map[string][]string{},
		Lost:       map[string][]string{},
		OldCost:    old.Cost,
		NewCost:    proposed.Cost,
		OldVersion: old.Version,
		Proposed:   proposed,
	}
	if old.Cost > 0 {
		d.SavingsPct = (old.Cost - proposed.Cost) / old.Cost * 100
	}

	oldV := assignmentOf(old)
	newV := assignmentOf(proposed)

	ids := map[string]bool{}
	for id := range oldV {
		ids[id] = true
	}
	for id := range newV {
		ids[id] = true
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		from, to := oldV[id], newV[id]
		if from == to {
			continue
		}
		d.Reassigned = append(d.Reassigned, OrderMove{OrderID: id, FromVehicle: from, ToVehicle: to})
		if to != "" {
			d.Gained[to] = append(d.Gained[to], id)
		}
		if from != "" {
			d.Lost[from] = append(d.Lost[from], id)
		}
	}
	return d
}

func assignmentOf(p model.RoutePlan) map[string]string {
	out := map[string]string{}
	for _, r := range p.Routes {
		for _, id := range r.OrderIDs() {
			out[id] = r.VehicleID
		}
	}
	return out
}
