package redispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coldroute/internal/config"
	"coldroute/internal/distance"
	"coldroute/internal/feed"
	"coldroute/internal/model"
	"coldroute/internal/store"
)

const partition = "default"

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Optimization.MaxTimeSeconds = 2
	return cfg
}

func seedFleet(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	vehicles := []model.Vehicle{
		{ID: "v1", Zones: []model.TempZone{model.ZoneChilled}, CapPallets: 10, Location: model.GeoPoint{Lat: 48.85, Lng: 2.35}, Status: model.VehicleAssigned},
		{ID: "v2", Zones: []model.TempZone{model.ZoneChilled}, CapPallets: 10, Location: model.GeoPoint{Lat: 48.86, Lng: 2.36}, Status: model.VehicleAvailable},
	}
	for _, v := range vehicles {
		require.NoError(t, st.UpsertVehicle(ctx, v))
	}
	orders := []model.Order{
		{ID: "in-transit", Zone: model.ZoneChilled, Pallets: 2, Pickup: model.GeoPoint{Lat: 48.85, Lng: 2.35}, Delivery: model.GeoPoint{Lat: 48.87, Lng: 2.38}, Status: model.OrderInTransit},
		{ID: "pending-1", Zone: model.ZoneChilled, Pallets: 2, Pickup: model.GeoPoint{Lat: 48.84, Lng: 2.33}, Delivery: model.GeoPoint{Lat: 48.83, Lng: 2.31}, Status: model.OrderAssigned},
		{ID: "pending-2", Zone: model.ZoneChilled, Pallets: 3, Pickup: model.GeoPoint{Lat: 48.88, Lng: 2.40}, Delivery: model.GeoPoint{Lat: 48.89, Lng: 2.42}, Status: model.OrderAssigned},
	}
	for _, o := range orders {
		require.NoError(t, st.UpsertOrder(ctx, o))
	}
}

// seedPlan commits a plan where v1 carries every order: an in-transit
// delivery (its pickup already completed) plus two still-pending orders.
func seedPlan(t *testing.T, st store.Store) model.RoutePlan {
	t.Helper()
	stop := func(orderID string, kind model.StopKind, status model.StopStatus, lat, lng float64) model.Stop {
		return model.Stop{ID: orderID + "-" + string(kind), OrderID: orderID, Kind: kind, Status: status, Location: model.GeoPoint{Lat: lat, Lng: lng}}
	}
	plan := model.RoutePlan{
		ID: "plan-1",
		Routes: []model.VehicleRoute{{
			VehicleID: "v1",
			Stops: []model.Stop{
				stop("in-transit", model.StopPickup, model.StopCompleted, 48.85, 2.35),
				stop("in-transit", model.StopDelivery, model.StopFrozen, 48.87, 2.38),
				stop("pending-1", model.StopPickup, model.StopPending, 48.84, 2.33),
				stop("pending-1", model.StopDelivery, model.StopPending, 48.83, 2.31),
				stop("pending-2", model.StopPickup, model.StopPending, 48.88, 2.40),
				stop("pending-2", model.StopDelivery, model.StopPending, 48.89, 2.42),
			},
			DistanceKm: 20,
		}},
		Cost: 20,
	}
	committed, err := st.SwapPlan(context.Background(), partition, 0, plan)
	require.NoError(t, err)
	return committed
}

func newTestCoordinator(st store.Store) *Coordinator {
	return NewCoordinator(st, feed.NewMemory(), distance.NewHaversine(40), testConfig(), nil, nil)
}

func TestEvaluateBreakdownFreezesInTransit(t *testing.T) {
	st := store.NewMemory()
	seedFleet(t, st)
	seedPlan(t, st)
	require.NoError(t, st.SetVehicleStatus(context.Background(), "v1", model.VehicleBreakdown))

	c := newTestCoordinator(st)
	diff, err := c.Evaluate(context.Background(), partition, model.DispatchEvent{
		Type: model.EventBreakdown, VehicleID: "v1", TS: time.Now(),
	})
	require.NoError(t, err)
	require.False(t, diff.Empty())
	require.Equal(t, "solved", diff.SolveStatus)

	moved := map[string]OrderMove{}
	for _, m := range diff.Reassigned {
		moved[m.OrderID] = m
	}
	require.NotContains(t, moved, "in-transit", "in-transit orders are frozen, never reassigned")
	require.Contains(t, moved, "pending-1")
	require.Contains(t, moved, "pending-2")
	require.Equal(t, "v2", moved["pending-1"].ToVehicle)
	require.Equal(t, "v2", moved["pending-2"].ToVehicle)

	// The proposed plan keeps the frozen stops on the broken vehicle.
	v1 := diff.Proposed.RouteFor("v1")
	require.NotNil(t, v1)
	for _, s := range v1.Stops {
		require.Equal(t, "in-transit", s.OrderID)
	}
	require.Equal(t, StateReoptimized, c.State("v1"))
}

func TestEvaluateDelayBelowThresholdIsUnchanged(t *testing.T) {
	st := store.NewMemory()
	seedFleet(t, st)
	seedPlan(t, st)

	c := newTestCoordinator(st)
	diff, err := c.Evaluate(context.Background(), partition, model.DispatchEvent{
		Type: model.EventDelay, VehicleID: "v1", DelayMinutes: 10, TS: time.Now(),
	})
	require.NoError(t, err)
	require.True(t, diff.Empty(), "a 10 minute delay is under the 30 minute threshold")
	require.Equal(t, StateUnchanged, c.State("v1"))
}

func TestAcceptSwapsOnceThenConflicts(t *testing.T) {
	st := store.NewMemory()
	seedFleet(t, st)
	seedPlan(t, st)
	require.NoError(t, st.SetVehicleStatus(context.Background(), "v1", model.VehicleBreakdown))

	c := newTestCoordinator(st)
	diff, err := c.Evaluate(context.Background(), partition, model.DispatchEvent{
		Type: model.EventBreakdown, VehicleID: "v1", TS: time.Now(),
	})
	require.NoError(t, err)
	require.False(t, diff.Empty())

	committed, err := c.Accept(context.Background(), partition, diff)
	require.NoError(t, err)
	require.Equal(t, diff.OldVersion+1, committed.Version)

	// The same diff again carries a stale version: reject, never overwrite.
	_, err = c.Accept(context.Background(), partition, diff)
	require.ErrorIs(t, err, store.ErrPlanConflict)

	current, err := st.CurrentPlan(context.Background(), partition)
	require.NoError(t, err)
	require.Equal(t, committed.Version, current.Version)
}

func TestDiffPlans(t *testing.T) {
	route := func(vid string, orderIDs ...string) model.VehicleRoute {
		r := model.VehicleRoute{VehicleID: vid}
		for _, id := range orderIDs {
			r.Stops = append(r.Stops,
				model.Stop{OrderID: id, Kind: model.StopPickup, Status: model.StopPending},
				model.Stop{OrderID: id, Kind: model.StopDelivery, Status: model.StopPending},
			)
		}
		return r
	}
	old := model.RoutePlan{Version: 3, Cost: 100, Routes: []model.VehicleRoute{route("v1", "a", "b"), route("v2", "c")}}
	proposed := model.RoutePlan{Cost: 80, Routes: []model.VehicleRoute{route("v1", "a"), route("v2", "c", "b"), route("v3", "d")}}

	d := diffPlans(model.EventCostOpportunity, old, proposed)
	require.Equal(t, 3, d.OldVersion)
	require.InDelta(t, 20.0, d.SavingsPct, 1e-9)
	require.Len(t, d.Reassigned, 2)
	require.Equal(t, []string{"b", "d"}, []string{d.Reassigned[0].OrderID, d.Reassigned[1].OrderID})
	require.Equal(t, []string{"b"}, d.Gained["v2"])
	require.Equal(t, []string{"d"}, d.Gained["v3"])
	require.Equal(t, []string{"b"}, d.Lost["v1"])
	require.Empty(t, d.Lost["v2"])
}

// A rebuilt route keeps its frozen legs in the proposed cost; dropping them
// would let a cost-opportunity what-if report savings that are only the
// frozen work going missing from one side of the comparison.
func TestMergeKeepsFrozenLegCost(t *testing.T) {
	c := newTestCoordinator(store.NewMemory())

	frozen := []model.Stop{
		{OrderID: "in-transit", Kind: model.StopPickup, Status: model.StopCompleted, Location: model.GeoPoint{Lat: 48.85, Lng: 2.35}},
		{OrderID: "in-transit", Kind: model.StopDelivery, Status: model.StopFrozen, Location: model.GeoPoint{Lat: 49.20, Lng: 2.35}},
	}
	pending := []model.Stop{
		{OrderID: "p1", Kind: model.StopPickup, Status: model.StopPending, Location: model.GeoPoint{Lat: 48.86, Lng: 2.36}},
		{OrderID: "p1", Kind: model.StopDelivery, Status: model.StopPending, Location: model.GeoPoint{Lat: 48.87, Lng: 2.37}},
	}
	old := model.RoutePlan{
		Version: 1,
		Routes: []model.VehicleRoute{{
			VehicleID:  "v1",
			Stops:      append(append([]model.Stop(nil), frozen...), pending...),
			DistanceKm: 45,
		}},
		Cost: 45,
	}
	// p1 moves to v2; only the frozen stops stay on v1.
	solved := model.RoutePlan{Routes: []model.VehicleRoute{{
		VehicleID:  "v2",
		Stops:      pending,
		DistanceKm: 2,
	}}}
	sub := subProblem{affected: "v1", frozen: map[string][]model.Stop{"v1": frozen}}

	proposed := c.mergePlans(context.Background(), old, sub, solved)

	// The frozen leg is ~39 km; it must survive into the rebuilt cost.
	require.Greater(t, proposed.Cost, 35.0)
	d := diffPlans(model.EventCostOpportunity, old, proposed)
	require.Less(t, d.SavingsPct, 15.0)
}

// An urgent order carries no vehicle id; it must not unfreeze the committed
// routes. Only the unassigned order is handed to the solver.
func TestUrgentOrderHoldsCommittedRoutes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedFleet(t, st)
	plan := seedPlan(t, st)
	require.NoError(t, st.UpsertOrder(ctx, model.Order{
		ID: "urgent-1", Zone: model.ZoneChilled, Pallets: 1, Urgent: true,
		Pickup:   model.GeoPoint{Lat: 48.86, Lng: 2.37},
		Delivery: model.GeoPoint{Lat: 48.87, Lng: 2.39},
		Status:   model.OrderPending,
	}))

	c := newTestCoordinator(st)
	evt := model.DispatchEvent{Type: model.EventUrgentOrder, TS: time.Now()}

	sub, err := c.buildSubProblem(ctx, evt, plan)
	require.NoError(t, err)
	require.False(t, sub.fleetWide)
	require.Len(t, sub.movable, 1)
	require.Equal(t, "urgent-1", sub.movable[0].ID)
	require.Equal(t, "v1", sub.heldOrder["pending-1"], "committed pending orders stay held")
	require.Equal(t, "v1", sub.heldOrder["pending-2"])

	diff, err := c.Evaluate(ctx, partition, evt)
	require.NoError(t, err)
	require.False(t, diff.Empty())
	for _, m := range diff.Reassigned {
		require.Equal(t, "urgent-1", m.OrderID)
		require.Empty(t, m.FromVehicle, "no committed order changes vehicle")
	}
}

func TestVehicleFSMLifecycle(t *testing.T) {
	f := newFleetStates()
	ctx := context.Background()

	require.Equal(t, StateStable, f.State("v1"))
	require.NoError(t, f.event(ctx, "v1", eventTrigger))
	require.Equal(t, StateEvaluating, f.State("v1"))

	// A second trigger while evaluating is invalid: callers coalesce instead.
	require.Error(t, f.event(ctx, "v1", eventTrigger))

	require.NoError(t, f.event(ctx, "v1", eventReoptimize))
	require.Equal(t, StateReoptimized, f.State("v1"))
	require.NoError(t, f.event(ctx, "v1", eventSettle))
	require.Equal(t, StateStable, f.State("v1"))
}
