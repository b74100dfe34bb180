package redispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"coldroute/internal/auditlog"
	"coldroute/internal/config"
	"coldroute/internal/distance"
	"coldroute/internal/feed"
	"coldroute/internal/metrics"
	"coldroute/internal/model"
	"coldroute/internal/opt"
	"coldroute/internal/store"
)

// ErrBusy is returned when a vehicle already has an evaluation in flight.
// The caller's trigger is coalesced into the in-flight result.
var ErrBusy = errors.New("evaluation in flight")

// Coordinator watches the event feed and decides when a committed plan is
// worth re-solving. Its output is always a PlanDiff; mutation of the stored
// plan happens only in Accept.
type Coordinator struct {
	store  store.Store
	broker feed.Broker
	prov   distance.Provider
	cfg    config.Config
	log    *zap.Logger
	audit  *auditlog.Publisher

	states *fleetStates
	flight singleflight.Group
	whatIf *rate.Limiter

	mu      sync.Mutex
	backlog []model.DispatchEvent
}

func NewCoordinator(st store.Store, broker feed.Broker, prov distance.Provider, cfg config.Config, audit *auditlog.Publisher, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	perMin := cfg.Coordinator.WhatIfPerMinute
	if perMin <= 0 {
		perMin = 1
	}
	return &Coordinator{
		store:  st,
		broker: broker,
		prov:   prov,
		cfg:    cfg,
		log:    log,
		audit:  audit,
		states: newFleetStates(),
		whatIf: rate.NewLimiter(rate.Limit(perMin/60.0), 1),
	}
}

// State exposes the per-vehicle FSM state, for observability.
func (c *Coordinator) State(vehicleID string) string { return c.states.State(vehicleID) }

// Run is the trigger-checking loop for one fleet partition. Events are
// collected as they arrive and evaluated on the tick; the loop exits when
// ctx is done.
func (c *Coordinator) Run(ctx context.Context, partition string) error {
	ch := c.broker.Subscribe(partition)
	defer c.broker.Unsubscribe(partition, ch)

	tick := c.cfg.Coordinator.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			metrics.RedispatchTriggers.WithLabelValues(string(evt.Type)).Inc()
			c.mu.Lock()
			c.backlog = append(c.backlog, evt)
			c.mu.Unlock()
		case <-ticker.C:
			c.processTick(ctx, partition)
		}
	}
}

// processTick drains the backlog and evaluates each distinct trigger on a
// bounded worker pool. Multiple events for the same vehicle collapse to one
// evaluation via singleflight.
func (c *Coordinator) processTick(ctx context.Context, partition string) {
	c.mu.Lock()
	events := c.backlog
	c.backlog = nil
	c.mu.Unlock()
	if len(events) == 0 {
		return
	}

	workers := c.cfg.Coordinator.SolveWorkers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, evt := range events {
		evt := evt
		g.Go(func() error {
			diff, err := c.Evaluate(gctx, partition, evt)
			if err != nil {
				if !errors.Is(err, ErrBusy) {
					c.log.Warn("evaluation failed", zap.String("event", string(evt.Type)), zap.Error(err))
					metrics.RedispatchOutcomes.WithLabelValues("error").Inc()
				}
				return nil
			}
			if diff.Empty() {
				return nil
			}
			if _, err := c.Accept(gctx, partition, diff); err != nil && !errors.Is(err, store.ErrPlanConflict) {
				c.log.Warn("accept failed", zap.String("diff", diff.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Evaluate runs one trigger against the committed plan and returns the
// resulting diff. It never mutates the stored plan. A second trigger for the
// same vehicle while one is evaluating shares the in-flight result.
func (c *Coordinator) Evaluate(ctx context.Context, partition string, evt model.DispatchEvent) (PlanDiff, error) {
	key := evt.VehicleID
	if key == "" {
		key = "fleet:" + string(evt.Type)
	}
	v, err, shared := c.flight.Do(key, func() (any, error) {
		return c.evaluate(ctx, partition, evt)
	})
	if err != nil {
		return PlanDiff{}, err
	}
	if shared {
		c.log.Debug("coalesced trigger", zap.String("key", key), zap.String("event", string(evt.Type)))
	}
	return v.(PlanDiff), nil
}

func (c *Coordinator) evaluate(ctx context.Context, partition string, evt model.DispatchEvent) (diff PlanDiff, err error) {
	started := time.Now()

	if evt.VehicleID != "" {
		c.settle(evt.VehicleID) // clear a previous evaluation's terminal state
		if err := c.states.event(ctx, evt.VehicleID, eventTrigger); err != nil {
			return PlanDiff{}, ErrBusy
		}
		defer func() {
			// a failed evaluation must not strand the vehicle in Evaluating
			if err != nil {
				_ = c.states.event(ctx, evt.VehicleID, eventKeep)
			}
		}()
	}

	if !c.shouldEvaluate(evt) {
		if evt.VehicleID != "" {
			_ = c.states.event(ctx, evt.VehicleID, eventKeep)
		}
		metrics.RedispatchOutcomes.WithLabelValues("unchanged").Inc()
		return PlanDiff{Trigger: evt.Type}, nil
	}

	old, err := c.store.CurrentPlan(ctx, partition)
	if errors.Is(err, store.ErrNotFound) {
		old = model.RoutePlan{}
	} else if err != nil {
		return PlanDiff{}, err
	}

	sub, err := c.buildSubProblem(ctx, evt, old)
	if err != nil {
		return PlanDiff{}, err
	}
	if len(sub.movable) == 0 {
		if evt.VehicleID != "" {
			_ = c.states.event(ctx, evt.VehicleID, eventKeep)
		}
		metrics.RedispatchOutcomes.WithLabelValues("unchanged").Inc()
		return PlanDiff{Trigger: evt.Type, OldVersion: old.Version}, nil
	}

	res, err := opt.Solve(ctx, opt.Problem{
		Orders:         sub.movable,
		Vehicles:       sub.vehicles,
		Provider:       c.prov,
		Objectives:     c.cfg.Optimization.Weights,
		DepartAt:       time.Now().UTC(),
		MaxLateMinutes: c.cfg.Optimization.MaxLateMinutes,
	}, c.cfg.Optimization.TimeBudget())
	if err != nil {
		return PlanDiff{}, err
	}
	metrics.SolveDuration.WithLabelValues(res.Status.String()).Observe(time.Since(started).Seconds())
	metrics.SolveIterations.Observe(float64(res.Metrics.Iterations))
	metrics.SolveUnassigned.Add(float64(len(res.Unassigned)))

	proposed := c.mergePlans(ctx, old, sub, res.Plan)
	diff = diffPlans(evt.Type, old, proposed)
	diff.Unassigned = res.Unassigned
	diff.SolveStatus = res.Status.String()

	// Cost-opportunity triggers only act when the what-if clears the bar.
	if evt.Type == model.EventCostOpportunity && diff.SavingsPct < c.cfg.Coordinator.SavingsPercent {
		if evt.VehicleID != "" {
			_ = c.states.event(ctx, evt.VehicleID, eventKeep)
		}
		metrics.RedispatchOutcomes.WithLabelValues("unchanged").Inc()
		return PlanDiff{Trigger: evt.Type, OldVersion: old.Version}, nil
	}

	outcome := eventKeep
	if !diff.Empty() {
		outcome = eventReoptimize
	}
	if evt.VehicleID != "" {
		_ = c.states.event(ctx, evt.VehicleID, outcome)
	}
	if diff.Empty() {
		metrics.RedispatchOutcomes.WithLabelValues("unchanged").Inc()
	} else {
		metrics.RedispatchOutcomes.WithLabelValues("reoptimized").Inc()
	}

	if c.audit != nil {
		c.audit.Emit(auditlog.Record{
			Kind:          auditlog.KindRedispatch,
			InputSnapshot: evt,
			OutputSnapshot: map[string]any{
				"diff_id":    diff.ID,
				"reassigned": len(diff.Reassigned),
				"status":     diff.SolveStatus,
			},
			Success:    true,
			DurationMs: time.Since(started).Milliseconds(),
			Savings: auditlog.Savings{
				Cost:    diff.OldCost - diff.NewCost,
				TimeMin: float64(evt.DelayMinutes),
			},
		})
	}
	return diff, nil
}

// Accept is the single atomic swap. On version conflict the trigger is
// re-published so the next tick re-evaluates against the fresh plan.
func (c *Coordinator) Accept(ctx context.Context, partition string, diff PlanDiff) (model.RoutePlan, error) {
	plan, err := c.store.SwapPlan(ctx, partition, diff.OldVersion, diff.Proposed)
	if errors.Is(err, store.ErrPlanConflict) {
		metrics.RedispatchOutcomes.WithLabelValues("conflict").Inc()
		c.log.Info("plan moved during solve, retriggering", zap.String("diff", diff.ID))
		c.broker.Publish(partition, model.DispatchEvent{Type: diff.Trigger, TS: time.Now().UTC()})
		return model.RoutePlan{}, err
	}
	if err != nil {
		return model.RoutePlan{}, err
	}
	return plan, nil
}

func (c *Coordinator) settle(vehicleID string) {
	m := c.states.get(vehicleID)
	if m.Is(StateReoptimized) || m.Is(StateUnchanged) {
		_ = m.Event(context.Background(), eventSettle)
	}
}

// shouldEvaluate applies the trigger thresholds. Breakdown, urgent orders,
// and temperature violations always evaluate; delay needs the configured
// threshold; cost opportunity is rate limited.
func (c *Coordinator) shouldEvaluate(evt model.DispatchEvent) bool {
	switch evt.Type {
	case model.EventBreakdown, model.EventUrgentOrder, model.EventTempViolation:
		return true
	case model.EventDelay:
		return time.Duration(evt.DelayMinutes)*time.Minute >= c.cfg.Coordinator.DelayThreshold
	case model.EventCostOpportunity:
		return c.whatIf.Allow()
	}
	return false
}

// subProblem is the movable slice of the fleet for one evaluation.
type subProblem struct {
	movable   []model.Order   // orders the solver may place
	vehicles  []model.Vehicle // candidate vehicles, capacity reduced by held routes
	frozen    map[string][]model.Stop
	heldOrder map[string]string // orderID -> vehicle whose route holds it fixed
	affected  string
	fleetWide bool
}

// buildSubProblem freezes in-transit and completed stops, holds every
// unaffected vehicle's route fixed, and collects the movable orders: the
// affected vehicle's pending orders plus any unassigned pending orders.
// Only a cost-opportunity what-if runs fleet-wide; an event without a
// vehicle id (an urgent order) keeps every committed route held and hands
// the solver just the unassigned orders against residual capacity.
func (c *Coordinator) buildSubProblem(ctx context.Context, evt model.DispatchEvent, old model.RoutePlan) (subProblem, error) {
	sub := subProblem{
		frozen:    map[string][]model.Stop{},
		heldOrder: map[string]string{},
		affected:  evt.VehicleID,
		fleetWide: evt.VehicleID == "" && evt.Type == model.EventCostOpportunity,
	}
	fleetWide := sub.fleetWide

	vehicles, err := c.store.ListVehicles(ctx)
	if err != nil {
		return sub, err
	}

	assigned := assignmentOf(old)
	movableIDs := map[string]bool{}

	for _, r := range old.Routes {
		routeMovable := fleetWide || r.VehicleID == evt.VehicleID
		for _, s := range r.Stops {
			if s.Status != model.StopPending {
				sub.frozen[r.VehicleID] = append(sub.frozen[r.VehicleID], s)
				continue
			}
			if routeMovable {
				movableIDs[s.OrderID] = true
			} else {
				sub.heldOrder[s.OrderID] = r.VehicleID
			}
		}
	}

	// Frozen stops pin their order to its vehicle even when the route is
	// otherwise movable.
	for vid, stops := range sub.frozen {
		for _, s := range stops {
			delete(movableIDs, s.OrderID)
			sub.heldOrder[s.OrderID] = vid
		}
	}

	// New pending orders that no route holds join the sub-problem.
	pending, err := c.store.ListOrders(ctx, model.OrderPending)
	if err != nil {
		return sub, err
	}
	for _, o := range pending {
		if _, held := sub.heldOrder[o.ID]; held {
			continue
		}
		if _, was := assigned[o.ID]; was && !movableIDs[o.ID] {
			continue
		}
		movableIDs[o.ID] = true
	}

	for id := range movableIDs {
		o, err := c.store.GetOrder(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return sub, err
		}
		if o.Status == model.OrderInTransit || o.Status == model.OrderCompleted || o.Status == model.OrderCancelled {
			continue
		}
		sub.movable = append(sub.movable, o)
	}

	for _, v := range vehicles {
		if v.ID == evt.VehicleID && (evt.Type == model.EventBreakdown || evt.Type == model.EventTempViolation) {
			continue // substitution: the affected vehicle takes no new work
		}
		if !v.Dispatchable() {
			continue
		}
		sub.vehicles = append(sub.vehicles, c.residualVehicle(ctx, v, old.RouteFor(v.ID), sub.heldOrder))
	}
	return sub, nil
}

// residualVehicle shrinks capacity by the load of orders held fixed on the
// vehicle so the solver cannot overfill it with movable work.
func (c *Coordinator) residualVehicle(ctx context.Context, v model.Vehicle, route *model.VehicleRoute, held map[string]string) model.Vehicle {
	if route == nil {
		return v
	}
	for _, id := range route.OrderIDs() {
		if held[id] != v.ID {
			continue
		}
		o, err := c.store.GetOrder(ctx, id)
		if err != nil {
			continue
		}
		v.CapPallets -= o.Pallets
		v.CapWeightKg -= o.WeightKg
		v.CapVolumeM3 -= o.VolumeM3
	}
	if v.CapPallets < 0 {
		v.CapPallets = 0
	}
	if v.CapWeightKg < 0 {
		v.CapWeightKg = 0
	}
	if v.CapVolumeM3 < 0 {
		v.CapVolumeM3 = 0
	}
	return v
}

// mergePlans rebuilds the full plan: held routes carry over verbatim, frozen
// stops stay at the front of their vehicle's route, and the solver's routes
// supply the movable stops. Any route whose stop sequence changed gets its
// distance and drive time re-legged over the full sequence, frozen legs
// included, so the proposed cost is comparable with the old plan's cost.
func (c *Coordinator) mergePlans(ctx context.Context, old model.RoutePlan, sub subProblem, solved model.RoutePlan) model.RoutePlan {
	out := model.RoutePlan{
		ID:        solved.ID,
		Version:   old.Version,
		CreatedAt: solved.CreatedAt,
	}

	solvedFor := map[string]*model.VehicleRoute{}
	for i := range solved.Routes {
		solvedFor[solved.Routes[i].VehicleID] = &solved.Routes[i]
	}

	seen := map[string]bool{}
	for _, r := range old.Routes {
		seen[r.VehicleID] = true
		sr := solvedFor[r.VehicleID]
		movable := sub.fleetWide || r.VehicleID == sub.affected
		if !movable && sr == nil {
			// Held fixed and untouched by the solver: carries over as is.
			nr := r
			nr.Stops = append([]model.Stop(nil), r.Stops...)
			out.Routes = append(out.Routes, nr)
			continue
		}
		nr := model.VehicleRoute{VehicleID: r.VehicleID}
		if movable {
			nr.Stops = append(nr.Stops, sub.frozen[r.VehicleID]...)
			for _, s := range sub.frozen[r.VehicleID] {
				nr.LateMin += s.LateMin
			}
		} else {
			nr.Stops = append(nr.Stops, r.Stops...)
			nr.WaitMin = r.WaitMin
			nr.LateMin = r.LateMin
		}
		if sr != nil {
			nr.Stops = append(nr.Stops, sr.Stops...)
			nr.WaitMin += sr.WaitMin
			nr.LateMin += sr.LateMin
		}
		if len(nr.Stops) == 0 {
			continue
		}
		nr.DistanceKm, nr.DriveMin = c.routeLegs(ctx, nr.Stops)
		out.Routes = append(out.Routes, nr)
	}
	for _, sr := range solved.Routes {
		if !seen[sr.VehicleID] && len(sr.Stops) > 0 {
			out.Routes = append(out.Routes, sr)
		}
	}

	weights := c.cfg.Optimization.Weights
	wDist, wWait, wLate := weights["distance"], weights["waiting"], weights["lateness"]
	if wDist == 0 && wWait == 0 && wLate == 0 {
		wDist = 1
	}
	for _, r := range out.Routes {
		out.Cost += wDist*r.DistanceKm + wWait*r.WaitMin + wLate*r.LateMin
	}
	return out
}

// routeLegs sums pairwise distance and drive time over consecutive stops.
func (c *Coordinator) routeLegs(ctx context.Context, stops []model.Stop) (km, driveMin float64) {
	for i := 1; i < len(stops); i++ {
		r, err := c.prov.Distance(ctx, stops[i-1].Location, stops[i].Location)
		if err != nil {
			r.Km = distance.HaversineKm(stops[i-1].Location, stops[i].Location)
			r.Minutes = 0
		}
		km += r.Km
		driveMin += r.Minutes
	}
	return km, driveMin
}
