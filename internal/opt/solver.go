package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"coldroute/internal/distance"
	"coldroute/internal/model"
)

type node struct {
	orderIdx   int
	kind       model.StopKind
	loc        model.GeoPoint
	window     *model.TimeWindow
	serviceSec int
	mi         int // matrix index
}

type solver struct {
	p        Problem
	nodes    []node // pickup 2i, delivery 2i+1 for order i
	startMi  []int  // matrix index of each vehicle's start
	mx       [][]distance.Result
	wDist    float64
	wWait    float64
	wLate    float64
	maxLate  float64
	departAt time.Time
	rng      *rand.Rand

	// orders that fit no vehicle at all; decided once, up front
	unassignable map[int]bool
}

// routeSeq is one vehicle's ordered node-index sequence. A pickup always
// precedes its delivery because every move operates on whole orders.
type solution struct {
	seqs [][]int
	cost float64
}

// Solve builds a cheapest-insertion first solution, then runs bounded
// adaptive local search until the budget elapses or no improving move is
// found. Cancellation yields the best solution found so far, never an error.
func Solve(ctx context.Context, p Problem, timeBudget time.Duration) (Result, error) {
	s, err := newSolver(ctx, p)
	if err != nil {
		return Result{}, err
	}

	curr, pool := s.greedySeed()
	best := curr.clone()
	bestPool := clonePool(pool)

	remW := [2]float64{1, 1} // random, shaw
	insW := [2]float64{1, 1} // greedy, regret2
	temp := 1.0
	if p.InitialTemp > 0 {
		temp = p.InitialTemp
	}
	cool := 0.995
	if p.Cooling > 0 && p.Cooling < 1 {
		cool = p.Cooling
	}

	m := Metrics{BestCost: best.cost}
	deadline := time.Now().Add(timeBudget)
	const snapshotEvery = 50
	const staleLimit = 200 // consecutive non-improving iterations = converged
	timedOut := false
	stale := 0

	for {
		if p.IterationsLimit > 0 && m.Iterations >= p.IterationsLimit {
			break
		}
		if stale >= staleLimit {
			break
		}
		if !time.Now().Before(deadline) {
			timedOut = true
			break
		}
		select {
		case <-ctx.Done():
			timedOut = true
		default:
		}
		if timedOut {
			break
		}
		m.Iterations++

		prev := curr.clone()
		prevPool := clonePool(pool)

		k := 1 + s.rng.Intn(3)
		op := selectOp(remW[:], s.rng)
		m.RemovalSelects[op]++
		ip := selectOp(insW[:], s.rng)
		m.InsertSelects[ip]++

		var removed []int
		switch op {
		case 0:
			removed = s.randomRemoval(curr, k)
		case 1:
			removed = s.shawRemoval(curr, k)
		}
		s.removeOrders(&curr, removed)
		pool = append(pool, removed...)

		switch ip {
		case 0:
			pool = s.greedyInsert(&curr, pool)
		case 1:
			pool = s.regretInsert(&curr, pool)
		}
		s.relocateImprove(&curr)
		s.swapImprove(&curr)
		curr.cost = s.totalCost(curr)

		// simulated-annealing acceptance with adaptive operator weights
		delta := curr.cost - prev.cost
		penalized := curr.cost + s.poolPenalty(pool)
		bestPenalized := best.cost + s.poolPenalty(bestPool)
		if delta < 0 || s.rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			if penalized < bestPenalized {
				best = curr.clone()
				bestPool = clonePool(pool)
				remW[op] += 0.1
				insW[ip] += 0.1
				m.Improvements++
				m.BestCost = best.cost
				stale = 0
			} else {
				if delta > 0 {
					remW[op] += 0.01
					insW[ip] += 0.01
					m.AcceptedWorse++
				}
				stale++
			}
		} else {
			curr = prev
			pool = prevPool
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
			stale++
		}
		temp *= cool

		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, WeightSnapshot{Iteration: m.Iterations, Removal: remW, Insertion: insW})
		}
	}

	// last chance for anything still unplaced
	bestPool = s.greedyInsert(&best, bestPool)
	best.cost = s.totalCost(best)

	m.FinalCost = best.cost
	m.FinalRemovalWeights = remW
	m.FinalInsertionWeights = insW

	res := Result{Plan: s.buildPlan(best), Cost: best.cost, Metrics: m}
	for oi := range s.p.Orders {
		if s.unassignable[oi] {
			res.Unassigned = append(res.Unassigned, s.p.Orders[oi].ID)
		}
	}
	for _, oi := range bestPool {
		res.Unassigned = append(res.Unassigned, s.p.Orders[oi].ID)
	}
	sort.Strings(res.Unassigned)

	switch {
	case len(res.Unassigned) > 0:
		res.Status = Infeasible
	case timedOut:
		res.Status = TimedOut
	default:
		res.Status = Solved
	}
	return res, nil
}

func newSolver(ctx context.Context, p Problem) (*solver, error) {
	if len(p.Vehicles) == 0 {
		return nil, fmt.Errorf("solve: no vehicles")
	}
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	departAt := p.DepartAt
	if departAt.IsZero() {
		departAt = time.Now()
	}
	s := &solver{
		p:            p,
		departAt:     departAt,
		rng:          rand.New(rand.NewSource(seed)),
		maxLate:      p.MaxLateMinutes,
		unassignable: map[int]bool{},
	}
	if s.maxLate <= 0 {
		s.maxLate = 45
	}
	s.wDist = p.Objectives["distance"]
	s.wWait = p.Objectives["waiting"]
	s.wLate = p.Objectives["lateness"]
	if s.wDist == 0 && s.wWait == 0 && s.wLate == 0 {
		s.wDist = 1
	}

	// node + point layout: vehicle starts first, then pickup/delivery pairs
	points := make([]model.GeoPoint, 0, len(p.Vehicles)+2*len(p.Orders))
	s.startMi = make([]int, len(p.Vehicles))
	for vi, v := range p.Vehicles {
		s.startMi[vi] = len(points)
		points = append(points, v.Location)
	}
	for oi, o := range p.Orders {
		s.nodes = append(s.nodes,
			node{orderIdx: oi, kind: model.StopPickup, loc: o.Pickup, window: o.PickupWindow, serviceSec: o.ServiceSec, mi: len(points)},
			node{orderIdx: oi, kind: model.StopDelivery, loc: o.Delivery, window: o.DeliveryWindow, serviceSec: o.ServiceSec, mi: len(points) + 1},
		)
		points = append(points, o.Pickup, o.Delivery)
	}

	mx, err := buildMatrix(ctx, p.Provider, points)
	if err != nil {
		return nil, err
	}
	s.mx = mx

	// orders no vehicle can ever carry are excluded once, and reported
	for oi, o := range p.Orders {
		fits := false
		for _, v := range p.Vehicles {
			if vehicleFitsOrder(v, o) {
				fits = true
				break
			}
		}
		if !fits {
			s.unassignable[oi] = true
		}
	}
	return s, nil
}

func buildMatrix(ctx context.Context, prov distance.Provider, points []model.GeoPoint) ([][]distance.Result, error) {
	if mp, ok := prov.(distance.MatrixProvider); ok {
		return mp.Matrix(ctx, points)
	}
	cached := distance.NewCache(prov)
	out := make([][]distance.Result, len(points))
	for i := range points {
		out[i] = make([]distance.Result, len(points))
		for j := range points {
			if i == j {
				continue
			}
			r, err := cached.Distance(ctx, points[i], points[j])
			if err != nil {
				return nil, fmt.Errorf("distance %d->%d: %w", i, j, err)
			}
			out[i][j] = r
		}
	}
	return out, nil
}

func vehicleFitsOrder(v model.Vehicle, o model.Order) bool {
	if !v.SupportsZone(o.Zone) {
		return false
	}
	if v.CapPallets > 0 && o.Pallets > v.CapPallets {
		return false
	}
	if v.CapWeightKg > 0 && o.WeightKg > v.CapWeightKg {
		return false
	}
	if v.CapVolumeM3 > 0 && o.VolumeM3 > v.CapVolumeM3 {
		return false
	}
	return true
}

// schedStats is the simulated timeline of one vehicle's sequence.
type schedStats struct {
	distKm   float64
	driveMin float64
	waitMin  float64
	lateMin  float64
	etaMin   []float64 // arrival offset per stop, minutes after DepartAt
	lates    []float64
}

// schedule walks a sequence checking cumulative capacity and time windows.
// Early arrivals wait; lateness beyond the hard threshold is infeasible.
func (s *solver) schedule(vi int, seq []int) (schedStats, bool) {
	v := s.p.Vehicles[vi]
	var st schedStats
	var pallets int
	var kg, m3 float64
	t := 0.0
	cur := s.startMi[vi]
	for _, ni := range seq {
		n := s.nodes[ni]
		o := s.p.Orders[n.orderIdx]
		leg := s.mx[cur][n.mi]
		t += leg.Minutes
		st.distKm += leg.Km
		st.driveMin += leg.Minutes

		if n.kind == model.StopPickup {
			pallets += o.Pallets
			kg += o.WeightKg
			m3 += o.VolumeM3
			if (v.CapPallets > 0 && pallets > v.CapPallets) ||
				(v.CapWeightKg > 0 && kg > v.CapWeightKg) ||
				(v.CapVolumeM3 > 0 && m3 > v.CapVolumeM3) {
				return st, false
			}
		} else {
			pallets -= o.Pallets
			kg -= o.WeightKg
			m3 -= o.VolumeM3
		}

		late := 0.0
		if n.window != nil {
			ws := n.window.Start.Sub(s.departAt).Minutes()
			we := n.window.End.Sub(s.departAt).Minutes()
			if t < ws {
				st.waitMin += ws - t
				t = ws
			}
			if t > we {
				late = t - we
				if late > s.maxLate {
					return st, false
				}
				st.lateMin += late
			}
		}
		st.etaMin = append(st.etaMin, t)
		st.lates = append(st.lates, late)
		t += float64(n.serviceSec) / 60
		cur = n.mi
	}
	return st, true
}

func (s *solver) routeCost(vi int, seq []int) (float64, bool) {
	st, ok := s.schedule(vi, seq)
	if !ok {
		return math.MaxFloat64, false
	}
	return s.wDist*st.distKm + s.wWait*st.waitMin + s.wLate*st.lateMin, true
}

func (s *solver) totalCost(sol solution) float64 {
	total := 0.0
	for vi, seq := range sol.seqs {
		c, ok := s.routeCost(vi, seq)
		if !ok {
			return math.MaxFloat64
		}
		total += c
	}
	return total
}

// poolPenalty makes solutions covering more orders strictly preferable.
func (s *solver) poolPenalty(pool []int) float64 {
	return float64(len(pool)) * 1e6
}

// greedySeed inserts orders by (priority desc, id asc) at their cheapest
// feasible pickup/delivery positions. Orders that fit nowhere go to the pool.
func (s *solver) greedySeed() (solution, []int) {
	sol := solution{seqs: make([][]int, len(s.p.Vehicles))}
	order := make([]int, 0, len(s.p.Orders))
	for oi := range s.p.Orders {
		if !s.unassignable[oi] {
			order = append(order, oi)
		}
	}
	sort.Slice(order, func(a, b int) bool {
		oa, ob := s.p.Orders[order[a]], s.p.Orders[order[b]]
		if oa.Priority != ob.Priority {
			return oa.Priority > ob.Priority
		}
		return oa.ID < ob.ID
	})
	var pool []int
	for _, oi := range order {
		if !s.insertBest(&sol, oi) {
			pool = append(pool, oi)
		}
	}
	sol.cost = s.totalCost(sol)
	return sol, pool
}

// insertBest places order oi at the globally cheapest feasible position pair.
func (s *solver) insertBest(sol *solution, oi int) bool {
	vi, p, q, _, ok := s.bestInsertion(*sol, oi)
	if !ok {
		return false
	}
	s.applyInsertion(sol, vi, oi, p, q)
	return true
}

// bestInsertion scans every vehicle and every pickup/delivery position pair.
func (s *solver) bestInsertion(sol solution, oi int) (vi, p, q int, delta float64, ok bool) {
	o := s.p.Orders[oi]
	bestDelta := math.MaxFloat64
	for cand := range s.p.Vehicles {
		if !vehicleFitsOrder(s.p.Vehicles[cand], o) {
			continue
		}
		seq := sol.seqs[cand]
		base, feasible := s.routeCost(cand, seq)
		if !feasible {
			continue
		}
		for pp := 0; pp <= len(seq); pp++ {
			for qq := pp + 1; qq <= len(seq)+1; qq++ {
				candSeq := insertPair(seq, oi, pp, qq)
				c, feasible := s.routeCost(cand, candSeq)
				if !feasible {
					continue
				}
				if d := c - base; d < bestDelta {
					bestDelta, vi, p, q, ok = d, cand, pp, qq, true
				}
			}
		}
	}
	return vi, p, q, bestDelta, ok
}

// insertPair builds seq with pickup node 2*oi at p and delivery 2*oi+1 at q
// (q indexes the sequence after the pickup is inserted, so q > p always).
func insertPair(seq []int, oi, p, q int) []int {
	out := make([]int, 0, len(seq)+2)
	out = append(out, seq[:p]...)
	out = append(out, 2*oi)
	out = append(out, seq[p:]...)
	tail := append([]int(nil), out[q:]...)
	out = append(out[:q], 2*oi+1)
	out = append(out, tail...)
	return out
}

func (s *solver) applyInsertion(sol *solution, vi, oi, p, q int) {
	sol.seqs[vi] = insertPair(sol.seqs[vi], oi, p, q)
}

func (s *solver) assignedOrders(sol solution) []int {
	seen := map[int]bool{}
	var out []int
	for _, seq := range sol.seqs {
		for _, ni := range seq {
			oi := s.nodes[ni].orderIdx
			if !seen[oi] {
				seen[oi] = true
				out = append(out, oi)
			}
		}
	}
	return out
}

func (s *solver) randomRemoval(sol solution, k int) []int {
	assigned := s.assignedOrders(sol)
	if len(assigned) == 0 {
		return nil
	}
	s.rng.Shuffle(len(assigned), func(i, j int) { assigned[i], assigned[j] = assigned[j], assigned[i] })
	if k > len(assigned) {
		k = len(assigned)
	}
	return assigned[:k]
}

// shawRemoval removes orders related to a random seed order by pickup
// proximity and delivery-window overlap.
func (s *solver) shawRemoval(sol solution, k int) []int {
	assigned := s.assignedOrders(sol)
	if len(assigned) == 0 {
		return nil
	}
	seedOi := assigned[s.rng.Intn(len(assigned))]
	type rel struct {
		oi    int
		score float64
	}
	var rels []rel
	for _, oi := range assigned {
		if oi == seedOi {
			continue
		}
		geo := s.mx[s.nodes[2*seedOi].mi][s.nodes[2*oi].mi].Km
		overlap := windowOverlapMin(s.p.Orders[seedOi].DeliveryWindow, s.p.Orders[oi].DeliveryWindow)
		rels = append(rels, rel{oi: oi, score: geo - overlap/10})
	}
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].score != rels[j].score {
			return rels[i].score < rels[j].score
		}
		return rels[i].oi < rels[j].oi
	})
	removed := []int{seedOi}
	for _, r := range rels {
		if len(removed) >= k {
			break
		}
		removed = append(removed, r.oi)
	}
	return removed
}

func windowOverlapMin(a, b *model.TimeWindow) float64 {
	if a == nil || b == nil {
		return 0
	}
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start).Minutes()
}

func (s *solver) removeOrders(sol *solution, orderIdxs []int) {
	if len(orderIdxs) == 0 {
		return
	}
	rm := map[int]bool{}
	for _, oi := range orderIdxs {
		rm[oi] = true
	}
	for vi, seq := range sol.seqs {
		out := seq[:0]
		for _, ni := range seq {
			if !rm[s.nodes[ni].orderIdx] {
				out = append(out, ni)
			}
		}
		sol.seqs[vi] = append([]int(nil), out...)
	}
}

// greedyInsert places pool orders by cheapest feasible insertion; whatever
// still fits nowhere is returned as the new pool.
func (s *solver) greedyInsert(sol *solution, pool []int) []int {
	remaining := append([]int(nil), pool...)
	sort.Ints(remaining)
	for {
		bestIdx, bestVi, bestP, bestQ := -1, 0, 0, 0
		bestDelta := math.MaxFloat64
		for idx, oi := range remaining {
			vi, p, q, d, ok := s.bestInsertion(*sol, oi)
			if ok && d < bestDelta {
				bestIdx, bestVi, bestP, bestQ, bestDelta = idx, vi, p, q, d
			}
		}
		if bestIdx < 0 {
			break
		}
		s.applyInsertion(sol, bestVi, remaining[bestIdx], bestP, bestQ)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	sol.cost = s.totalCost(*sol)
	return remaining
}

// regretInsert prefers the order that loses most by not taking its best slot.
func (s *solver) regretInsert(sol *solution, pool []int) []int {
	remaining := append([]int(nil), pool...)
	sort.Ints(remaining)
	for len(remaining) > 0 {
		bestIdx := -1
		bestRegret := -1.0
		bestVi, bestP, bestQ := 0, 0, 0
		for idx, oi := range remaining {
			o := s.p.Orders[oi]
			best1, best2 := math.MaxFloat64, math.MaxFloat64
			b1vi, b1p, b1q := 0, 0, 0
			for cand := range s.p.Vehicles {
				if !vehicleFitsOrder(s.p.Vehicles[cand], o) {
					continue
				}
				seq := sol.seqs[cand]
				base, feasible := s.routeCost(cand, seq)
				if !feasible {
					continue
				}
				for pp := 0; pp <= len(seq); pp++ {
					for qq := pp + 1; qq <= len(seq)+1; qq++ {
						c, feasible := s.routeCost(cand, insertPair(seq, oi, pp, qq))
						if !feasible {
							continue
						}
						d := c - base
						if d < best1 {
							best2 = best1
							best1 = d
							b1vi, b1p, b1q = cand, pp, qq
						} else if d < best2 {
							best2 = d
						}
					}
				}
			}
			if best1 == math.MaxFloat64 {
				continue
			}
			regret := best2 - best1
			if best2 == math.MaxFloat64 {
				regret = math.MaxFloat64 // only one slot: place it now
			}
			if regret > bestRegret {
				bestRegret = regret
				bestIdx = idx
				bestVi, bestP, bestQ = b1vi, b1p, b1q
			}
		}
		if bestIdx < 0 {
			break
		}
		s.applyInsertion(sol, bestVi, remaining[bestIdx], bestP, bestQ)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	sol.cost = s.totalCost(*sol)
	return remaining
}

func (sol solution) clone() solution {
	out := solution{seqs: make([][]int, len(sol.seqs)), cost: sol.cost}
	for i, seq := range sol.seqs {
		out.seqs[i] = append([]int(nil), seq...)
	}
	return out
}

func clonePool(pool []int) []int { return append([]int(nil), pool...) }

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}

// buildPlan converts the internal solution into the public RoutePlan with
// absolute ETAs.
func (s *solver) buildPlan(sol solution) model.RoutePlan {
	plan := model.RoutePlan{ID: uuid.New().String(), Version: 1, CreatedAt: time.Now().UTC()}
	for vi, seq := range sol.seqs {
		if len(seq) == 0 {
			continue
		}
		route := model.VehicleRoute{VehicleID: s.p.Vehicles[vi].ID, Stops: []model.Stop{}}
		st, ok := s.schedule(vi, seq)
		if !ok {
			continue // cannot happen for sequences built by feasible moves
		}
		route.DistanceKm = st.distKm
		route.DriveMin = st.driveMin
		route.WaitMin = st.waitMin
		route.LateMin = st.lateMin
		for i, ni := range seq {
			n := s.nodes[ni]
			route.Stops = append(route.Stops, model.Stop{
				ID:         uuid.New().String(),
				OrderID:    s.p.Orders[n.orderIdx].ID,
				Kind:       n.kind,
				Location:   n.loc,
				Window:     n.window,
				ServiceSec: n.serviceSec,
				ETA:        s.departAt.Add(time.Duration(st.etaMin[i] * float64(time.Minute))),
				LateMin:    st.lates[i],
				Status:     model.StopPending,
			})
		}
		plan.Routes = append(plan.Routes, route)
	}
	plan.Cost = sol.cost
	return plan
}
