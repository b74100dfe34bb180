package opt

import "math"

// relocateImprove moves one order at a time to its globally cheapest
// feasible position (within or across routes), repeating until no move
// improves. Order-granular moves keep pickup-before-delivery intact.
func (s *solver) relocateImprove(sol *solution) {
	improved := true
	for improved {
		improved = false
		for _, oi := range s.assignedOrders(*sol) {
			before := s.totalCost(*sol)
			cand := sol.clone()
			s.removeOrders(&cand, []int{oi})
			vi, p, q, _, ok := s.bestInsertion(cand, oi)
			if !ok {
				continue
			}
			s.applyInsertion(&cand, vi, oi, p, q)
			after := s.totalCost(cand)
			if after+1e-9 < before {
				*sol = cand
				improved = true
			}
		}
	}
	sol.cost = s.totalCost(*sol)
}

// swapImprove exchanges order pairs between two routes when both sides can
// reinsert feasibly at lower combined cost.
func (s *solver) swapImprove(sol *solution) {
	if len(sol.seqs) < 2 {
		return
	}
	assigned := s.assignedOrders(*sol)
	improved := true
	for improved {
		improved = false
		for i := 0; i < len(assigned); i++ {
			for j := i + 1; j < len(assigned); j++ {
				a, b := assigned[i], assigned[j]
				if s.vehicleOf(*sol, a) == s.vehicleOf(*sol, b) {
					continue
				}
				before := s.totalCost(*sol)
				cand := sol.clone()
				s.removeOrders(&cand, []int{a, b})
				va, pa, qa, _, okA := s.bestInsertion(cand, a)
				if !okA {
					continue
				}
				s.applyInsertion(&cand, va, a, pa, qa)
				vb, pb, qb, _, okB := s.bestInsertion(cand, b)
				if !okB {
					continue
				}
				s.applyInsertion(&cand, vb, b, pb, qb)
				if after := s.totalCost(cand); after+1e-9 < before && after != math.MaxFloat64 {
					*sol = cand
					improved = true
				}
			}
		}
	}
	sol.cost = s.totalCost(*sol)
}

func (s *solver) vehicleOf(sol solution, oi int) int {
	for vi, seq := range sol.seqs {
		for _, ni := range seq {
			if s.nodes[ni].orderIdx == oi {
				return vi
			}
		}
	}
	return -1
}
