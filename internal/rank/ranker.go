package rank

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"coldroute/internal/config"
	"coldroute/internal/distance"
	"coldroute/internal/model"
)

// Ranker scores one order against each eligible vehicle along five
// independent axes and combines them by configurable weights. It exists for
// single-order, low-latency decisions where a full re-solve is too slow; it
// is not a substitute for multi-stop sequencing.
type Ranker struct {
	weights  config.RankWeights
	tuning   config.RankTuning
	provider distance.Provider
	rotation *model.RotationTracker // optional; falls back to Vehicle.RotationCount
	log      *zap.Logger
}

func New(w config.RankWeights, t config.RankTuning, provider distance.Provider, rotation *model.RotationTracker, log *zap.Logger) *Ranker {
	if provider == nil {
		provider = distance.NewHaversine(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if t.MaxRadiusKm <= 0 {
		t.MaxRadiusKm = 50
	}
	if t.RotationSat <= 0 {
		t.RotationSat = 10
	}
	if t.MaxSlackMinutes <= 0 {
		t.MaxSlackMinutes = 240
	}
	if t.DegradedVoltage <= 0 || t.DegradedVoltage > 1 {
		t.DegradedVoltage = 0.4
	}
	return &Ranker{weights: w, tuning: t, provider: provider, rotation: rotation, log: log}
}

// Candidate pairs a vehicle with the driver/client context the preference
// sub-score reads.
type Candidate struct {
	Vehicle model.Vehicle
	Driver  *model.Driver
}

// Rank returns per-vehicle scores sorted by total descending, vehicle id
// ascending on ties. Every sub-score and the total lie in [0,1].
func (r *Ranker) Rank(ctx context.Context, order model.Order, client *model.Client, cands []Candidate, now time.Time) ([]model.Score, error) {
	scores := make([]model.Score, 0, len(cands))
	for _, c := range cands {
		sc, err := r.score(ctx, order, client, c, now)
		if err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Total != scores[j].Total {
			return scores[i].Total > scores[j].Total
		}
		return scores[i].VehicleID < scores[j].VehicleID
	})
	return scores, nil
}

func (r *Ranker) score(ctx context.Context, order model.Order, client *model.Client, c Candidate, now time.Time) (model.Score, error) {
	leg, err := r.provider.Distance(ctx, c.Vehicle.Location, order.Pickup)
	if err != nil {
		return model.Score{}, err
	}

	sc := model.Score{OrderID: order.ID, VehicleID: c.Vehicle.ID}
	sc.Distance = clamp01(1 - leg.Km/r.tuning.MaxRadiusKm)
	sc.Rotation = r.rotationScore(c.Vehicle, now)
	sc.TimeWindow = r.slackScore(order, leg, now)
	sc.Preference = preferenceScore(client, c)
	if c.Vehicle.VoltageOK {
		sc.Voltage = 1
	} else {
		sc.Voltage = r.tuning.DegradedVoltage
	}

	w := r.weights
	sum := w.Distance + w.Rotation + w.TimeWindow + w.Preference + w.Voltage
	if sum <= 0 {
		sum = 1
	}
	sc.Total = clamp01((w.Distance*sc.Distance + w.Rotation*sc.Rotation +
		w.TimeWindow*sc.TimeWindow + w.Preference*sc.Preference + w.Voltage*sc.Voltage) / sum)
	return sc, nil
}

// rotationScore: fewer recent assignments score higher. Linear decay to zero
// at the saturation count; the exact curve is a tunable, not a contract.
func (r *Ranker) rotationScore(v model.Vehicle, now time.Time) float64 {
	count := v.RotationCount
	if r.rotation != nil {
		count = r.rotation.Count(v.ID, now)
	}
	return clamp01(1 - float64(count)/float64(r.tuning.RotationSat))
}

// slackScore: more room between earliest feasible arrival and window close
// scores higher. Orders without a pickup window give full marks.
func (r *Ranker) slackScore(order model.Order, leg distance.Result, now time.Time) float64 {
	window := order.PickupWindow
	if window == nil {
		window = order.DeliveryWindow
	}
	if window == nil {
		return 1
	}
	arrival := now.Add(time.Duration(leg.Minutes * float64(time.Minute)))
	slack := window.End.Sub(arrival).Minutes()
	return clamp01(slack / r.tuning.MaxSlackMinutes)
}

// preferenceScore: configured client/vehicle affinity when present, a bonus
// for the client's preferred drivers, neutral otherwise.
func preferenceScore(client *model.Client, c Candidate) float64 {
	if client == nil {
		return 0.5
	}
	if v, ok := client.Affinity[c.Vehicle.ID]; ok {
		return clamp01(v)
	}
	if c.Driver != nil {
		for _, pref := range client.PreferredDrivers {
			if pref == c.Driver.ID {
				return 1
			}
		}
	}
	return 0.5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
