package auditlog

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Savings quantifies what a decision saved versus the previous state.
type Savings struct {
	DistanceKm float64 `json:"distance_km"`
	Cost       float64 `json:"cost"`
	TimeMin    float64 `json:"time_min"`
}

// Record is one execution/outcome entry: a rule match, a solve, or a
// re-dispatch. Consumed downstream for auditing and weight tuning.
type Record struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"` // rule_match, solve, redispatch
	InputSnapshot  any       `json:"input_snapshot,omitempty"`
	OutputSnapshot any       `json:"output_snapshot,omitempty"`
	Success        bool      `json:"success"`
	DurationMs     int64     `json:"duration_ms"`
	Savings        Savings   `json:"savings"`
	TS             time.Time `json:"ts"`
}

const (
	KindRuleMatch  = "rule_match"
	KindSolve      = "solve"
	KindRedispatch = "redispatch"
)

// Publisher is the fire-and-forget front of the outcome log. Emit never
// blocks dispatch: records queue onto a bounded channel and a worker drains
// it; when the queue is full the record is dropped and counted.
type Publisher struct {
	queue chan Record
	log   *zap.Logger
}

func NewPublisher(buffer int, log *zap.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{queue: make(chan Record, buffer), log: log}
}

// Emit enqueues a record, filling in id and timestamp.
func (p *Publisher) Emit(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	select {
	case p.queue <- rec:
	default:
		p.log.Warn("audit queue full, dropping record", zap.String("kind", rec.Kind))
	}
}

// Queue exposes the channel for the delivery worker.
func (p *Publisher) Queue() <-chan Record { return p.queue }
