package auditlog

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"coldroute/internal/metrics"
)

// Sink is the downstream consumer of outcome records.
type Sink interface {
	WriteAuditRecord(ctx context.Context, rec Record) error
}

// Worker drains a Publisher's queue into a Sink, retrying transient failures
// with exponential backoff. A record that keeps failing is dropped after the
// retry budget; the log sink is advisory, never load-bearing for dispatch.
type Worker struct {
	pub      *Publisher
	sink     Sink
	log      *zap.Logger
	maxTries uint
	stop     chan struct{}
	done     chan struct{}
}

func NewWorker(pub *Publisher, sink Sink, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{pub: pub, sink: sink, log: log, maxTries: 5, stop: make(chan struct{}), done: make(chan struct{})}
}

func (w *Worker) Start() {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-w.stop:
				return
			case rec := <-w.pub.Queue():
				w.deliver(rec)
			}
		}
	}()
}

// Stop drains nothing further; queued records not yet delivered are lost,
// consistent with the fire-and-forget contract.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) deliver(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.sink.WriteAuditRecord(ctx, rec)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(w.maxTries),
	)
	if err != nil {
		metrics.AuditDeliveries.WithLabelValues("dropped").Inc()
		w.log.Warn("audit record dropped after retries", zap.String("id", rec.ID), zap.Error(err))
		return
	}
	metrics.AuditDeliveries.WithLabelValues("delivered").Inc()
}
