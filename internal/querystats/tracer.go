package querystats

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultSlowThreshold is the execution time above which a statement is logged.
const DefaultSlowThreshold = 500 * time.Millisecond

// QueryObserver receives the timing of every statement. *metrics.Recorder satisfies it.
type QueryObserver interface {
	ObserveQuery(elapsed time.Duration, slow bool)
}

type traceKey struct{}

type traceStart struct {
	sql   string
	start time.Time
}

// Tracer is a pgx.QueryTracer that times statements, feeds the aggregator and
// warns about slow ones. It only observes; it never fails a query.
type Tracer struct {
	aggregator *Aggregator
	threshold  time.Duration
	logger     *zap.Logger
	observer   QueryObserver
	now        func() time.Time
}

var _ pgx.QueryTracer = (*Tracer)(nil)

func NewTracer(aggregator *Aggregator, threshold time.Duration, logger *zap.Logger, observer QueryObserver) *Tracer {
	if threshold <= 0 {
		threshold = DefaultSlowThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{
		aggregator: aggregator,
		threshold:  threshold,
		logger:     logger.With(zap.String("component", "query_monitor")),
		observer:   observer,
		now:        time.Now,
	}
}

func (t *Tracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceStart{sql: data.SQL, start: t.now()})
}

func (t *Tracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	started, ok := ctx.Value(traceKey{}).(traceStart)
	if !ok {
		return
	}
	elapsed := t.now().Sub(started.start)
	slow := elapsed > t.threshold

	if slow {
		t.logger.Warn("slow query",
			zap.Duration("elapsed", elapsed),
			zap.String("statement", truncate(started.sql, MaxQueryLength)),
			zap.Error(data.Err))
	}
	if t.aggregator != nil {
		t.aggregator.Observe(Normalize(started.sql), elapsed)
	}
	if t.observer != nil {
		t.observer.ObserveQuery(elapsed, slow)
	}
}
