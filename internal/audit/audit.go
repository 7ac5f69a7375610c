// Package audit provides the fire-and-forget telemetry boundary for routing
// decisions and validation attempts. Recorder unavailability must never fail
// the request path.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

// Recorder receives audit records. Implementations must not block the caller
// and must swallow their own failures.
type Recorder interface {
	RecordRoutingDecision(d *domain.RoutingDecision)
	RecordValidationAttempt(a *domain.ValidationAttempt)
}

// Noop discards all records.
type Noop struct{}

func (Noop) RecordRoutingDecision(*domain.RoutingDecision)     {}
func (Noop) RecordValidationAttempt(*domain.ValidationAttempt) {}

// Sink persists audit records.
type Sink interface {
	InsertRoutingDecision(ctx context.Context, d *domain.RoutingDecision) error
	InsertValidationAttempt(ctx context.Context, a *domain.ValidationAttempt) error
}

// writeTimeout bounds each background insert.
const writeTimeout = 5 * time.Second

// queueSize bounds the in-flight record buffer; overflow drops records
// rather than blocking the request path.
const queueSize = 1024

// AsyncRecorder writes records to a Sink from a background worker.
type AsyncRecorder struct {
	sink   Sink
	queue  chan func(context.Context)
	done   chan struct{}
	logger *slog.Logger
}

// NewAsyncRecorder creates a recorder and starts its worker.
func NewAsyncRecorder(sink Sink, logger *slog.Logger) *AsyncRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &AsyncRecorder{
		sink:   sink,
		queue:  make(chan func(context.Context), queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.run()
	return r
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for job := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		job(ctx)
		cancel()
	}
}

func (r *AsyncRecorder) enqueue(job func(context.Context)) {
	select {
	case r.queue <- job:
	default:
		r.logger.Warn("audit queue full, dropping record")
	}
}

func (r *AsyncRecorder) RecordRoutingDecision(d *domain.RoutingDecision) {
	cp := *d
	r.enqueue(func(ctx context.Context) {
		if err := r.sink.InsertRoutingDecision(ctx, &cp); err != nil {
			r.logger.Warn("record routing decision failed", slog.String("error", err.Error()))
		}
	})
}

func (r *AsyncRecorder) RecordValidationAttempt(a *domain.ValidationAttempt) {
	cp := *a
	r.enqueue(func(ctx context.Context) {
		if err := r.sink.InsertValidationAttempt(ctx, &cp); err != nil {
			r.logger.Warn("record validation attempt failed", slog.String("error", err.Error()))
		}
	})
}

// Close drains the queue and stops the worker.
func (r *AsyncRecorder) Close() {
	close(r.queue)
	<-r.done
}
