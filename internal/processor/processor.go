// Package processor is the background executor: it acknowledges inbound
// envelopes immediately and runs the expensive pipeline later, exactly once per
// external id and in arrival order per conversation.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/dedupe"
	"github.com/nextlevelbuilder/inboxd/internal/errreport"
	"github.com/nextlevelbuilder/inboxd/internal/sequencer"
	"github.com/nextlevelbuilder/inboxd/internal/sessions"
	"github.com/nextlevelbuilder/inboxd/internal/store"
)

const tracerName = "github.com/nextlevelbuilder/inboxd/internal/processor"

// Pipeline is the expensive per-envelope work.
type Pipeline func(ctx context.Context, env bus.Envelope) error

// Config tunes a Processor.
type Config struct {
	// TaskTimeout bounds a single pipeline run. Zero disables the bound.
	TaskTimeout time.Duration
}

// Stats is a point-in-time snapshot of processor counters.
type Stats struct {
	Submitted           int64           `json:"submitted"`
	Processed           int64           `json:"processed"`
	Duplicates          int64           `json:"duplicates"`
	Errors              int64           `json:"errors"`
	Processing          int             `json:"processing"`
	ActiveConversations int             `json:"active_conversations"`
	Reporter            errreport.Stats `json:"reporter"`
}

// Processor owns the duplicate filter, the conversation sequencer and the error
// reporter for one process. Construct it once (or once per test) and Close it on shutdown.
type Processor struct {
	filter   *dedupe.Filter
	seq      *sequencer.Sequencer
	reporter *errreport.Reporter
	pipeline Pipeline
	cfg      Config
	tracer   trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	submitted  atomic.Int64
	processed  atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

// New wires a Processor. pipeline is the default used by Submit.
func New(filter *dedupe.Filter, seq *sequencer.Sequencer, reporter *errreport.Reporter, pipeline Pipeline, cfg Config) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		filter:   filter,
		seq:      seq,
		reporter: reporter,
		pipeline: pipeline,
		cfg:      cfg,
		tracer:   otel.Tracer(tracerName),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit hands env to the default pipeline. It returns immediately.
func (p *Processor) Submit(env bus.Envelope) {
	p.SubmitFunc(env, p.pipeline)
}

// SubmitFunc hands env to pipeline. It returns immediately and never panics
// into the caller; everything after acceptance is reported asynchronously.
//
// The in-memory claim and the enqueue happen on the caller's goroutine so the
// conversation order is fixed at submission. The durable lookup runs inside
// the sequenced task.
func (p *Processor) SubmitFunc(env bus.Envelope, pipeline Pipeline) {
	if p.closed.Load() {
		slog.Warn("inbound: processor closed, dropping envelope", "external_id", env.ExternalID)
		return
	}
	if env.ExternalID == "" || pipeline == nil {
		slog.Warn("inbound: envelope without id or pipeline dropped", "channel", env.Channel)
		return
	}

	p.submitted.Add(1)
	claim, ok := p.filter.MarkAccepted(env.ExternalID)
	if !ok {
		p.duplicates.Add(1)
		slog.Info("inbound: duplicate dropped", "external_id", env.ExternalID, "channel", env.Channel)
		return
	}

	key := sessions.ConversationKey(env)
	slog.Debug("inbound: accepted", "external_id", env.ExternalID, "conversation", key)

	h := p.seq.Enqueue(p.ctx, key, func(ctx context.Context) error {
		return p.run(ctx, key, env, claim, pipeline)
	})
	// Close raced with this submission; the task will never run.
	if errors.Is(h.Err(), sequencer.ErrClosed) {
		p.filter.MarkSettled(claim)
		slog.Warn("inbound: processor closed, dropping envelope", "external_id", env.ExternalID)
	}
}

// run executes one pipeline and settles it. The marker is cleared exactly
// once on every path, after the reporter has finished.
func (p *Processor) run(ctx context.Context, key string, env bus.Envelope, claim bus.Marker, pipeline Pipeline) (err error) {
	defer p.filter.MarkSettled(claim)

	if p.filter.Stored(ctx, env.ExternalID) {
		p.duplicates.Add(1)
		slog.Info("inbound: duplicate dropped", "external_id", env.ExternalID, "source", "store")
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "processor.pipeline", trace.WithAttributes(
		attribute.String("inboxd.external_id", env.ExternalID),
		attribute.String("inboxd.conversation", key),
		attribute.String("inboxd.channel", env.Channel),
	))
	defer span.End()

	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	err = safeRun(ctx, pipeline, env)

	switch {
	case err == nil:
		p.processed.Add(1)
		slog.Info("inbound: processed",
			"external_id", env.ExternalID,
			"conversation", key,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil

	case errors.Is(err, store.ErrDuplicateExternalID):
		// Durable backstop: another run already stored this id.
		p.duplicates.Add(1)
		slog.Info("inbound: duplicate caught by store", "external_id", env.ExternalID)
		return nil

	default:
		p.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("inbound: pipeline failed",
			"external_id", env.ExternalID,
			"conversation", key,
			"error", err,
		)
		p.reporter.RecordFailure(ctx, env.ExternalID, err)
		p.reporter.NotifyUser(ctx, env)
		return err
	}
}

func safeRun(ctx context.Context, pipeline Pipeline, env bus.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panicked: %v", r)
		}
	}()
	return pipeline(ctx, env)
}

// Wait blocks until every submitted envelope has settled or ctx is done.
func (p *Processor) Wait(ctx context.Context) error {
	return p.seq.Wait(ctx)
}

// Close stops accepting envelopes and waits for in-flight work. When ctx
// expires first, running pipelines see their context cancelled.
func (p *Processor) Close(ctx context.Context) error {
	p.closed.Store(true)
	err := p.seq.Close(ctx)
	p.cancel()
	if err != nil {
		return fmt.Errorf("processor close: %w", err)
	}
	return nil
}

// Stats returns the current counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Submitted:           p.submitted.Load(),
		Processed:           p.processed.Load(),
		Duplicates:          p.duplicates.Load(),
		Errors:              p.failed.Load(),
		Processing:          p.filter.Processing(),
		ActiveConversations: p.seq.Len(),
		Reporter:            p.reporter.Stats(),
	}
}
