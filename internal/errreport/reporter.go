// Package errreport records pipeline failures and tells the end user something went wrong.
// Nothing in here returns an error: the reporter runs inside the processor's
// settlement path and must never fault it.
package errreport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// DefaultFailureMessage is sent when neither the tenant nor the config override it.
const DefaultFailureMessage = "Sorry, something went wrong while handling your message. Please try again in a moment."

const (
	maxMessageLen = 500
	maxDetailLen  = 4000
)

// Notifier delivers a text message to a recipient on a channel.
type Notifier interface {
	Deliver(ctx context.Context, channel, recipient, text string) error
}

// MessageResolver picks the failure text for an envelope (e.g. per tenant).
// Returning "" falls back to the reporter's default.
type MessageResolver func(ctx context.Context, env bus.Envelope) string

// Stats counts reporter outcomes.
type Stats struct {
	Recorded       int64 `json:"recorded"`
	RecordFailures int64 `json:"record_failures"`
	Notified       int64 `json:"notified"`
	NotifyFailures int64 `json:"notify_failures"`
}

// Reporter is safe for concurrent use.
type Reporter struct {
	errors   store.ErrorStore
	notifier Notifier
	resolve  MessageResolver
	message  string
	timeout  time.Duration

	recorded       atomic.Int64
	recordFailures atomic.Int64
	notified       atomic.Int64
	notifyFailures atomic.Int64
}

// New creates a Reporter. notifier may be nil (record only).
func New(errs store.ErrorStore, notifier Notifier, defaultMessage string) *Reporter {
	if defaultMessage == "" {
		defaultMessage = DefaultFailureMessage
	}
	return &Reporter{
		errors:   errs,
		notifier: notifier,
		message:  defaultMessage,
		timeout:  10 * time.Second,
	}
}

// SetMessageResolver installs a per-envelope failure text lookup.
func (r *Reporter) SetMessageResolver(fn MessageResolver) { r.resolve = fn }

// RecordFailure upserts the error record for id. Failures are logged only.
func (r *Reporter) RecordFailure(ctx context.Context, id string, err error) {
	if err == nil {
		return
	}
	ctx, cancel := r.detached(ctx)
	defer cancel()

	message := truncate(err.Error(), maxMessageLen)
	detail := truncate(errorChain(err), maxDetailLen)

	if upsertErr := r.errors.UpsertError(ctx, id, message, detail); upsertErr != nil {
		r.recordFailures.Add(1)
		slog.Error("errreport: failed to record pipeline error",
			"external_id", id, "pipeline_error", message, "error", upsertErr)
		return
	}
	r.recorded.Add(1)
}

// NotifyUser sends the generic failure message back to the envelope's sender.
// Failures are logged only.
func (r *Reporter) NotifyUser(ctx context.Context, env bus.Envelope) {
	if r.notifier == nil {
		return
	}
	ctx, cancel := r.detached(ctx)
	defer cancel()

	text := r.message
	if r.resolve != nil {
		if custom := r.resolve(ctx, env); custom != "" {
			text = custom
		}
	}

	if err := r.notifier.Deliver(ctx, env.Channel, env.SenderAddress, text); err != nil {
		r.notifyFailures.Add(1)
		slog.Warn("errreport: failed to notify user",
			"external_id", env.ExternalID, "channel", env.Channel, "error", err)
		return
	}
	r.notified.Add(1)
}

// Stats returns the current counters.
func (r *Reporter) Stats() Stats {
	return Stats{
		Recorded:       r.recorded.Load(),
		RecordFailures: r.recordFailures.Load(),
		Notified:       r.notified.Load(),
		NotifyFailures: r.notifyFailures.Load(),
	}
}

// detached keeps request-scoped values but drops the caller's cancellation:
// a pipeline that failed because its deadline passed must still get recorded.
func (r *Reporter) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

// errorChain renders each wrapped error's type, outermost first.
func errorChain(err error) string {
	var parts []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		parts = append(parts, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return strings.Join(parts, "\n")
}

// truncate cuts s to at most maxLen bytes on a rune boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	n := maxLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
