// Package responder turns an inbound envelope into reply text.
//
// The Router classifies the message with a small rule table and answers
// canned intents locally; free-form chat goes to an LLM provider together
// with the channel's system prompt and recent conversation history.
package responder

import (
	"context"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// Context is everything the pipeline knows about the conversation when it asks for a reply.
type Context struct {
	Channel *store.ChannelConfig
	Tenant  *store.Tenant      // nil when the channel has no tenant record
	History []store.MessageRow // oldest first, excludes the current envelope
}

// Responder produces the reply for one envelope. An empty reply means "stay silent".
type Responder interface {
	Respond(ctx context.Context, env bus.Envelope, rc Context) (string, error)
}

// Func adapts a plain function to Responder.
type Func func(ctx context.Context, env bus.Envelope, rc Context) (string, error)

func (f Func) Respond(ctx context.Context, env bus.Envelope, rc Context) (string, error) {
	return f(ctx, env, rc)
}
