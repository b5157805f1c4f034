package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/processor"
)

// consumeInboundMessages hands every envelope published by a channel to the
// processor. Submit returns immediately, so one slow conversation never holds
// up the bus.
func consumeInboundMessages(ctx context.Context, msgBus bus.InboundRouter, proc *processor.Processor) {
	for {
		env, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}
		slog.Debug("inbound message",
			"channel", env.Channel,
			"external_id", env.ExternalID,
			"type", env.Type,
		)
		proc.Submit(env)
	}
}
