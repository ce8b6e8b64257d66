package events

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Broadcaster delivers task events to the four subscription scopes.
//
// Broadcast is fire-and-forget: transport failures are logged and swallowed,
// never surfaced to or blocking the caller, because the engine's bookkeeping
// must not depend on any subscriber being present.
type Broadcaster interface {
	// Broadcast publishes the event to the global scope plus whichever of
	// the user/task/module scopes the event carries coordinates for.
	Broadcast(ctx context.Context, event *TaskEvent)

	// Subscribe returns a channel of events for one scope. The channel is
	// closed when ctx is cancelled or the broadcaster shuts down.
	Subscribe(ctx context.Context, scope Scope) (<-chan *TaskEvent, error)

	// Close shuts the underlying transport down.
	Close() error
}

// WatermillBroadcaster implements Broadcaster on top of a watermill
// GoChannel pub/sub, which is FIFO per topic.
type WatermillBroadcaster struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// NewWatermillBroadcaster creates a broadcaster with an in-process GoChannel
// transport.
func NewWatermillBroadcaster(logger *slog.Logger) *WatermillBroadcaster {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewSlogLogger(logger.With("component", "broadcaster_transport")),
	)

	return &WatermillBroadcaster{
		pubsub: pubsub,
		logger: logger.With("component", "broadcaster"),
	}
}

// Broadcast publishes the event to every applicable scope. A failure on one
// scope does not prevent delivery to the others.
func (b *WatermillBroadcaster) Broadcast(ctx context.Context, event *TaskEvent) {
	payload, err := event.Marshal()
	if err != nil {
		b.logger.Error("failed to encode event, dropping",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err)
		return
	}

	for _, scope := range scopesFor(event) {
		msg := message.NewMessage(event.ID.String(), payload)
		msg.SetContext(ctx)

		if err := b.pubsub.Publish(scope.Topic(), msg); err != nil {
			b.logger.Error("failed to publish event, dropping for scope",
				"event_id", event.ID,
				"event_type", event.Type,
				"scope", scope.String(),
				"error", err)
		}
	}

	b.logger.Debug("event broadcast",
		"event_id", event.ID,
		"event_type", event.Type,
		"task_id", event.TaskID)
}

// Subscribe opens a feed for one scope and decodes events off the transport.
func (b *WatermillBroadcaster) Subscribe(ctx context.Context, scope Scope) (<-chan *TaskEvent, error) {
	messages, err := b.pubsub.Subscribe(ctx, scope.Topic())
	if err != nil {
		return nil, err
	}

	out := make(chan *TaskEvent, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			event, err := UnmarshalTaskEvent(msg.Payload)
			msg.Ack()
			if err != nil {
				b.logger.Warn("dropping undecodable event",
					"scope", scope.String(),
					"error", err)
				continue
			}

			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close shuts down the transport, closing all subscriber channels.
func (b *WatermillBroadcaster) Close() error {
	return b.pubsub.Close()
}
