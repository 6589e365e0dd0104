// Package relay pushes chat messages to the currently-connected
// recipients. Delivery is independent of persistence: a message reaches
// live connections first, durable storage happens afterwards.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/gfurtadoalmeida/deskhub/internal/bus"
	"github.com/gfurtadoalmeida/deskhub/internal/notify"
	"github.com/gfurtadoalmeida/deskhub/internal/presence"
	"github.com/gfurtadoalmeida/deskhub/internal/wire"
	"go.uber.org/zap"
)

// Directory resolves conversation membership. Satisfied by the store;
// the lookup is I/O and happens before any registry access.
type Directory interface {
	Members(ctx context.Context, conversationID string) ([]string, error)
}

// Notifier folds relayed messages into unread state.
type Notifier interface {
	Observe(recipient, sender, conversation, category string) notify.Record
}

// Relay fans a message out to every connection of every conversation
// member except the sender.
type Relay struct {
	registry *presence.Registry
	dir      Directory
	notifier Notifier
	bus      *bus.Bus
	logger   *zap.Logger
}

// New creates a relay.
func New(registry *presence.Registry, dir Directory, notifier Notifier, b *bus.Bus, logger *zap.Logger) *Relay {
	return &Relay{
		registry: registry,
		dir:      dir,
		notifier: notifier,
		bus:      b,
		logger:   logger,
	}
}

// Relay delivers msg to the conversation's other members and returns the
// number of connections reached. Zero is a normal result: everyone was
// offline, and their unread records are still created. senderCategory is
// the sender's role bucket carried into notifications.
//
// Messages from one sender to one conversation keep their call order per
// recipient connection; each connection sees a given send at most once.
func (r *Relay) Relay(ctx context.Context, msg wire.Message, senderCategory string) (int, error) {
	members, err := r.dir.Members(ctx, msg.ConversationID)
	if err != nil {
		return 0, fmt.Errorf("resolve conversation %s: %w", msg.ConversationID, err)
	}

	delivered := 0
	for _, member := range members {
		if member == msg.SenderID {
			continue
		}
		conns := r.registry.Lookup(member)

		viewing := false
		for _, conn := range conns {
			if v, ok := conn.(presence.Viewer); ok && v.ActiveConversation() == msg.ConversationID {
				viewing = true
				break
			}
		}

		frame := wire.Frame{Event: wire.EvtMessageDelivered, Data: msg}
		for _, conn := range conns {
			if err := conn.Deliver(frame); err != nil {
				r.logger.Warn("message delivery failed",
					zap.String("recipient", member),
					zap.String("transport", conn.TransportID()),
					zap.Error(err))
				continue
			}
			delivered++
		}

		// A recipient looking at the conversation has effectively read
		// the message already; everyone else gets an unread marker.
		if !viewing {
			rec := r.notifier.Observe(member, msg.SenderID, msg.ConversationID, senderCategory)
			raised := wire.Frame{
				Event: wire.EvtNotificationRaised,
				Data: wire.NotificationRaised{
					SenderID:       msg.SenderID,
					ConversationID: msg.ConversationID,
					At:             rec.At.UnixMilli(),
				},
			}
			for _, conn := range conns {
				if err := conn.Deliver(raised); err != nil {
					r.logger.Warn("notification delivery failed",
						zap.String("recipient", member),
						zap.String("transport", conn.TransportID()),
						zap.Error(err))
				}
			}
		}
	}

	r.bus.Publish(bus.Event{
		Kind:      "message.relayed",
		Timestamp: time.Now(),
		Payload:   msg,
	})
	return delivered, nil
}
