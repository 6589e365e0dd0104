package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gfurtadoalmeida/deskhub/internal/bus"
	"github.com/gfurtadoalmeida/deskhub/internal/notify"
	"github.com/gfurtadoalmeida/deskhub/internal/presence"
	"github.com/gfurtadoalmeida/deskhub/internal/presence/presencetest"
	"github.com/gfurtadoalmeida/deskhub/internal/wire"
	"go.uber.org/zap"
)

var errUnknownConversation = errors.New("unknown conversation")

type fakeDirectory map[string][]string

func (d fakeDirectory) Members(_ context.Context, conversationID string) ([]string, error) {
	members, ok := d[conversationID]
	if !ok {
		return nil, errUnknownConversation
	}
	return members, nil
}

type fixture struct {
	relay    *Relay
	registry *presence.Registry
	notifier *notify.Aggregator
	bus      *bus.Bus
}

func newFixture(t *testing.T, dir fakeDirectory) *fixture {
	t.Helper()
	b := bus.New()
	reg := presence.NewRegistry(b, zap.NewNop())
	agg := notify.NewAggregator()
	return &fixture{
		relay:    New(reg, dir, agg, b, zap.NewNop()),
		registry: reg,
		notifier: agg,
		bus:      b,
	}
}

func msg(id, conv, sender, body string) wire.Message {
	return wire.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		Body:           body,
		Kind:           wire.KindText,
		CreatedAt:      time.Now().UnixMilli(),
	}
}

func TestRelayDeliversToEveryRecipientConnection(t *testing.T) {
	f := newFixture(t, fakeDirectory{"conv-1": {"u1", "u2", "u3"}})

	sender := presencetest.New("t0", "u1")
	u2a := presencetest.New("t1", "u2")
	u2b := presencetest.New("t2", "u2")
	_ = f.registry.Register("u1", sender)
	_ = f.registry.Register("u2", u2a)
	_ = f.registry.Register("u2", u2b)
	// u3 is offline.

	delivered, err := f.relay.Relay(context.Background(), msg("m1", "conv-1", "u1", "hi"), "agent")
	if err != nil {
		t.Fatalf("Relay() error = %v", err)
	}
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}

	for _, c := range []*presencetest.Conn{u2a, u2b} {
		if got := len(c.FramesOf(wire.EvtMessageDelivered)); got != 1 {
			t.Errorf("conn %s got %d deliveries, want exactly 1", c.Transport, got)
		}
		if got := len(c.FramesOf(wire.EvtNotificationRaised)); got != 1 {
			t.Errorf("conn %s got %d notifications, want 1", c.Transport, got)
		}
	}
	// The sender's own connection receives nothing.
	if got := len(sender.Frames()); got != 0 {
		t.Errorf("sender got %d frames, want 0", got)
	}

	// Offline u3 still accumulates an unread record.
	if counts := f.notifier.UnreadCounts("u3"); counts.Total != 1 {
		t.Errorf("u3 unread = %d, want 1", counts.Total)
	}
}

func TestRelayOfflineRecipientIsNotAnError(t *testing.T) {
	f := newFixture(t, fakeDirectory{"conv-1": {"u1", "u2"}})

	delivered, err := f.relay.Relay(context.Background(), msg("m1", "conv-1", "u1", "hi"), "customer")
	if err != nil {
		t.Fatalf("Relay() error = %v", err)
	}
	if delivered != 0 {
		t.Errorf("delivered = %d, want 0", delivered)
	}
}

func TestRelayUnknownConversation(t *testing.T) {
	f := newFixture(t, fakeDirectory{})
	_, err := f.relay.Relay(context.Background(), msg("m1", "nope", "u1", "hi"), "agent")
	if !errors.Is(err, errUnknownConversation) {
		t.Errorf("Relay() error = %v, want unknown conversation", err)
	}
}

func TestRelayFIFOPerSenderRecipientPair(t *testing.T) {
	f := newFixture(t, fakeDirectory{"conv-1": {"u1", "u2"}})
	recipient := presencetest.New("t1", "u2")
	_ = f.registry.Register("u2", recipient)

	for _, id := range []string{"m1", "m2", "m3"} {
		if _, err := f.relay.Relay(context.Background(), msg(id, "conv-1", "u1", id), "agent"); err != nil {
			t.Fatal(err)
		}
	}

	frames := recipient.FramesOf(wire.EvtMessageDelivered)
	if len(frames) != 3 {
		t.Fatalf("got %d deliveries, want 3", len(frames))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if got := frames[i].Data.(wire.Message).ID; got != want {
			t.Errorf("frame[%d] = %s, want %s", i, got, want)
		}
	}
}

func TestRelaySkipsNotificationWhenViewing(t *testing.T) {
	f := newFixture(t, fakeDirectory{"conv-1": {"u1", "u2"}})
	recipient := presencetest.New("t1", "u2")
	recipient.SetActiveConversation("conv-1")
	_ = f.registry.Register("u2", recipient)

	if _, err := f.relay.Relay(context.Background(), msg("m1", "conv-1", "u1", "hi"), "agent"); err != nil {
		t.Fatal(err)
	}

	if got := len(recipient.FramesOf(wire.EvtMessageDelivered)); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
	if got := len(recipient.FramesOf(wire.EvtNotificationRaised)); got != 0 {
		t.Errorf("notifications = %d, want 0 (recipient is viewing)", got)
	}
	if counts := f.notifier.UnreadCounts("u2"); counts.Total != 0 {
		t.Errorf("unread = %d, want 0", counts.Total)
	}
}

func TestRelayPublishesBusEvent(t *testing.T) {
	f := newFixture(t, fakeDirectory{"conv-1": {"u1", "u2"}})
	ch, unsub := f.bus.Subscribe("message.", 10)
	defer unsub()

	sent := msg("m1", "conv-1", "u1", "hi")
	if _, err := f.relay.Relay(context.Background(), sent, "agent"); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "message.relayed" {
			t.Errorf("kind = %q, want message.relayed", evt.Kind)
		}
		if got := evt.Payload.(wire.Message).ID; got != "m1" {
			t.Errorf("payload id = %s, want m1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no message.relayed event")
	}
}
