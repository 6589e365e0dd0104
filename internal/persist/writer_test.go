package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gfurtadoalmeida/deskhub/internal/bus"
	"github.com/gfurtadoalmeida/deskhub/internal/store"
	"github.com/gfurtadoalmeida/deskhub/internal/wire"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu   sync.Mutex
	msgs []*store.Message
	err  error
}

func (s *fakeStore) InsertMessage(m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func startWriter(t *testing.T, db Store) *bus.Bus {
	t.Helper()
	b := bus.New()
	w := NewWriter(db, b, zap.NewNop())
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return b
}

func TestWriterPersistsRelayedMessage(t *testing.T) {
	db := &fakeStore{}
	b := startWriter(t, db)
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	b.Publish(bus.Event{
		Kind:      "message.relayed",
		Timestamp: time.Now(),
		Payload: wire.Message{
			ID: "m1", ClientMsgID: "c1", ConversationID: "conv-1",
			SenderID: "u1", Body: "hi", Kind: wire.KindText, CreatedAt: 1000,
		},
	})

	select {
	case evt := <-ch:
		if evt.Kind != "store.saved" {
			t.Fatalf("kind = %q, want store.saved", evt.Kind)
		}
		saved := evt.Payload.(Saved)
		if saved.MessageID != "m1" || saved.ClientMsgID != "c1" || saved.SenderID != "u1" {
			t.Errorf("saved = %+v", saved)
		}
	case <-time.After(time.Second):
		t.Fatal("no store.saved event")
	}

	if db.count() != 1 {
		t.Errorf("stored %d messages, want 1", db.count())
	}
}

func TestWriterReportsFailureWithoutRetry(t *testing.T) {
	db := &fakeStore{err: errors.New("disk full")}
	b := startWriter(t, db)
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	b.Publish(bus.Event{
		Kind:      "message.relayed",
		Timestamp: time.Now(),
		Payload:   wire.Message{ID: "m1", ClientMsgID: "c1", SenderID: "u1"},
	})

	select {
	case evt := <-ch:
		if evt.Kind != "store.save_failed" {
			t.Fatalf("kind = %q, want store.save_failed", evt.Kind)
		}
		failed := evt.Payload.(SaveFailed)
		if failed.SenderID != "u1" || failed.Reason == "" {
			t.Errorf("failed = %+v", failed)
		}
	case <-time.After(time.Second):
		t.Fatal("no store.save_failed event")
	}

	// One failure report, no retry.
	select {
	case evt := <-ch:
		t.Errorf("unexpected second event: %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWriterIgnoresForeignPayloads(t *testing.T) {
	db := &fakeStore{}
	b := startWriter(t, db)

	b.Publish(bus.Event{Kind: "message.relayed", Payload: "not a message"})

	time.Sleep(50 * time.Millisecond)
	if db.count() != 0 {
		t.Errorf("stored %d messages, want 0", db.count())
	}
}
