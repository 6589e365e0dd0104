// Package persist writes relayed messages to the store after delivery.
// The relay never waits for it: a storage failure is reported to the
// sender separately and never undoes a delivery.
package persist

import (
	"context"
	"time"

	"github.com/gfurtadoalmeida/deskhub/internal/bus"
	"github.com/gfurtadoalmeida/deskhub/internal/store"
	"github.com/gfurtadoalmeida/deskhub/internal/wire"
	"go.uber.org/zap"
)

// Store is the slice of the database the writer needs.
type Store interface {
	InsertMessage(m *store.Message) error
}

// Saved is the bus payload for a durably stored message.
type Saved struct {
	MessageID   string
	ClientMsgID string
	SenderID    string
}

// SaveFailed is the bus payload for a persistence failure. The message
// was already relayed.
type SaveFailed struct {
	MessageID   string
	ClientMsgID string
	SenderID    string
	Reason      string
}

// Writer subscribes to message.relayed events and persists each message
// outside any registry or session lock.
type Writer struct {
	db     Store
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewWriter creates a persistence writer.
func NewWriter(db Store, b *bus.Bus, logger *zap.Logger) *Writer {
	return &Writer{db: db, bus: b, logger: logger}
}

// Start begins consuming relayed messages.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	ch, unsub := w.bus.Subscribe("message.relayed", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				w.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the writer loop.
func (w *Writer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Writer) handle(evt bus.Event) {
	msg, ok := evt.Payload.(wire.Message)
	if !ok {
		return
	}

	err := w.db.InsertMessage(&store.Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		Kind:           msg.Kind,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		w.logger.Error("failed to persist message",
			zap.String("msg_id", msg.ID),
			zap.String("conversation", msg.ConversationID),
			zap.Error(err))
		w.bus.Publish(bus.Event{
			Kind:      "store.save_failed",
			Timestamp: time.Now(),
			Payload: SaveFailed{
				MessageID:   msg.ID,
				ClientMsgID: msg.ClientMsgID,
				SenderID:    msg.SenderID,
				Reason:      err.Error(),
			},
		})
		return
	}

	w.bus.Publish(bus.Event{
		Kind:      "store.saved",
		Timestamp: time.Now(),
		Payload: Saved{
			MessageID:   msg.ID,
			ClientMsgID: msg.ClientMsgID,
			SenderID:    msg.SenderID,
		},
	})
}
