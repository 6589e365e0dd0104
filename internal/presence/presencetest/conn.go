// Package presencetest provides an in-memory Conn for exercising the
// realtime core without a websocket.
package presencetest

import (
	"sync"

	"github.com/gfurtadoalmeida/deskhub/internal/wire"
)

// Conn records every frame delivered to it.
type Conn struct {
	Transport string
	Identity  string
	Viewing   string // conversation id currently open on this connection

	mu     sync.Mutex
	frames []wire.Frame
	failed bool
}

// New creates a recording connection.
func New(transport, identity string) *Conn {
	return &Conn{Transport: transport, Identity: identity}
}

func (c *Conn) TransportID() string { return c.Transport }
func (c *Conn) IdentityID() string  { return c.Identity }

// ActiveConversation reports the conversation this connection is viewing.
func (c *Conn) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Viewing
}

// SetActiveConversation sets the viewed conversation.
func (c *Conn) SetActiveConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Viewing = id
}

// Fail makes subsequent Deliver calls return an error.
func (c *Conn) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = true
}

// Deliver records the frame.
func (c *Conn) Deliver(frame wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return errDelivery
	}
	c.frames = append(c.frames, frame)
	return nil
}

// Frames returns a copy of everything delivered so far.
func (c *Conn) Frames() []wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// FramesOf returns delivered frames with the given event name.
func (c *Conn) FramesOf(event string) []wire.Frame {
	var out []wire.Frame
	for _, f := range c.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

type deliveryError struct{}

func (deliveryError) Error() string { return "delivery failed" }

var errDelivery = deliveryError{}
