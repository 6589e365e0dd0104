package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/gfurtadoalmeida/deskhub/internal/bus"
	"github.com/gfurtadoalmeida/deskhub/internal/presence/presencetest"
	"go.uber.org/zap"
)

func testRegistry(t *testing.T) (*Registry, *bus.Bus) {
	t.Helper()
	b := bus.New()
	return NewRegistry(b, zap.NewNop()), b
}

func TestRegisterAndLookup(t *testing.T) {
	r, _ := testRegistry(t)

	c1 := presencetest.New("t1", "u1")
	c2 := presencetest.New("t2", "u1")
	if err := r.Register("u1", c1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("u1", c2); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	conns := r.Lookup("u1")
	if len(conns) != 2 {
		t.Fatalf("Lookup() returned %d conns, want 2", len(conns))
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r, _ := testRegistry(t)

	c := presencetest.New("t1", "u1")
	if err := r.Register("u1", c); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("u1", c); err != nil {
		t.Errorf("re-registering same connection should be a no-op, got %v", err)
	}
	if got := len(r.Lookup("u1")); got != 1 {
		t.Errorf("Lookup() returned %d conns, want 1", got)
	}
}

func TestRegisterDuplicateTransport(t *testing.T) {
	r, _ := testRegistry(t)

	c := presencetest.New("t1", "u1")
	if err := r.Register("u1", c); err != nil {
		t.Fatal(err)
	}
	err := r.Register("u2", c)
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Errorf("Register() error = %v, want ErrDuplicateConnection", err)
	}
}

func TestLookupAbsentIdentity(t *testing.T) {
	r, _ := testRegistry(t)
	if conns := r.Lookup("ghost"); len(conns) != 0 {
		t.Errorf("Lookup(absent) = %v, want empty", conns)
	}
}

// Presence entry exists iff at least one connection references the
// identity: after arbitrary register/unregister sequences, Lookup
// reflects exactly the still-open connections.
func TestRegisterUnregisterSequence(t *testing.T) {
	r, _ := testRegistry(t)

	c1 := presencetest.New("t1", "u1")
	c2 := presencetest.New("t2", "u1")
	c3 := presencetest.New("t3", "u2")

	_ = r.Register("u1", c1)
	_ = r.Register("u1", c2)
	_ = r.Register("u2", c3)
	r.Unregister(c1)

	if got := len(r.Lookup("u1")); got != 1 {
		t.Errorf("u1 has %d conns, want 1", got)
	}
	r.Unregister(c2)
	if got := len(r.Lookup("u1")); got != 0 {
		t.Errorf("u1 has %d conns, want 0", got)
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0] != "u2" {
		t.Errorf("Snapshot() = %v, want [u2]", snap)
	}
}

func TestUnregisterUnknownConnIsNoop(t *testing.T) {
	r, _ := testRegistry(t)
	r.Unregister(presencetest.New("t9", "u9"))
	if len(r.Snapshot()) != 0 {
		t.Error("registry should remain empty")
	}
}

func TestSnapshotSorted(t *testing.T) {
	r, _ := testRegistry(t)
	_ = r.Register("u3", presencetest.New("t3", "u3"))
	_ = r.Register("u1", presencetest.New("t1", "u1"))
	_ = r.Register("u2", presencetest.New("t2", "u2"))

	snap := r.Snapshot()
	want := []string{"u1", "u2", "u3"}
	for i := range want {
		if snap[i] != want[i] {
			t.Fatalf("Snapshot() = %v, want %v", snap, want)
		}
	}
}

func TestPresenceChangedEvents(t *testing.T) {
	r, b := testRegistry(t)
	ch, unsub := b.Subscribe("presence.", 10)
	defer unsub()

	c := presencetest.New("t1", "u1")
	_ = r.Register("u1", c)

	select {
	case evt := <-ch:
		snap, ok := evt.Payload.([]string)
		if !ok {
			t.Fatalf("payload type = %T, want []string", evt.Payload)
		}
		if len(snap) != 1 || snap[0] != "u1" {
			t.Errorf("snapshot = %v, want [u1]", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no presence.changed after register")
	}

	r.Unregister(c)
	select {
	case evt := <-ch:
		if snap := evt.Payload.([]string); len(snap) != 0 {
			t.Errorf("snapshot after unregister = %v, want empty", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no presence.changed after unregister")
	}
}
