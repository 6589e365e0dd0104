package notify

import (
	"testing"
	"time"
)

func TestObserveCollapsesPerSenderConversation(t *testing.T) {
	a := NewAggregator()

	first := a.Observe("u2", "u1", "conv-1", "agent")
	time.Sleep(time.Millisecond)
	second := a.Observe("u2", "u1", "conv-1", "agent")

	counts := a.UnreadCounts("u2")
	if counts.Total != 1 {
		t.Errorf("Total = %d, want 1 (two messages collapse into one record)", counts.Total)
	}
	if !second.At.After(first.At) {
		t.Error("collapsed record should advance its timestamp")
	}
}

func TestObserveDistinctPairs(t *testing.T) {
	a := NewAggregator()

	a.Observe("u3", "u1", "conv-1", "agent")
	a.Observe("u3", "u2", "conv-1", "customer")
	a.Observe("u3", "u1", "conv-2", "agent")

	counts := a.UnreadCounts("u3")
	if counts.Total != 3 {
		t.Errorf("Total = %d, want 3", counts.Total)
	}
	if counts.ByCategory["agent"] != 2 || counts.ByCategory["customer"] != 1 {
		t.Errorf("ByCategory = %v, want agent:2 customer:1", counts.ByCategory)
	}
}

func TestAcknowledgeSingle(t *testing.T) {
	a := NewAggregator()
	a.Observe("u2", "u1", "conv-1", "agent")
	a.Observe("u2", "u9", "conv-9", "customer")

	flipped := a.Acknowledge("u2", Scope{SenderID: "u1", ConversationID: "conv-1"})
	if flipped != 1 {
		t.Errorf("flipped = %d, want 1", flipped)
	}
	if counts := a.UnreadCounts("u2"); counts.Total != 1 {
		t.Errorf("Total = %d, want 1", counts.Total)
	}
}

func TestAcknowledgeAll(t *testing.T) {
	a := NewAggregator()
	a.Observe("u2", "u1", "conv-1", "agent")
	a.Observe("u2", "u9", "conv-9", "customer")

	if flipped := a.Acknowledge("u2", Scope{All: true}); flipped != 2 {
		t.Errorf("flipped = %d, want 2", flipped)
	}
	if counts := a.UnreadCounts("u2"); counts.Total != 0 {
		t.Errorf("Total = %d, want 0", counts.Total)
	}
}

func TestAcknowledgeIsMonotonicAndIdempotent(t *testing.T) {
	a := NewAggregator()
	a.Observe("u2", "u1", "conv-1", "agent")

	if flipped := a.Acknowledge("u2", Scope{All: true}); flipped != 1 {
		t.Fatalf("flipped = %d, want 1", flipped)
	}
	// Second ack has nothing left to flip.
	if flipped := a.Acknowledge("u2", Scope{All: true}); flipped != 0 {
		t.Errorf("second ack flipped = %d, want 0", flipped)
	}
}

func TestAcknowledgeReleasesRecords(t *testing.T) {
	a := NewAggregator()
	a.Observe("u2", "u1", "conv-1", "agent")
	a.Observe("u2", "u9", "conv-9", "customer")

	a.Acknowledge("u2", Scope{All: true})

	// Cleared records are dropped, not kept around flagged read; the
	// recipient's entry disappears entirely once the last one goes.
	a.mu.Lock()
	_, held := a.byRecipient["u2"]
	a.mu.Unlock()
	if held {
		t.Error("acknowledged records should be removed, not retained")
	}
}

func TestObserveAfterAcknowledgeCreatesFreshRecord(t *testing.T) {
	a := NewAggregator()
	a.Observe("u2", "u1", "conv-1", "agent")
	a.Acknowledge("u2", Scope{All: true})

	rec := a.Observe("u2", "u1", "conv-1", "agent")
	if rec.Read {
		t.Error("new message after ack should produce an unread record")
	}
	if counts := a.UnreadCounts("u2"); counts.Total != 1 {
		t.Errorf("Total = %d, want 1", counts.Total)
	}
}

func TestClearConversation(t *testing.T) {
	a := NewAggregator()
	a.Observe("u2", "u1", "conv-1", "agent")
	a.Observe("u2", "u9", "conv-1", "customer")
	a.Observe("u2", "u1", "conv-2", "agent")

	a.ClearConversation("u2", "conv-1")

	counts := a.UnreadCounts("u2")
	if counts.Total != 1 {
		t.Errorf("Total = %d, want 1 (only conv-2 remains)", counts.Total)
	}
}

func TestScopeByConversationOnly(t *testing.T) {
	a := NewAggregator()
	a.Observe("u2", "u1", "conv-1", "agent")
	a.Observe("u2", "u9", "conv-1", "customer")
	a.Observe("u2", "u1", "conv-2", "agent")

	if flipped := a.Acknowledge("u2", Scope{ConversationID: "conv-1"}); flipped != 2 {
		t.Errorf("flipped = %d, want 2", flipped)
	}
}

func TestUnreadCountsUnknownRecipient(t *testing.T) {
	a := NewAggregator()
	if counts := a.UnreadCounts("ghost"); counts.Total != 0 {
		t.Errorf("Total = %d, want 0", counts.Total)
	}
}
