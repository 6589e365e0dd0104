// Package notify derives per-recipient unread indicators from relayed
// messages and read acknowledgements. Records live in memory with the
// server process; unread state is rebuilt from client activity after a
// restart.
package notify

import (
	"sync"
	"time"
)

// Record is one unread marker: a recipient has unseen messages from a
// sender in a conversation. Messages collapse per (sender, conversation)
// pair, so the unread count is bounded by distinct pairs, not message
// volume. The Read flag is monotonic: an acknowledged record is removed
// rather than kept flipped, and a new message afterwards creates a fresh
// unread record, so the flag never reverts and the aggregator only holds
// live unread state.
type Record struct {
	SenderID       string
	ConversationID string
	Category       string // sender role bucket (agent/customer)
	Read           bool
	At             time.Time
}

type recordKey struct {
	sender       string
	conversation string
}

// Scope selects which of a recipient's records an acknowledgement
// touches: all of them, one conversation, or one (sender, conversation)
// pair. This is the single mutation entry point for read state.
type Scope struct {
	All            bool
	SenderID       string
	ConversationID string
}

func (s Scope) matches(k recordKey) bool {
	if s.All {
		return true
	}
	if s.ConversationID != "" && s.ConversationID != k.conversation {
		return false
	}
	if s.SenderID != "" && s.SenderID != k.sender {
		return false
	}
	return s.ConversationID != "" || s.SenderID != ""
}

// Aggregator holds every recipient's unread records.
type Aggregator struct {
	mu          sync.Mutex
	byRecipient map[string]map[recordKey]*Record
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{byRecipient: make(map[string]map[recordKey]*Record)}
}

// Observe folds one relayed message into the recipient's unread state and
// returns the resulting record. An existing record for the same
// (sender, conversation) pair only advances its timestamp; an absent one
// (including one cleared by an earlier acknowledgement) gets a fresh
// unread record.
func (a *Aggregator) Observe(recipient, sender, conversation, category string) Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	records := a.byRecipient[recipient]
	if records == nil {
		records = make(map[recordKey]*Record)
		a.byRecipient[recipient] = records
	}

	key := recordKey{sender: sender, conversation: conversation}
	now := time.Now()
	if rec, ok := records[key]; ok {
		rec.At = now
		rec.Category = category
		return *rec
	}
	rec := &Record{
		SenderID:       sender,
		ConversationID: conversation,
		Category:       category,
		At:             now,
	}
	records[key] = rec
	return *rec
}

// Acknowledge clears the recipient's records matched by scope and returns
// how many were cleared. Matched records are removed outright so the
// recipient's set never grows past their live unread pairs.
func (a *Aggregator) Acknowledge(recipient string, scope Scope) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	records := a.byRecipient[recipient]
	cleared := 0
	for key := range records {
		if !scope.matches(key) {
			continue
		}
		delete(records, key)
		cleared++
	}
	if len(records) == 0 {
		delete(a.byRecipient, recipient)
	}
	return cleared
}

// ClearConversation drops the recipient's records for a conversation,
// read or not. Called when the recipient opens the conversation.
func (a *Aggregator) ClearConversation(recipient, conversation string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	records := a.byRecipient[recipient]
	for key := range records {
		if key.conversation == conversation {
			delete(records, key)
		}
	}
	if len(records) == 0 {
		delete(a.byRecipient, recipient)
	}
}

// Counts is the unread projection for one recipient.
type Counts struct {
	Total      int
	ByCategory map[string]int
}

// UnreadCounts walks only the recipient's live records, so cost is
// bounded by that recipient's unread set.
func (a *Aggregator) UnreadCounts(recipient string) Counts {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := Counts{ByCategory: make(map[string]int)}
	for _, rec := range a.byRecipient[recipient] {
		counts.Total++
		counts.ByCategory[rec.Category]++
	}
	return counts
}
