package bus

import "time"

// Event is a domain event published on the bus. Kind is a dot-separated
// name ("presence.changed", "message.relayed", "store.saved", ...); a
// subscriber's namespace prefix selects which kinds it receives.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
