// Package broadcast is the peer channel between co-located terminals.
//
// Delivery is best-effort and at-most-once with no ordering guarantee:
// the reconciler must survive loss, duplication, and reordering, which
// it does by comparing per-order revisions, never wall clocks.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Type is the message kind.
type Type string

const (
	// TypeNewOrder announces an order created on a peer terminal.
	TypeNewOrder Type = "new-order"
	// TypeOrderUpdate announces a mutation of an existing order.
	TypeOrderUpdate Type = "order-update"
	// TypeSessionClosed announces a table session ending.
	TypeSessionClosed Type = "session-closed"
)

// Envelope is the typed message schema every handler receives.
//
// Revision carries the order's revision at send time so receivers can
// drop stale and duplicate messages without parsing the payload.
type Envelope struct {
	Type       Type            `json:"type"`
	TerminalID string          `json:"terminalId"`
	OrderID    string          `json:"orderId,omitempty"`
	Revision   int64           `json:"revision,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	SentAt     time.Time       `json:"sentAt"`
}

// Handler processes one received envelope. Handlers must be idempotent:
// the channel may deliver duplicates.
type Handler func(Envelope)

// Bus is the peer channel contract.
type Bus interface {
	// Publish sends an envelope to all peers. Best-effort: an error
	// means this terminal could not send, not that no peer received.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe registers a handler for incoming envelopes and returns
	// a stop function. A terminal never receives its own publishes.
	Subscribe(handler Handler) (stop func(), err error)

	// Close tears the channel down.
	Close() error
}

// Encode marshals a payload value into an envelope payload.
func Encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode broadcast payload: %w", err)
	}
	return b, nil
}
