package split

import (
	"encoding/json"
	"fmt"
)

// AggregateProof is the audit record attached to a split-settled order
// as its payment proof: the full list of individual portion payments.
//
// Serialization is deterministic: payments are sorted by portion number
// and field order is fixed, so the same session always produces the same
// proof bytes.
type AggregateProof struct {
	SessionID string    `json:"sessionId"`
	OrderID   string    `json:"orderId"`
	Parties   int       `json:"parties"`
	Payments  []Payment `json:"payments"`
}

// MarshalProof serializes an aggregate proof to compact JSON for storage
// on the order.
func MarshalProof(p AggregateProof) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal aggregate proof: %w", err)
	}
	return string(b), nil
}

// UnmarshalProof parses a stored aggregate proof.
func UnmarshalProof(s string) (AggregateProof, error) {
	var p AggregateProof
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return AggregateProof{}, fmt.Errorf("unmarshal aggregate proof: %w", err)
	}
	return p, nil
}
