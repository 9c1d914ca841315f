package chains

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// Slot is the single per-sender cooldown slot a chain keeps for delayed execution.
type Slot struct {
	Occupied bool
	Nonce    uint64
	// Matured is set once the cooldown elapsed and the held message can be executed.
	Matured bool
}

// Target is the chain access the delivery algorithm needs. Implementations wrap
// their own RPC errors with types.Transient or types.Anomaly.
type Target interface {
	CurrentNonce(ctx context.Context, sender []byte, assetID string) (uint64, error)
	CachedSlot(ctx context.Context, sender []byte, assetID string) (Slot, error)
	// ReceivedRecord returns the encoded message the chain holds for nonce, nil if none.
	ReceivedRecord(ctx context.Context, sender []byte, assetID string, nonce uint64) ([]byte, error)
	// Encode produces the same bytes ReceivedRecord returns for an equal message.
	Encode(msg *types.Message) ([]byte, error)
	// Submit returns once the chain accepted the message.
	Submit(ctx context.Context, msg *types.Message) error
	// Execute asks the chain to run the matured message held in the sender's slot.
	Execute(ctx context.Context, sender []byte, assetID string) error
}

type Outcome int

const (
	// OutcomeFailed: a transient error, retry next tick.
	OutcomeFailed Outcome = iota
	// OutcomeCaching: the chain has not reached the message nonce yet.
	OutcomeCaching
	// OutcomeCoolingDown: the sender slot is occupied.
	OutcomeCoolingDown
	// OutcomeDelivered: submitted and accepted.
	OutcomeDelivered
	// OutcomeAlreadyDelivered: the chain recorded identical content at this nonce.
	OutcomeAlreadyDelivered
	// OutcomeMismatch: the chain recorded different content at this nonce.
	OutcomeMismatch
	// OutcomeRejected: the chain refused the message for good.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomeCaching:
		return "caching"
	case OutcomeCoolingDown:
		return "cooling down"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeAlreadyDelivered:
		return "already delivered"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeRejected:
		return "rejected"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Dequeue reports whether the message leaves the outbox after this outcome.
func (o Outcome) Dequeue() bool {
	switch o {
	case OutcomeDelivered, OutcomeAlreadyDelivered, OutcomeMismatch, OutcomeRejected:
		return true
	}
	return false
}

// Deliver makes one nonce-ordered, cooldown-aware delivery attempt of msg to target.
// At most one submission per sender is in flight: nothing is submitted while
// the sender's slot is occupied.
func Deliver(ctx context.Context, target Target, msg *types.Message) (Outcome, error) {
	nonce, err := target.CurrentNonce(ctx, msg.Sender, msg.AssetID)
	if err != nil {
		return OutcomeFailed, err
	}

	switch {
	case nonce < msg.Nonce:
		return OutcomeCaching, nil

	case nonce == msg.Nonce:
		slot, err := target.CachedSlot(ctx, msg.Sender, msg.AssetID)
		if err != nil {
			return OutcomeFailed, err
		}
		if slot.Occupied {
			return OutcomeCoolingDown, nil
		}
		if err := target.Submit(ctx, msg); err != nil {
			if types.IsAnomaly(err) {
				return OutcomeRejected, err
			}
			return OutcomeFailed, err
		}
		return OutcomeDelivered, nil

	default:
		record, err := target.ReceivedRecord(ctx, msg.Sender, msg.AssetID, msg.Nonce)
		if err != nil {
			return OutcomeFailed, err
		}
		expected, err := target.Encode(msg)
		if err != nil {
			return OutcomeMismatch, types.Anomaly("encode message", err)
		}
		if !bytes.Equal(record, expected) {
			return OutcomeMismatch, types.Anomaly("compare record",
				fmt.Errorf("chain record at nonce %d differs from queued message", msg.Nonce))
		}
		return OutcomeAlreadyDelivered, nil
	}
}
