package chains_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains/memchain"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

var sender = []byte{0xde, 0xad}

func newMessage(nonce uint64) *types.Message {
	return &types.Message{
		Nonce:       nonce,
		OriginChain: "A",
		Sender:      sender,
		AssetID:     "token",
		Payload:     []types.PayloadItem{types.StringItem("memo", "hi")},
		Signature:   []byte{0x01},
	}
}

func TestDeliverCachingWhenNonceNotReached(t *testing.T) {
	chain := memchain.New("B", false)
	chain.SetNonce(sender, "token", 2)

	outcome, err := chains.Deliver(context.Background(), chain, newMessage(3))
	require.NoError(t, err)
	require.Equal(t, chains.OutcomeCaching, outcome)
	require.False(t, outcome.Dequeue())
	require.Empty(t, chain.Submitted())
}

func TestDeliverSubmitsAtCurrentNonce(t *testing.T) {
	chain := memchain.New("B", false)
	chain.SetNonce(sender, "token", 3)

	outcome, err := chains.Deliver(context.Background(), chain, newMessage(3))
	require.NoError(t, err)
	require.Equal(t, chains.OutcomeDelivered, outcome)
	require.True(t, outcome.Dequeue())
	require.Len(t, chain.Submitted(), 1)
}

func TestDeliverWaitsWhileSlotOccupied(t *testing.T) {
	chain := memchain.New("B", true)
	chain.Occupy(sender, "token", 0)

	outcome, err := chains.Deliver(context.Background(), chain, newMessage(0))
	require.NoError(t, err)
	require.Equal(t, chains.OutcomeCoolingDown, outcome)
	require.Empty(t, chain.Submitted())

	// a matured but unexecuted slot still holds the sender
	chain.Mature(sender, "token")
	outcome, err = chains.Deliver(context.Background(), chain, newMessage(0))
	require.NoError(t, err)
	require.Equal(t, chains.OutcomeCoolingDown, outcome)
	require.Empty(t, chain.Submitted())
}

func TestDeliverAlreadyRecorded(t *testing.T) {
	chain := memchain.New("B", false)
	chain.Record(newMessage(0), true)

	outcome, err := chains.Deliver(context.Background(), chain, newMessage(0))
	require.NoError(t, err)
	require.Equal(t, chains.OutcomeAlreadyDelivered, outcome)
	require.True(t, outcome.Dequeue())
	require.Empty(t, chain.Submitted())
}

func TestDeliverRecordMismatch(t *testing.T) {
	chain := memchain.New("B", false)
	other := newMessage(0)
	other.Signature = []byte{0x02}
	chain.Record(other, true)

	outcome, err := chains.Deliver(context.Background(), chain, newMessage(0))
	require.Error(t, err)
	require.True(t, types.IsAnomaly(err))
	require.Equal(t, chains.OutcomeMismatch, outcome)
	require.True(t, outcome.Dequeue())
	require.Empty(t, chain.Submitted())
}

func TestDeliverMissingRecordIsMismatch(t *testing.T) {
	chain := memchain.New("B", false)
	chain.SetNonce(sender, "token", 5)

	outcome, err := chains.Deliver(context.Background(), chain, newMessage(1))
	require.True(t, types.IsAnomaly(err))
	require.Equal(t, chains.OutcomeMismatch, outcome)
}

func TestDeliverTransientFailure(t *testing.T) {
	chain := memchain.New("B", false)
	chain.Err = types.Transient("get nonce", errors.New("connection refused"))

	outcome, err := chains.Deliver(context.Background(), chain, newMessage(0))
	require.Error(t, err)
	require.Equal(t, chains.OutcomeFailed, outcome)
	require.False(t, outcome.Dequeue())
}

func TestOutboxHeadsPerLane(t *testing.T) {
	outbox := chains.NewOutbox()
	m2 := newMessage(2)
	m1 := newMessage(1)
	other := newMessage(0)
	other.Sender = []byte{0x01}

	require.True(t, outbox.Push(m2))
	require.True(t, outbox.Push(other))
	require.True(t, outbox.Push(m1))
	require.False(t, outbox.Push(newMessage(1)))
	require.Equal(t, 3, outbox.Len())

	heads := outbox.Heads()
	require.Len(t, heads, 2)
	require.Equal(t, uint64(1), heads[0].Nonce)
	require.Equal(t, other.Key(), heads[1].Key())

	require.True(t, outbox.Remove(m1.Key()))
	require.False(t, outbox.Remove(m1.Key()))
	require.Equal(t, uint64(2), outbox.Heads()[0].Nonce)
}

func TestTrackerSafeHeight(t *testing.T) {
	tracker := chains.NewTracker(100)
	require.Equal(t, uint64(100), tracker.SafeHeight())

	k1 := newMessage(1).Key()
	k2 := newMessage(2).Key()
	tracker.Track(k1, 40)
	tracker.Track(k2, 60)
	tracker.Track(k2, 70)
	require.Equal(t, uint64(39), tracker.SafeHeight())

	require.True(t, tracker.Finalize(k1))
	require.False(t, tracker.Finalize(k1))
	require.Equal(t, uint64(59), tracker.SafeHeight())

	tracker.SetScanned(50)
	require.Equal(t, uint64(100), tracker.Scanned())
	require.Len(t, tracker.Waiting(), 1)
}
