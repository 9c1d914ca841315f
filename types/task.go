package types

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/blake2b"
)

// TaskKey identifies one cross-chain message across every chain it touches.
type TaskKey struct {
	Sender  string // hex encoded sender identity
	Nonce   uint64
	AssetID string
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Sender, k.Nonce, k.AssetID)
}

// Digest is a fixed width identifier for the key, usable as a storage field.
func (k TaskKey) Digest() string {
	raw, err := rlp.EncodeToBytes([]interface{}{k.Sender, k.Nonce, k.AssetID})
	if err != nil {
		// strings and uint64 always encode
		panic(err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func (k TaskKey) SenderBytes() ([]byte, error) {
	return hex.DecodeString(k.Sender)
}

// Task tracks which member chains have not confirmed a message yet.
type Task struct {
	Key           TaskKey
	OriginChain   string
	Members       []Member
	PendingChains map[string]struct{}
	// Heights holds the block height at which a member received the message.
	Heights map[string]uint64
}

func (t *Task) Pending() []string {
	chains := make([]string, 0, len(t.PendingChains))
	for chain := range t.PendingChains {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

// Entry is the recovery record of t.
func (t *Task) Entry() *PendingEntry {
	heights := make(map[string]uint64, len(t.Heights))
	for chain, h := range t.Heights {
		heights[chain] = h
	}
	return &PendingEntry{
		Key:         t.Key,
		OriginChain: t.OriginChain,
		Members:     append([]Member(nil), t.Members...),
		Pending:     t.Pending(),
		Heights:     heights,
	}
}

// PendingEntry is the recovery record of a task still open at last shutdown.
type PendingEntry struct {
	Key         TaskKey
	OriginChain string
	Members     []Member
	Pending     []string
	// Heights holds the last known block height per member chain.
	Heights map[string]uint64
}

func (e *PendingEntry) Names(chain string) bool {
	if e.OriginChain == chain {
		return true
	}
	for _, m := range e.Members {
		if m.ChainID == chain {
			return true
		}
	}
	return false
}

func (e *PendingEntry) IsPending(chain string) bool {
	for _, c := range e.Pending {
		if c == chain {
			return true
		}
	}
	return false
}

type PendingSnapshot map[TaskKey]*PendingEntry
