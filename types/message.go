package types

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Message is a cross-chain message as emitted by its origin chain. It is never
// mutated after it has been observed.
type Message struct {
	Nonce       uint64
	OriginChain string
	Initiator   []byte
	Sender      []byte
	AssetID     string
	Payload     []PayloadItem
	SQoS        []SQoSItem
	Signature   []byte

	// Height is the origin block the message was observed in. Not part of the
	// message content.
	Height uint64
}

// Member is a chain that must receive and confirm a message.
type Member struct {
	ChainID         string
	ContractAddress []byte
}

func (m *Message) Key() TaskKey {
	return TaskKey{
		Sender:  hex.EncodeToString(m.Sender),
		Nonce:   m.Nonce,
		AssetID: m.AssetID,
	}
}

func (m *Message) Validate() error {
	if m.OriginChain == "" {
		return fmt.Errorf("message has no origin chain")
	}
	if len(m.Sender) == 0 {
		return fmt.Errorf("message has no sender")
	}
	for _, item := range m.Payload {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Content returns a canonical encoding of the message content, used to compare
// a queued message with what a chain recorded for the same nonce.
func (m *Message) Content() ([]byte, error) {
	return rlp.EncodeToBytes(newCanonicalMessage(m))
}

// SameContent reports whether both messages carry identical content. Height is ignored.
func (m *Message) SameContent(other *Message) bool {
	a, err := m.Content()
	if err != nil {
		return false
	}
	b, err := other.Content()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func (m *Message) String() string {
	return fmt.Sprintf("{origin: %s, sender: %x, nonce: %d, asset: %q}", m.OriginChain, m.Sender, m.Nonce, m.AssetID)
}

type canonicalMessage struct {
	Nonce       uint64
	OriginChain string
	Initiator   []byte
	Sender      []byte
	AssetID     string
	Payload     []canonicalItem
	SQoS        []SQoSItem
	Signature   []byte
}

// ints are carried in decimal text since rlp has no signed integers
type canonicalItem struct {
	Name    string
	Type    uint8
	Str     string
	Int     string
	Strs    []string
	Ints    []string
	Chain   string
	Address []byte
}

func newCanonicalMessage(m *Message) *canonicalMessage {
	c := &canonicalMessage{
		Nonce:       m.Nonce,
		OriginChain: m.OriginChain,
		Initiator:   m.Initiator,
		Sender:      m.Sender,
		AssetID:     m.AssetID,
		Payload:     make([]canonicalItem, 0, len(m.Payload)),
		SQoS:        m.SQoS,
		Signature:   m.Signature,
	}
	if c.SQoS == nil {
		c.SQoS = []SQoSItem{}
	}

	for _, item := range m.Payload {
		ci := canonicalItem{
			Name: item.Name,
			Type: uint8(item.Type),
			Str:  item.Value.Str,
			Strs: item.Value.Strs,
		}
		if item.Value.Int != nil {
			ci.Int = item.Value.Int.String()
		}
		for _, v := range item.Value.Ints {
			ci.Ints = append(ci.Ints, v.String())
		}
		if item.Value.Address != nil {
			ci.Chain = item.Value.Address.Chain
			ci.Address = item.Value.Address.Raw
		}
		if ci.Strs == nil {
			ci.Strs = []string{}
		}
		if ci.Ints == nil {
			ci.Ints = []string{}
		}
		c.Payload = append(c.Payload, ci)
	}

	return c
}
