// Package memchain is an in-memory chain with per-sender nonces and a cooldown
// slot, used to exercise adapters and the relayer without a node.
package memchain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

type lane struct {
	sender  string
	assetID string
}

type slot struct {
	nonce   uint64
	matured bool
}

type sent struct {
	msg    *types.Message
	height uint64
}

// Chain implements chains.Chain.
type Chain struct {
	mu sync.Mutex

	name     string
	cooldown bool
	head     uint64

	nonces   map[lane]uint64
	slots    map[lane]*slot
	received map[types.TaskKey][]byte
	records  map[string]*types.Message
	sent     map[types.TaskKey]sent
	executed []types.TaskKey

	submitted []*types.Message
	triggered int

	// Err, when set, is returned by every chain read.
	Err error
}

var _ chains.Chain = (*Chain)(nil)

// New creates a chain; with cooldown every submitted message waits in the
// sender slot until Mature and Execute are called.
func New(name string, cooldown bool) *Chain {
	return &Chain{
		name:     name,
		cooldown: cooldown,
		nonces:   make(map[lane]uint64),
		slots:    make(map[lane]*slot),
		received: make(map[types.TaskKey][]byte),
		records:  make(map[string]*types.Message),
		sent:     make(map[types.TaskKey]sent),
	}
}

func laneOf(sender []byte, assetID string) lane {
	return lane{string(sender), assetID}
}

func (c *Chain) Name() string { return c.name }

func (c *Chain) SetHead(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = height
}

func (c *Chain) SetNonce(sender []byte, assetID string, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[laneOf(sender, assetID)] = nonce
}

// Send records msg as originated by this chain at height.
func (c *Chain) Send(msg *types.Message, height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[msg.Key()] = sent{msg: msg, height: height}
	if height > c.head {
		c.head = height
	}
}

// Record stores msg as received at its nonce without going through Submit, as
// if another relayer had delivered it.
func (c *Chain) Record(msg *types.Message, executed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	encoded, _ := encode(msg)
	c.received[msg.Key()] = encoded
	c.records[string(encoded)] = msg
	l := laneOf(msg.Sender, msg.AssetID)
	if executed {
		if c.nonces[l] <= msg.Nonce {
			c.nonces[l] = msg.Nonce + 1
		}
		c.executed = append(c.executed, msg.Key())
		return
	}
	c.slots[l] = &slot{nonce: msg.Nonce}
}

// Occupy fills the sender slot as if a message were cooling down.
func (c *Chain) Occupy(sender []byte, assetID string, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[laneOf(sender, assetID)] = &slot{nonce: nonce}
}

// Mature ends the cooldown of the message in the sender slot.
func (c *Chain) Mature(sender []byte, assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[laneOf(sender, assetID)]; ok {
		s.matured = true
	}
}

func (c *Chain) Submitted() []*types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Message(nil), c.submitted...)
}

func (c *Chain) Executed() []types.TaskKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.TaskKey(nil), c.executed...)
}

func (c *Chain) Triggered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggered
}

func (c *Chain) HeadHeight(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	return c.head, nil
}

func (c *Chain) CurrentNonce(_ context.Context, sender []byte, assetID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	return c.nonces[laneOf(sender, assetID)], nil
}

func (c *Chain) CachedSlot(_ context.Context, sender []byte, assetID string) (chains.Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return chains.Slot{}, c.Err
	}
	s, ok := c.slots[laneOf(sender, assetID)]
	if !ok {
		return chains.Slot{}, nil
	}
	return chains.Slot{Occupied: true, Nonce: s.nonce, Matured: s.matured}, nil
}

func (c *Chain) ReceivedRecord(_ context.Context, sender []byte, assetID string, nonce uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	key := types.TaskKey{Sender: fmt.Sprintf("%x", sender), Nonce: nonce, AssetID: assetID}
	return c.received[key], nil
}

func (c *Chain) Encode(msg *types.Message) ([]byte, error) {
	return encode(msg)
}

// Decode returns the full message for records this chain produced and a
// payload-less one otherwise.
func (c *Chain) Decode(record []byte) (*types.Message, error) {
	c.mu.Lock()
	full, ok := c.records[string(record)]
	c.mu.Unlock()
	if ok {
		msg := *full
		msg.Height = 0
		return &msg, nil
	}

	var wire wireMessage
	if err := rlp.DecodeBytes(record, &wire); err != nil {
		return nil, err
	}
	return &types.Message{
		Nonce:       wire.Nonce,
		OriginChain: wire.OriginChain,
		Sender:      wire.Sender,
		AssetID:     wire.AssetID,
		Signature:   wire.Signature,
	}, nil
}

// Submit mirrors a destination contract: the sender slot must be free and the
// nonce must be the next one.
func (c *Chain) Submit(_ context.Context, msg *types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}

	l := laneOf(msg.Sender, msg.AssetID)
	if _, ok := c.slots[l]; ok {
		return types.Anomaly("submit", fmt.Errorf("sender slot occupied"))
	}
	if c.nonces[l] != msg.Nonce {
		return types.Anomaly("submit", fmt.Errorf("bad nonce %d, expect %d", msg.Nonce, c.nonces[l]))
	}

	encoded, err := encode(msg)
	if err != nil {
		return err
	}
	c.received[msg.Key()] = encoded
	c.records[string(encoded)] = msg
	c.submitted = append(c.submitted, msg)
	c.head++
	if c.cooldown {
		c.slots[l] = &slot{nonce: msg.Nonce}
		return nil
	}
	c.nonces[l]++
	c.executed = append(c.executed, msg.Key())
	return nil
}

func (c *Chain) Execute(_ context.Context, sender []byte, assetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}

	l := laneOf(sender, assetID)
	s, ok := c.slots[l]
	if !ok || !s.matured {
		return types.Anomaly("execute", fmt.Errorf("nothing matured"))
	}
	delete(c.slots, l)
	c.nonces[l]++
	c.triggered++
	c.head++
	c.executed = append(c.executed, types.TaskKey{Sender: fmt.Sprintf("%x", sender), Nonce: s.nonce, AssetID: assetID})
	return nil
}

func (c *Chain) SentMessage(_ context.Context, sender []byte, assetID string, nonce uint64) (*types.Message, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, 0, c.Err
	}
	key := types.TaskKey{Sender: fmt.Sprintf("%x", sender), Nonce: nonce, AssetID: assetID}
	s, ok := c.sent[key]
	if !ok {
		return nil, 0, nil
	}
	msg := *s.msg
	return &msg, s.height, nil
}

// the wire format keeps only what restore needs to rebuild a task key
type wireMessage struct {
	Nonce       uint64
	OriginChain string
	Sender      []byte
	AssetID     string
	Signature   []byte
	Content     []byte
}

func encode(msg *types.Message) ([]byte, error) {
	content, err := msg.Content()
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&wireMessage{
		Nonce:       msg.Nonce,
		OriginChain: msg.OriginChain,
		Sender:      msg.Sender,
		AssetID:     msg.AssetID,
		Signature:   msg.Signature,
		Content:     content,
	})
}
