package chains

import (
	"github.com/sasha-s/go-deadlock"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// Outbox is the ordered queue of messages an adapter still has to deliver.
type Outbox struct {
	mu       deadlock.Mutex
	messages []*types.Message
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// Push appends msg unless a message with the same key is already queued.
func (o *Outbox) Push(msg *types.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := msg.Key()
	for _, queued := range o.messages {
		if queued.Key() == key {
			return false
		}
	}
	o.messages = append(o.messages, msg)
	return true
}

// Heads returns the lowest-nonce message of every (sender, asset) lane, lanes
// ordered by their first appearance in the queue.
func (o *Outbox) Heads() []*types.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	type lane struct{ sender, asset string }
	index := make(map[lane]int)
	heads := make([]*types.Message, 0, len(o.messages))
	for _, msg := range o.messages {
		key := msg.Key()
		l := lane{key.Sender, key.AssetID}
		i, ok := index[l]
		if !ok {
			index[l] = len(heads)
			heads = append(heads, msg)
			continue
		}
		if msg.Nonce < heads[i].Nonce {
			heads[i] = msg
		}
	}
	return heads
}

func (o *Outbox) Remove(key types.TaskKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, msg := range o.messages {
		if msg.Key() == key {
			o.messages = append(o.messages[:i], o.messages[i+1:]...)
			return true
		}
	}
	return false
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}
