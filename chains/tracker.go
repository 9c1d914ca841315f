package chains

import (
	"sort"

	"github.com/sasha-s/go-deadlock"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// Tracker remembers the block heights of messages that are not finalized yet,
// so the checkpoint never moves past a message that may need replaying.
type Tracker struct {
	mu      deadlock.Mutex
	scanned uint64
	heights map[types.TaskKey]uint64
}

func NewTracker(scanned uint64) *Tracker {
	return &Tracker{
		scanned: scanned,
		heights: make(map[types.TaskKey]uint64),
	}
}

// Track records key at height; a lower height for an already tracked key wins.
func (t *Tracker) Track(key types.TaskKey, height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.heights[key]; ok && h <= height {
		return
	}
	t.heights[key] = height
}

func (t *Tracker) Finalize(key types.TaskKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.heights[key]; !ok {
		return false
	}
	delete(t.heights, key)
	return true
}

func (t *Tracker) SetScanned(height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if height > t.scanned {
		t.scanned = height
	}
}

func (t *Tracker) Scanned() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanned
}

// SafeHeight is the highest height a restart may resume after without losing
// an unfinalized message.
func (t *Tracker) SafeHeight() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	safe := t.scanned
	for _, h := range t.heights {
		if h == 0 {
			return 0
		}
		if h-1 < safe {
			safe = h - 1
		}
	}
	return safe
}

// TrackedEntry is a message still waiting for finalization.
type TrackedEntry struct {
	Key    types.TaskKey
	Height uint64
}

func (t *Tracker) Waiting() []TrackedEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]TrackedEntry, 0, len(t.heights))
	for key, h := range t.heights {
		entries = append(entries, TrackedEntry{Key: key, Height: h})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Height == entries[j].Height {
			return entries[i].Key.String() < entries[j].Key.String()
		}
		return entries[i].Height < entries[j].Height
	})
	return entries
}
