package flat

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory/vector"
)

// Index is an exact, in-memory vector index over all users.
// Vectors live in one slice in insertion order; a slot is the position in
// that slice. A side table records which user owns each slot.
type Index struct {
	dimensions int
	vectors    []core.Embedding
	owners     []string
	mu         sync.RWMutex
}

// New creates an empty index for vectors of the given size.
func New(dimensions int) *Index {
	if dimensions <= 0 {
		dimensions = core.Dimensions
	}
	return &Index{dimensions: dimensions}
}

// Insert appends vec and returns its slot.
func (x *Index) Insert(ctx context.Context, userID string, vec []float32) (int, error) {
	if err := core.CheckDimensions(vec, x.dimensions); err != nil {
		return -1, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	slot := len(x.vectors)
	x.vectors = append(x.vectors, core.Embedding(vec).Clone())
	x.owners = append(x.owners, userID)
	return slot, nil
}

// FlatScan computes the cosine similarity between query and each of the
// given slots and returns them ranked, highest first. Slots owned by another
// user are skipped.
func (x *Index) FlatScan(ctx context.Context, userID string, query []float32, slots []int) ([]core.Match, error) {
	if err := core.CheckDimensions(query, x.dimensions); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	matches := make([]core.Match, 0, len(slots))
	for _, slot := range slots {
		if slot < 0 || slot >= len(x.vectors) {
			return nil, fmt.Errorf("slot %d out of range [0,%d)", slot, len(x.vectors))
		}
		if x.owners[slot] != userID {
			log.Printf("[INDEX] Skipping slot %d: owned by another user", slot)
			continue
		}
		matches = append(matches, core.Match{
			Slot:  slot,
			Score: vector.Cosine(query, x.vectors[slot]),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// Nearest returns the k slots closest to query by squared Euclidean distance,
// searching every user. Equal distances are ordered by slot.
func (x *Index) Nearest(query []float32, k int) ([]core.Match, error) {
	if err := core.CheckDimensions(query, x.dimensions); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	matches := make([]core.Match, len(x.vectors))
	for slot, v := range x.vectors {
		matches[slot] = core.Match{Slot: slot, Score: vector.SquaredL2(query, v)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score < matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Owner returns the user that owns slot.
func (x *Index) Owner(slot int) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if slot < 0 || slot >= len(x.owners) {
		return "", false
	}
	return x.owners[slot], true
}

// Entries returns a copy of every slot in order.
func (x *Index) Entries() []core.IndexEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	entries := make([]core.IndexEntry, len(x.vectors))
	for i, v := range x.vectors {
		entries[i] = core.IndexEntry{OwnerID: x.owners[i], Vector: v.Clone()}
	}
	return entries
}

// Len returns the number of slots.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Dimensions returns the vector size the index accepts.
func (x *Index) Dimensions() int {
	return x.dimensions
}

// Close releases resources.
func (x *Index) Close() error {
	// Everything lives in memory, nothing to close
	return nil
}
