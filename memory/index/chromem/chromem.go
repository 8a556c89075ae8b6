package chromem

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory/vector"
)

// Index keeps one chromem-go collection per user.
// chromem-go is a pure Go, embedded vector database. Similarity queries only
// ever touch the caller's collection, so their cost is bounded by that user's
// record count. Global slot numbers are still assigned here so the index can
// be snapshotted and cross-referenced like the flat index.
type Index struct {
	db          *chromem.DB
	dimensions  int
	collections map[string]*chromem.Collection // Per-user collections
	entries     []core.IndexEntry              // Slot-ordered side table
	mu          sync.RWMutex
}

// New creates an empty chromem-backed index for vectors of the given size.
func New(dimensions int) (*Index, error) {
	if dimensions <= 0 {
		dimensions = core.Dimensions
	}
	return &Index{
		db:          chromem.NewDB(),
		dimensions:  dimensions,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// getOrCreateCollection returns the collection for a user.
// Callers must hold the write lock.
func (x *Index) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	if col, exists := x.collections[userID]; exists {
		return col, nil
	}

	collectionName := fmt.Sprintf("user_%s", userID)
	col, err := x.db.CreateCollection(
		collectionName,
		map[string]string{"owner_id": userID},
		nil, // No embedding func: vectors are always provided
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	x.collections[userID] = col
	return col, nil
}

// Insert adds vec to the user's collection and returns its global slot.
func (x *Index) Insert(ctx context.Context, userID string, vec []float32) (int, error) {
	if err := core.CheckDimensions(vec, x.dimensions); err != nil {
		return -1, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	col, err := x.getOrCreateCollection(userID)
	if err != nil {
		return -1, err
	}

	slot := len(x.entries)
	stored := core.Embedding(vec).Clone()
	doc := chromem.Document{
		ID:        strconv.Itoa(slot),
		Content:   strconv.Itoa(slot),
		Embedding: stored.Clone(), // chromem-go may normalize in place
		Metadata:  map[string]string{"owner_id": userID},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return -1, fmt.Errorf("add document: %w", err)
	}

	x.entries = append(x.entries, core.IndexEntry{OwnerID: userID, Vector: stored})
	return slot, nil
}

// FlatScan queries the user's collection and returns the requested slots
// ranked by cosine similarity, highest first. Equal scores keep the order of
// slots.
func (x *Index) FlatScan(ctx context.Context, userID string, query []float32, slots []int) ([]core.Match, error) {
	if err := core.CheckDimensions(query, x.dimensions); err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return []core.Match{}, nil
	}

	x.mu.RLock()
	col, exists := x.collections[userID]
	x.mu.RUnlock()
	if !exists {
		return []core.Match{}, nil
	}

	// chromem-go normalizes the query; a zero vector scores 0 against everything
	if vector.Norm(query) == 0 {
		matches := make([]core.Match, len(slots))
		for i, slot := range slots {
			matches[i] = core.Match{Slot: slot}
		}
		return matches, nil
	}

	// chromem-go requires nResults <= collection size
	nResults := col.Count()
	if nResults == 0 {
		log.Printf("[CHROMEM] Collection for owner=%s is empty", userID)
		return []core.Match{}, nil
	}

	results, err := col.QueryEmbedding(ctx, core.Embedding(query).Clone(), nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	scores := make(map[int]float64, len(results))
	for _, result := range results {
		slot, err := strconv.Atoi(result.ID)
		if err != nil {
			log.Printf("[CHROMEM] Skipping result with invalid id %q: %v", result.ID, err)
			continue
		}
		score := float64(result.Similarity)
		if math.IsNaN(score) {
			score = 0 // zero vector stored
		}
		scores[slot] = score
	}

	matches := make([]core.Match, 0, len(slots))
	for _, slot := range slots {
		score, ok := scores[slot]
		if !ok {
			return nil, fmt.Errorf("slot %d not in collection for owner %s", slot, userID)
		}
		matches = append(matches, core.Match{Slot: slot, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// Entries returns a copy of every slot in order.
func (x *Index) Entries() []core.IndexEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	entries := make([]core.IndexEntry, len(x.entries))
	for i, e := range x.entries {
		entries[i] = core.IndexEntry{OwnerID: e.OwnerID, Vector: e.Vector.Clone()}
	}
	return entries
}

// Len returns the number of slots.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Dimensions returns the vector size the index accepts.
func (x *Index) Dimensions() int {
	return x.dimensions
}

// Close releases resources.
func (x *Index) Close() error {
	// chromem-go keeps everything in memory, nothing to close
	return nil
}
