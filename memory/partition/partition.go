// Package partition keeps the ordered session records of each user.
//
// Each user owns one slice of composite records, so the summary, embedding,
// emotions and timestamp of a session can never drift out of alignment.
package partition

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/becomeliminal/nim-recall/core"
)

// Scanner ranks a user's index slots against a query vector.
// memory.Index implementations satisfy it.
type Scanner interface {
	FlatScan(ctx context.Context, userID string, query []float32, slots []int) ([]core.Match, error)
}

// Store holds one append-only partition per user.
type Store struct {
	partitions map[string][]core.Record
	lastSlot   int
	mu         sync.RWMutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		partitions: make(map[string][]core.Record),
		lastSlot:   -1,
	}
}

// Append adds rec to the end of its user's partition, creating the partition
// on first use. Slots must increase across all appends.
func (s *Store) Append(rec core.Record) error {
	if rec.UserID == "" {
		return fmt.Errorf("append record: empty user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Slot <= s.lastSlot {
		return fmt.Errorf("append record: slot %d not after %d", rec.Slot, s.lastSlot)
	}
	s.partitions[rec.UserID] = append(s.partitions[rec.UserID], rec.Clone())
	s.lastSlot = rec.Slot
	return nil
}

// DefaultRecentCount is the window size used when the caller does not ask
// for a specific count: more history earns more context, capped to keep
// prompts bounded.
func DefaultRecentCount(total int) int {
	switch {
	case total <= 10:
		return 3
	case total <= 30:
		return 5
	default:
		return 9
	}
}

// Recent returns the last count records of userID, oldest first.
// count <= 0 selects DefaultRecentCount.
func (s *Store) Recent(userID string, count int) []core.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.partitions[userID]
	if len(records) == 0 {
		return []core.Record{}
	}
	if count <= 0 {
		count = DefaultRecentCount(len(records))
	}
	count = min(count, len(records))
	return cloneRecords(records[len(records)-count:])
}

// Similar returns up to topK records of userID ranked by the scanner,
// most similar first. Only the user's own slots are scanned.
func (s *Store) Similar(ctx context.Context, scanner Scanner, userID string, query []float32, topK int) ([]core.Record, error) {
	records := s.Records(userID)
	if len(records) == 0 || topK <= 0 {
		return []core.Record{}, nil
	}

	bySlot := make(map[int]core.Record, len(records))
	slots := make([]int, len(records))
	for i, rec := range records {
		slots[i] = rec.Slot
		bySlot[rec.Slot] = rec
	}

	matches, err := scanner.FlatScan(ctx, userID, query, slots)
	if err != nil {
		return nil, fmt.Errorf("scan slots: %w", err)
	}

	// Scanners rank by score; keep insertion order among equal scores
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Slot < matches[j].Slot
	})

	out := make([]core.Record, 0, min(topK, len(matches)))
	for _, m := range matches {
		rec, ok := bySlot[m.Slot]
		if !ok {
			continue
		}
		out = append(out, rec)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// Records returns a copy of the whole partition of userID.
func (s *Store) Records(userID string) []core.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecords(s.partitions[userID])
}

// Len returns the number of records of userID.
func (s *Store) Len(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[userID])
}

// Users returns every user with at least one record, sorted.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.partitions))
	for userID := range s.partitions {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// SummariesFor returns the summaries of userID in insertion order.
func (s *Store) SummariesFor(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.partitions[userID]
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.Summary
	}
	return out
}

// EmotionsFor returns the emotion tags of userID in insertion order.
func (s *Store) EmotionsFor(userID string) [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.partitions[userID]
	out := make([][]string, len(records))
	for i, rec := range records {
		out[i] = rec.Clone().Emotions
	}
	return out
}

// TimestampsFor returns the save times of userID in insertion order.
func (s *Store) TimestampsFor(userID string) []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.partitions[userID]
	out := make([]time.Time, len(records))
	for i, rec := range records {
		out[i] = rec.Timestamp
	}
	return out
}

// Partitions returns a copy of every partition, sorted by user id.
func (s *Store) Partitions() []core.Partition {
	users := s.Users()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Partition, len(users))
	for i, userID := range users {
		out[i] = core.Partition{UserID: userID, Records: cloneRecords(s.partitions[userID])}
	}
	return out
}

func cloneRecords(records []core.Record) []core.Record {
	out := make([]core.Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
