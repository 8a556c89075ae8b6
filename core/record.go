package core

import (
	"slices"
	"time"
)

// Dimensions is the embedding size produced by all-MiniLM-L6-v2.
const Dimensions = 384

// Embedding is a fixed-length vector representing the meaning of a text.
// Embeddings are never modified after they are produced; holders that hand
// them out return copies.
type Embedding []float32

// Clone returns an independent copy of the embedding.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	return slices.Clone(e)
}

// Record is one saved session summary.
// Records are created once by the memory service and never updated or deleted.
type Record struct {
	ID        string
	UserID    string
	Slot      int // Position in the global vector index
	Summary   string
	Embedding Embedding
	Emotions  []string // Ordered; may be empty and may contain duplicates
	Timestamp time.Time
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.Embedding = r.Embedding.Clone()
	r.Emotions = cloneEmotions(r.Emotions)
	return r
}

func cloneEmotions(emotions []string) []string {
	if emotions == nil {
		return []string{}
	}
	return slices.Clone(emotions)
}

// Match is a scored index slot.
// Score is a cosine similarity for per-user scans and a squared
// Euclidean distance for global nearest-neighbour queries.
type Match struct {
	Slot  int
	Score float64
}

// IndexEntry is one slot of the global vector index together with the
// user that owns it.
type IndexEntry struct {
	OwnerID string
	Vector  Embedding
}

// Partition is the ordered record sequence of a single user.
type Partition struct {
	UserID  string
	Records []Record
}

// History is the column view of a partition: position i of every slice
// describes the same record.
type History struct {
	UserID     string
	Summaries  []string
	Emotions   [][]string
	Timestamps []time.Time
}

// Snapshot is a complete, self-consistent image of the index and every
// partition. Entries are in slot order; Records reference them by Slot.
type Snapshot struct {
	Dimensions int
	Entries    []IndexEntry
	Partitions []Partition
}

// RecordCount returns the number of records across all partitions.
func (s *Snapshot) RecordCount() int {
	n := 0
	for _, p := range s.Partitions {
		n += len(p.Records)
	}
	return n
}
