package memory

import (
	"context"

	"github.com/becomeliminal/nim-recall/core"
)

// Manager is the façade the session orchestrator and the HTTP surface use.
//
// The orchestrator calls Save at the end of a session with the produced
// summary and top emotions, RecentSummaries/SimilarSummaries to give the
// next prompt historical context, and GenerateSessionPrompts to seed the
// opening question of the next session.
//
// Implementations:
//   - Service: embedder + vector index + partition store + snapshot persister
type Manager interface {
	// Save embeds the summary and stores it as a new record for userID.
	// A non-nil record may be returned together with an error wrapping
	// core.ErrPersistenceFailure: the record is stored in memory but the
	// snapshot could not be written.
	Save(ctx context.Context, userID string, summary string, emotions []string) (*core.Record, error)

	// RecentSummaries returns the last count records, oldest first.
	// count <= 0 selects a default based on the partition size.
	RecentSummaries(ctx context.Context, userID string, count int) []core.Record

	// SimilarSummaries returns the topK records of userID most similar to query.
	SimilarSummaries(ctx context.Context, userID string, query string, topK int) ([]core.Record, error)

	// GenerateSessionPrompts returns up to count opening questions for the
	// next session. Generator failures are resolved internally.
	GenerateSessionPrompts(ctx context.Context, userID string, count int) []string

	// History returns the aligned summaries, emotions and timestamps of userID.
	History(userID string) core.History

	// SessionCount returns how many records userID has.
	SessionCount(userID string) int
}

// Index is the append-only vector index shared by all users.
// Implementations: flat.Index (global slot array), chromem.Index (one
// chromem-go collection per user).
//
// Slots are assigned in insertion order across all users, start at 0 and are
// never reused.
type Index interface {
	// Insert appends vec for userID and returns its slot.
	Insert(ctx context.Context, userID string, vec []float32) (int, error)

	// FlatScan ranks the given slots of userID by cosine similarity to query,
	// highest first. Equal scores keep the order of slots.
	FlatScan(ctx context.Context, userID string, query []float32, slots []int) ([]core.Match, error)

	// Entries returns a copy of every slot in order, for snapshots.
	Entries() []core.IndexEntry

	// Len returns the number of slots.
	Len() int

	// Dimensions returns the vector size the index accepts.
	Dimensions() int

	// Close releases resources.
	Close() error
}

// Persister makes the index and partitions durable.
// Implementations: snapshot.File.
type Persister interface {
	// Load returns the last saved snapshot, or an empty one if none exists.
	Load(ctx context.Context) (*core.Snapshot, error)

	// Save writes a complete snapshot, replacing the previous one atomically.
	Save(ctx context.Context, snap *core.Snapshot) error
}

// Embedder converts text to vector embeddings.
// Implementations: mock.MockEmbedder (testing), onnx.Embedder (local
// all-MiniLM-L6-v2), cached.Embedder (ristretto cache in front of another).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// Generator produces text from a prompt. It is optional; without one, or
// when it fails, prompts come from the deterministic templates.
// Implementations: claude.Generator.
type Generator interface {
	Generate(ctx context.Context, req core.GenerateRequest) (string, error)
}
