package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory/partition"
)

const tracerName = "github.com/becomeliminal/nim-recall/memory"

// Service is the Manager implementation backed by an embedder, a vector
// index, the per-user partition store and an optional snapshot persister.
//
// Saves are serialized: index insert, partition append and the snapshot
// happen under one lock so every snapshot is self-consistent. Embedding
// runs before the lock is taken. Reads never touch disk.
type Service struct {
	index      Index
	embedder   Embedder
	partitions *partition.Store
	persister  Persister
	generator  Generator
	config     *Config
	now        func() time.Time
	tracer     trace.Tracer

	saveMu sync.Mutex
}

var _ Manager = (*Service)(nil)

// Option configures optional Service collaborators.
type Option func(*Service)

// WithPersister makes the service durable. The last snapshot is restored
// by NewService and a new one is written after every save.
func WithPersister(p Persister) Option {
	return func(s *Service) { s.persister = p }
}

// WithGenerator enables model-written session prompts.
func WithGenerator(g Generator) Option {
	return func(s *Service) { s.generator = g }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. A nil config uses DefaultConfig.
// The index must be empty; with a persister, its state is rebuilt from the
// last snapshot.
func NewService(ctx context.Context, index Index, embedder Embedder, config *Config, opts ...Option) (*Service, error) {
	if index == nil || embedder == nil {
		return nil, fmt.Errorf("index and embedder are required")
	}
	cfg := config.withDefaults()

	if d := embedder.Dimensions(); d != cfg.Dimensions {
		return nil, fmt.Errorf("embedder: %w", &core.DimensionError{Got: d, Want: cfg.Dimensions})
	}
	if d := index.Dimensions(); d != cfg.Dimensions {
		return nil, fmt.Errorf("index: %w", &core.DimensionError{Got: d, Want: cfg.Dimensions})
	}

	s := &Service{
		index:      index,
		embedder:   embedder,
		partitions: partition.New(),
		config:     cfg,
		now:        time.Now,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.persister != nil {
		if err := s.restore(ctx); err != nil {
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
	}

	return s, nil
}

// restore replays the last snapshot into the empty index and partitions.
func (s *Service) restore(ctx context.Context) error {
	snap, err := s.persister.Load(ctx)
	if err != nil {
		return err
	}
	if len(snap.Entries) == 0 && snap.RecordCount() == 0 {
		return nil
	}
	if snap.Dimensions != s.config.Dimensions {
		return &core.DimensionError{Got: snap.Dimensions, Want: s.config.Dimensions}
	}
	if n := s.index.Len(); n != 0 {
		return fmt.Errorf("index already holds %d vectors", n)
	}

	for i, entry := range snap.Entries {
		slot, err := s.index.Insert(ctx, entry.OwnerID, entry.Vector)
		if err != nil {
			return fmt.Errorf("replay slot %d: %w", i, err)
		}
		if slot != i {
			return fmt.Errorf("replay slot %d: index assigned %d", i, slot)
		}
	}

	records := make([]core.Record, 0, snap.RecordCount())
	for _, p := range snap.Partitions {
		records = append(records, p.Records...)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Slot < records[j].Slot })
	for _, rec := range records {
		rec.Timestamp = rec.Timestamp.In(s.config.Location)
		if err := s.partitions.Append(rec); err != nil {
			return fmt.Errorf("replay record %s: %w", rec.ID, err)
		}
	}

	log.Printf("[MEMORY] Restored %d records for %d users", len(records), len(snap.Partitions))
	return nil
}

// Save embeds summary and appends it to the partition of userID.
func (s *Service) Save(ctx context.Context, userID string, summary string, emotions []string) (*core.Record, error) {
	ctx, span := s.tracer.Start(ctx, "memory.Save", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("emotions.count", len(emotions)),
	))
	defer span.End()

	if userID == "" {
		err := errors.New("save summary: empty user id")
		recordError(span, err)
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, summary)
	if err != nil {
		log.Printf("[MEMORY] Embedding failed for user %s: %v", userID, err)
		err = fmt.Errorf("embed summary: %w: %w", core.ErrEmbeddingFailure, err)
		recordError(span, err)
		return nil, err
	}
	if err := core.CheckDimensions(vec, s.config.Dimensions); err != nil {
		err = fmt.Errorf("embed summary: %w", err)
		recordError(span, err)
		return nil, err
	}

	rec := core.Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Summary:   summary,
		Embedding: core.Embedding(vec).Clone(),
		Emotions:  slices.Clone(emotions),
		Timestamp: s.now().In(s.config.Location),
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	slot, err := s.index.Insert(ctx, userID, rec.Embedding)
	if err != nil {
		err = fmt.Errorf("index insert: %w", err)
		recordError(span, err)
		return nil, err
	}
	rec.Slot = slot

	if err := s.partitions.Append(rec); err != nil {
		err = fmt.Errorf("partition append: %w", err)
		recordError(span, err)
		return nil, err
	}

	out := rec.Clone()
	span.SetAttributes(attribute.Int("record.slot", slot))
	log.Printf("[MEMORY] Saved record %s for user %s at slot %d", rec.ID, userID, slot)

	if s.persister == nil {
		return &out, nil
	}

	// The record is already visible; a failed write only delays durability.
	if err := s.persister.Save(context.WithoutCancel(ctx), s.snapshotLocked()); err != nil {
		log.Printf("[MEMORY] Snapshot failed after saving %s: %v", rec.ID, err)
		err = fmt.Errorf("%w: %w", core.ErrPersistenceFailure, err)
		recordError(span, err)
		return &out, err
	}

	return &out, nil
}

// snapshotLocked captures the index and partitions. Callers hold saveMu.
func (s *Service) snapshotLocked() *core.Snapshot {
	return &core.Snapshot{
		Dimensions: s.config.Dimensions,
		Entries:    s.index.Entries(),
		Partitions: s.partitions.Partitions(),
	}
}

// Snapshot returns a consistent copy of the whole memory state.
func (s *Service) Snapshot() *core.Snapshot {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.snapshotLocked()
}

// RecentSummaries returns the last count records of userID, oldest first.
func (s *Service) RecentSummaries(ctx context.Context, userID string, count int) []core.Record {
	_, span := s.tracer.Start(ctx, "memory.RecentSummaries", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("count", count),
	))
	defer span.End()

	records := s.partitions.Recent(userID, count)
	span.SetAttributes(attribute.Int("results", len(records)))
	return records
}

// SimilarSummaries returns the topK records of userID closest to query.
// topK <= 0 uses Config.DefaultTopK.
func (s *Service) SimilarSummaries(ctx context.Context, userID string, query string, topK int) ([]core.Record, error) {
	ctx, span := s.tracer.Start(ctx, "memory.SimilarSummaries", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("top_k", topK),
	))
	defer span.End()

	if s.partitions.Len(userID) == 0 {
		return []core.Record{}, nil
	}
	if topK <= 0 {
		topK = s.config.DefaultTopK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		err = fmt.Errorf("embed query: %w: %w", core.ErrEmbeddingFailure, err)
		recordError(span, err)
		return nil, err
	}
	if err := core.CheckDimensions(vec, s.config.Dimensions); err != nil {
		err = fmt.Errorf("embed query: %w", err)
		recordError(span, err)
		return nil, err
	}

	records, err := s.partitions.Similar(ctx, s.index, userID, vec, topK)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	log.Printf("[MEMORY] Retrieved %d similar records for user %s, query: %q", len(records), userID, truncateLog(query, 50))
	span.SetAttributes(attribute.Int("results", len(records)))
	return records, nil
}

// History returns the aligned column view of userID's partition.
func (s *Service) History(userID string) core.History {
	records := s.partitions.Records(userID)
	h := core.History{
		UserID:     userID,
		Summaries:  make([]string, len(records)),
		Emotions:   make([][]string, len(records)),
		Timestamps: make([]time.Time, len(records)),
	}
	for i, rec := range records {
		h.Summaries[i] = rec.Summary
		h.Emotions[i] = rec.Emotions
		h.Timestamps[i] = rec.Timestamp
	}
	return h
}

// SessionCount returns the number of records saved for userID.
func (s *Service) SessionCount(userID string) int {
	return s.partitions.Len(userID)
}

// Users returns every user with at least one record, sorted.
func (s *Service) Users() []string {
	return s.partitions.Users()
}

// Close releases the index.
func (s *Service) Close() error {
	return s.index.Close()
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// truncateLog truncates text for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Config holds Service configuration.
type Config struct {
	// Dimensions is the vector size the embedder and index must agree on.
	// Default: 384 (all-MiniLM-L6-v2)
	Dimensions int

	// Location is the time zone of record timestamps.
	// Default: Asia/Kolkata
	Location *time.Location

	// DefaultTopK is used by SimilarSummaries when topK <= 0.
	// Default: 3
	DefaultTopK int

	// PromptWindow is how many recent records seed session prompts.
	// Default: 0, meaning the requested prompt count.
	PromptWindow int

	// GenerateTimeout bounds a single generator call before falling back
	// to templates.
	// Default: 10s
	GenerateTimeout time.Duration

	// GenerateMaxTokens caps the generator output.
	// Default: 128
	GenerateMaxTokens int

	// GenerateTemperature is passed to the generator.
	// Default: 0.7
	GenerateTemperature float64
}

// DefaultConfig returns the defaults used when NewService gets a nil config.
var DefaultConfig = &Config{
	Dimensions:          core.Dimensions,
	Location:            defaultLocation(),
	DefaultTopK:         3,
	PromptWindow:        0,
	GenerateTimeout:     10 * time.Second,
	GenerateMaxTokens:   128,
	GenerateTemperature: 0.7,
}

// withDefaults returns a copy of c with unset fields taken from DefaultConfig.
func (c *Config) withDefaults() *Config {
	if c == nil {
		c = DefaultConfig
	}
	out := *c
	if out.Dimensions <= 0 {
		out.Dimensions = DefaultConfig.Dimensions
	}
	if out.Location == nil {
		out.Location = DefaultConfig.Location
	}
	if out.DefaultTopK <= 0 {
		out.DefaultTopK = DefaultConfig.DefaultTopK
	}
	if out.GenerateTimeout <= 0 {
		out.GenerateTimeout = DefaultConfig.GenerateTimeout
	}
	if out.GenerateMaxTokens <= 0 {
		out.GenerateMaxTokens = DefaultConfig.GenerateMaxTokens
	}
	return &out
}

// defaultLocation loads Asia/Kolkata, or the equivalent fixed zone when the
// host has no tz database.
func defaultLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}
