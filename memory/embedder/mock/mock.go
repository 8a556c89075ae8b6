// Package mock provides a deterministic embedder for tests and model-free
// local runs.
package mock

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory/vector"
)

// MockEmbedder hashes each word of the text into one of the vector's
// buckets. Texts sharing words get a positive cosine similarity, which is
// enough to exercise ranking without model files.
type MockEmbedder struct {
	dimensions int
}

// New creates a mock embedder with all-MiniLM-L6-v2 dimensions.
func New() *MockEmbedder {
	return NewWithDimensions(core.Dimensions)
}

// NewWithDimensions creates a mock embedder producing vectors of size d.
func NewWithDimensions(d int) *MockEmbedder {
	return &MockEmbedder{dimensions: d}
}

// Embed returns the unit-length bag-of-words vector of text.
// Text without words embeds to the zero vector.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, m.dimensions)
	for _, word := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(word))
		sum := h.Sum64()

		bucket := int(sum % uint64(m.dimensions))
		// High bit picks the sign so unrelated words tend to cancel out
		if sum>>63 == 1 {
			embedding[bucket] -= 1
		} else {
			embedding[bucket] += 1
		}
	}

	return vector.Normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
