package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/memory/vector"
)

func TestEmbed_Deterministic(t *testing.T) {
	m := New()
	ctx := context.Background()

	a, err := m.Embed(ctx, "Discussed work stress")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "Discussed work stress")
	require.NoError(t, err)

	assert.Len(t, a, 384)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, vector.Norm(a), 1e-5)
}

func TestEmbed_SharedWordsAreCloser(t *testing.T) {
	m := New()
	ctx := context.Background()

	query, _ := m.Embed(ctx, "work stress at the office")
	related, _ := m.Embed(ctx, "Work stress and deadlines")
	unrelated, _ := m.Embed(ctx, "a calm walk by a lake")

	assert.Greater(t, vector.Cosine(query, related), vector.Cosine(query, unrelated))
}

func TestEmbed_CaseAndPunctuationInsensitive(t *testing.T) {
	m := New()
	ctx := context.Background()

	a, _ := m.Embed(ctx, "Anxiety, stress!")
	b, _ := m.Embed(ctx, "anxiety stress")
	assert.Equal(t, a, b)
}

func TestEmbed_EmptyText(t *testing.T) {
	v, err := New().Embed(context.Background(), "  ...  ")
	require.NoError(t, err)
	assert.Len(t, v, 384)
	assert.Zero(t, vector.Norm(v))
}

func TestEmbed_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Embed(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewWithDimensions(t *testing.T) {
	m := NewWithDimensions(8)
	v, err := m.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, v, 8)
	assert.Equal(t, 8, m.Dimensions())
}
