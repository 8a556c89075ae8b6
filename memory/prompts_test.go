package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory/embedder/mock"
	"github.com/becomeliminal/nim-recall/memory/index/flat"
)

type fakeGenerator struct {
	mu       sync.Mutex
	text     string
	err      error
	block    bool
	requests []core.GenerateRequest
}

func (g *fakeGenerator) Generate(ctx context.Context, req core.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.text, g.err
}

func newPromptService(t *testing.T, config *Config, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), flat.New(core.Dimensions), mock.New(), config, opts...)
	require.NoError(t, err)
	return svc
}

func save(t *testing.T, svc *Service, user, summary string, emotions ...string) {
	t.Helper()
	_, err := svc.Save(context.Background(), user, summary, emotions)
	require.NoError(t, err)
}

func records(emotions ...[]string) []core.Record {
	out := make([]core.Record, len(emotions))
	for i, e := range emotions {
		out[i] = core.Record{Summary: "session", Emotions: e}
	}
	return out
}

func TestGenerateSessionPrompts_NewUser(t *testing.T) {
	svc := newPromptService(t, nil)
	ctx := context.Background()

	assert.Equal(t, GenericOpeners, svc.GenerateSessionPrompts(ctx, "new", 3))
	assert.Equal(t, GenericOpeners[:2], svc.GenerateSessionPrompts(ctx, "new", 2))
	assert.Equal(t, GenericOpeners, svc.GenerateSessionPrompts(ctx, "new", 0))
	assert.Equal(t, GenericOpeners, svc.GenerateSessionPrompts(ctx, "new", 10), "generic list is exhausted")
}

func TestGenerateSessionPrompts_SingleSession(t *testing.T) {
	svc := newPromptService(t, nil)
	save(t, svc, "alice", "Discussed work stress and anxiety", "anxiety", "stress")

	prompts := svc.GenerateSessionPrompts(context.Background(), "alice", 3)
	assert.Equal(t, []string{
		"I've noticed anxiety has been a recurring theme in our sessions. How are you feeling about that today?",
		"I see work has come up in our conversations. How does that relate to what you're experiencing right now?",
		currentFocusText,
	}, prompts)
}

func TestGenerateSessionPrompts_PadsWithOpeners(t *testing.T) {
	svc := newPromptService(t, nil)
	save(t, svc, "alice", "Quiet week")

	prompts := svc.GenerateSessionPrompts(context.Background(), "alice", 3)
	assert.Equal(t, []string{currentFocusText, GenericOpeners[0], GenericOpeners[1]}, prompts)
}

func TestGenerateSessionPrompts_AllRules(t *testing.T) {
	svc := newPromptService(t, nil)
	save(t, svc, "bob", "Talked about my partner", "sad")
	save(t, svc, "bob", "Felt tired all week", "sad", "tired")

	prompts := svc.GenerateSessionPrompts(context.Background(), "bob", 5)
	assert.Equal(t, []string{
		"I've noticed sad has been a recurring theme in our sessions. How are you feeling about that today?",
		emotionalProgressionText,
		"I see relationships has come up in our conversations. How does that relate to what you're experiencing right now?",
		wellnessCheckText,
		currentFocusText,
	}, prompts)

	assert.Len(t, svc.GenerateSessionPrompts(context.Background(), "bob", 2), 2)
}

func TestGenerateSessionPrompts_WindowFollowsCount(t *testing.T) {
	svc := newPromptService(t, nil)
	save(t, svc, "cy", "Family argument", "anger")
	save(t, svc, "cy", "Nothing much", "calm")

	// count 1 looks only at the latest session
	prompts := svc.GenerateSessionPrompts(context.Background(), "cy", 1)
	assert.Equal(t, []string{
		"I've noticed calm has been a recurring theme in our sessions. How are you feeling about that today?",
	}, prompts)
}

func TestEmotionFocus(t *testing.T) {
	tests := []struct {
		name   string
		window []core.Record
		want   string
		fires  bool
	}{
		{"most frequent", records([]string{"calm"}, []string{"sad", "sad"}), "sad", true},
		{"tie goes to first seen", records([]string{"calm", "sad"}, []string{"sad", "calm"}), "calm", true},
		{"no emotions", records([]string{}, nil), "", false},
		{"empty tags ignored", records([]string{"", ""}, []string{"hope"}), "hope", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := emotionFocus(tt.window)
			assert.Equal(t, tt.fires, ok)
			if tt.fires {
				assert.Contains(t, got, "noticed "+tt.want+" has been")
			}
		})
	}
}

func TestEmotionalProgression(t *testing.T) {
	_, ok := emotionalProgression(records([]string{"a"}))
	assert.False(t, ok, "needs two sessions")

	_, ok = emotionalProgression(records([]string{"a", "b"}, []string{"b", "a", "a"}))
	assert.False(t, ok, "same set in a different order")

	_, ok = emotionalProgression(records([]string{"x"}, []string{"a"}, []string{"a", "b"}))
	assert.True(t, ok)

	_, ok = emotionalProgression(records([]string{""}, []string{}))
	assert.False(t, ok, "empty tags carry no emotion")

	_, ok = emotionalProgression(records([]string{"a", ""}, []string{"a"}))
	assert.False(t, ok)
}

func TestDetectTheme(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"argued with my partner about work", "relationships", true},
		{"feeling stressed", "work", true},
		{"set a new goal", "self-development", true},
		{"a childhood trigger", "trauma", true},
		{"constant worry", "anxiety", true},
		{"feeling hopeless", "depression", true},
		{"went swimming", "", false},
	}
	for _, tt := range tests {
		got, ok := detectTheme(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestThemeExploration_IsCaseInsensitive(t *testing.T) {
	p, ok := themeExploration([]core.Record{{Summary: "My BOSS yelled"}})
	require.True(t, ok)
	assert.Contains(t, p, "I see work has come up")
}

func TestGenerateSessionPrompts_Generator(t *testing.T) {
	gen := &fakeGenerator{text: "- What felt different this week?\n\n- How did the deadline go?\nWhat helped you rest?\nExtra line"}
	svc := newPromptService(t, nil, WithGenerator(gen))
	save(t, svc, "dee", "Deadline at work", "stress")
	save(t, svc, "dee", "Slept badly", "tired")

	prompts := svc.GenerateSessionPrompts(context.Background(), "dee", 3)
	assert.Equal(t, []string{
		"What felt different this week?",
		"How did the deadline go?",
		"What helped you rest?",
	}, prompts)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Contains(t, req.Prompt, "generate 3 helpful, empathetic, and specific prompts")
	assert.Contains(t, req.Prompt, "Session 1: Deadline at work\n")
	assert.Contains(t, req.Prompt, "Session 2: Slept badly\n")
	assert.Equal(t, DefaultConfig.GenerateMaxTokens, req.MaxTokens)
	assert.InDelta(t, DefaultConfig.GenerateTemperature, req.Temperature, 1e-9)
}

func TestGenerateSessionPrompts_GeneratorShortOutputIsPadded(t *testing.T) {
	gen := &fakeGenerator{text: "Only one idea"}
	svc := newPromptService(t, nil, WithGenerator(gen))
	save(t, svc, "eli", "Something")

	prompts := svc.GenerateSessionPrompts(context.Background(), "eli", 3)
	assert.Equal(t, []string{"Only one idea", GenericOpeners[0], GenericOpeners[1]}, prompts)
}

func TestGenerateSessionPrompts_GeneratorFallback(t *testing.T) {
	want := []string{
		"I've noticed anxiety has been a recurring theme in our sessions. How are you feeling about that today?",
		"I see work has come up in our conversations. How does that relate to what you're experiencing right now?",
		currentFocusText,
	}

	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"error", &fakeGenerator{err: errors.New("service unavailable")}},
		{"empty output", &fakeGenerator{text: "  \n- \n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newPromptService(t, nil, WithGenerator(tt.gen))
			save(t, svc, "alice", "Discussed work stress and anxiety", "anxiety", "stress")

			assert.Equal(t, want, svc.GenerateSessionPrompts(context.Background(), "alice", 3))
			assert.Len(t, tt.gen.requests, 1)
		})
	}
}

func TestGenerateSessionPrompts_GeneratorTimeout(t *testing.T) {
	gen := &fakeGenerator{block: true}
	svc := newPromptService(t, &Config{GenerateTimeout: 20 * time.Millisecond}, WithGenerator(gen))
	save(t, svc, "fin", "Quiet week")

	start := time.Now()
	prompts := svc.GenerateSessionPrompts(context.Background(), "fin", 1)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{currentFocusText}, prompts)
}

func TestGenerateSessionPrompts_PromptWindow(t *testing.T) {
	gen := &fakeGenerator{text: "Q"}
	svc := newPromptService(t, &Config{PromptWindow: 2}, WithGenerator(gen))
	for _, s := range []string{"one", "two", "three", "four"} {
		save(t, svc, "gia", s)
	}

	svc.GenerateSessionPrompts(context.Background(), "gia", 3)
	require.Len(t, gen.requests, 1)
	prompt := gen.requests[0].Prompt
	assert.NotContains(t, prompt, "Session 3:")
	assert.Contains(t, prompt, "Session 1: three\n")
	assert.Contains(t, prompt, "Session 2: four\n")
}

func TestBuildGeneratorPrompt_TruncatesLongSummaries(t *testing.T) {
	long := strings.Repeat("x", 5000)
	prompt := buildGeneratorPrompt([]core.Record{{Summary: long}}, 3)
	assert.NotContains(t, prompt, long)
	assert.Contains(t, prompt, strings.Repeat("x", 1997)+"...")
}

func TestParsePromptLines(t *testing.T) {
	got := parsePromptLines("  - First\r\n* Second\n\n   \nThird  ")
	assert.Equal(t, []string{"First", "Second", "Third"}, got)
	assert.Empty(t, parsePromptLines("\n\n"))
}

func TestPadPrompts(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, padPrompts([]string{"a", "b", "c"}, 2))
	assert.Equal(t, append([]string{"a"}, GenericOpeners...), padPrompts([]string{"a"}, 10))
	assert.Empty(t, padPrompts(nil, 0))
}
