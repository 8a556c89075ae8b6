package memory

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/becomeliminal/nim-recall/core"
)

// DefaultPromptCount is used by GenerateSessionPrompts when count <= 0.
const DefaultPromptCount = 3

// GenericOpeners start a session when there is no history, and pad short
// prompt lists.
var GenericOpeners = []string{
	"How are you feeling today?",
	"What's been on your mind lately?",
	"Is there anything specific you'd like to talk about?",
}

// Template prompts of the fallback rule engine.
const (
	emotionFocusTemplate     = "I've noticed %s has been a recurring theme in our sessions. How are you feeling about that today?"
	emotionalProgressionText = "I sense there might have been some changes in how you're feeling since our last session. Would you like to share what's been different?"
	themeExplorationTemplate = "I see %s has come up in our conversations. How does that relate to what you're experiencing right now?"
	wellnessCheckText        = "How have you been taking care of yourself since we last spoke?"
	currentFocusText         = "What would be most helpful for us to focus on in today's session?"
)

// theme maps a conversation theme to the keywords that reveal it.
type theme struct {
	name     string
	keywords []string
}

// themes is scanned in order; the first theme with a matching keyword wins.
var themes = []theme{
	{"relationships", []string{"relationship", "partner", "family", "friend", "communication", "boundary"}},
	{"work", []string{"work", "job", "career", "stress", "deadline", "colleague", "boss"}},
	{"self-development", []string{"growth", "change", "improvement", "goal", "progress", "development"}},
	{"trauma", []string{"trauma", "past", "childhood", "memory", "trigger", "healing"}},
	{"anxiety", []string{"anxiety", "worry", "fear", "panic", "stress", "overwhelm"}},
	{"depression", []string{"depression", "sad", "hopeless", "worthless", "tired", "empty"}},
}

// rule inspects the recent window and optionally contributes one prompt.
type rule func(window []core.Record) (string, bool)

// promptRules run in order; each rule fires at most once.
var promptRules = []rule{
	emotionFocus,
	emotionalProgression,
	themeExploration,
	wellnessCheck,
	currentFocus,
}

// GenerateSessionPrompts returns count opening questions for the next
// session of userID. With a Generator configured the model writes them;
// otherwise, or when it fails, times out or returns nothing usable, the
// template rules derive them from recent records.
func (s *Service) GenerateSessionPrompts(ctx context.Context, userID string, count int) []string {
	ctx, span := s.tracer.Start(ctx, "memory.GenerateSessionPrompts", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("count", count),
	))
	defer span.End()

	if count <= 0 {
		count = DefaultPromptCount
	}

	if s.partitions.Len(userID) == 0 {
		span.SetAttributes(attribute.String("prompts.source", "generic"))
		return padPrompts(nil, count)
	}

	windowSize := count
	if s.config.PromptWindow > 0 {
		windowSize = s.config.PromptWindow
	}
	window := s.partitions.Recent(userID, windowSize)

	if s.generator != nil {
		prompts, err := s.generatePrompts(ctx, window, count)
		if err == nil && len(prompts) > 0 {
			span.SetAttributes(attribute.String("prompts.source", "generator"))
			return padPrompts(prompts, count)
		}
		if err != nil {
			log.Printf("[MEMORY] Prompt generation failed for user %s, using templates: %v", userID, err)
		} else {
			log.Printf("[MEMORY] Prompt generation returned no prompts for user %s, using templates", userID)
		}
	}

	span.SetAttributes(attribute.String("prompts.source", "templates"))
	return padPrompts(templatePrompts(window), count)
}

// generatePrompts asks the generator for count prompts, bounded by
// Config.GenerateTimeout.
func (s *Service) generatePrompts(ctx context.Context, window []core.Record, count int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.GenerateTimeout)
	defer cancel()

	text, err := s.generator.Generate(ctx, core.GenerateRequest{
		Prompt:      buildGeneratorPrompt(window, count),
		MaxTokens:   s.config.GenerateMaxTokens,
		Temperature: s.config.GenerateTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate prompts: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generate prompts: %w", err)
	}
	return parsePromptLines(text), nil
}

// buildGeneratorPrompt lists the window's summaries for the model, giving
// each summary an equal share of a bounded context.
func buildGeneratorPrompt(window []core.Record, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given the following previous session summaries, generate %d helpful, empathetic, and specific prompts to start the next session. Return each prompt as a separate line.\n\n", count)
	b.WriteString("Previous session summaries:\n")

	maxLength := 2000 / max(len(window), 1)
	if maxLength < 100 {
		maxLength = 100
	}
	for i, rec := range window {
		fmt.Fprintf(&b, "Session %d: %s\n", i+1, truncate(rec.Summary, maxLength))
	}
	return b.String()
}

// parsePromptLines splits model output into prompts, dropping bullets and
// blank lines.
func parsePromptLines(text string) []string {
	var prompts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		prompts = append(prompts, line)
	}
	return prompts
}

// templatePrompts runs every rule over the window in order.
func templatePrompts(window []core.Record) []string {
	var prompts []string
	for _, r := range promptRules {
		if p, ok := r(window); ok {
			prompts = append(prompts, p)
		}
	}
	return prompts
}

// padPrompts truncates prompts to count and fills any gap with generic
// openers in order.
func padPrompts(prompts []string, count int) []string {
	out := make([]string, 0, count)
	for _, p := range prompts {
		if len(out) == count {
			return out
		}
		out = append(out, p)
	}
	for _, p := range GenericOpeners {
		if len(out) == count {
			break
		}
		out = append(out, p)
	}
	return out
}

// emotionFocus names the most frequent emotion of the window. Ties go to
// the emotion seen first.
func emotionFocus(window []core.Record) (string, bool) {
	counts := make(map[string]int)
	var order []string
	for _, rec := range window {
		for _, e := range rec.Emotions {
			if e == "" {
				continue
			}
			if counts[e] == 0 {
				order = append(order, e)
			}
			counts[e]++
		}
	}
	if len(order) == 0 {
		return "", false
	}

	top := order[0]
	for _, e := range order[1:] {
		if counts[e] > counts[top] {
			top = e
		}
	}
	return fmt.Sprintf(emotionFocusTemplate, top), true
}

// emotionalProgression fires when the last two sessions carry different
// sets of emotions.
func emotionalProgression(window []core.Record) (string, bool) {
	if len(window) < 2 {
		return "", false
	}
	last := window[len(window)-1].Emotions
	prev := window[len(window)-2].Emotions
	if sameEmotionSet(last, prev) {
		return "", false
	}
	return emotionalProgressionText, true
}

func sameEmotionSet(a, b []string) bool {
	as, bs := emotionSet(a), emotionSet(b)
	if len(as) != len(bs) {
		return false
	}
	for e := range as {
		if _, ok := bs[e]; !ok {
			return false
		}
	}
	return true
}

// emotionSet ignores empty tags, as emotionFocus does.
func emotionSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, e := range tags {
		if e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}

// themeExploration names the first theme whose keyword appears in the
// window's summaries.
func themeExploration(window []core.Record) (string, bool) {
	summaries := make([]string, len(window))
	for i, rec := range window {
		summaries[i] = rec.Summary
	}
	text := strings.ToLower(strings.Join(summaries, " "))
	if name, ok := detectTheme(text); ok {
		return fmt.Sprintf(themeExplorationTemplate, name), true
	}
	return "", false
}

// detectTheme returns the first theme with a keyword contained in text.
func detectTheme(text string) (string, bool) {
	for _, t := range themes {
		for _, kw := range t.keywords {
			if strings.Contains(text, kw) {
				return t.name, true
			}
		}
	}
	return "", false
}

func wellnessCheck(window []core.Record) (string, bool) {
	return wellnessCheckText, len(window) > 1
}

func currentFocus([]core.Record) (string, bool) {
	return currentFocusText, true
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
