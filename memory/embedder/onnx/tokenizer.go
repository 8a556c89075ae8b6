package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	clsToken = 101 // [CLS]
	sepToken = 102 // [SEP]
	unkToken = 100 // [UNK]
)

// tokenizer is a lowercase BERT WordPiece tokenizer driven by the vocab of
// a Hugging Face tokenizer.json.
type tokenizer struct {
	vocab map[string]int
}

func loadTokenizer(path string) (*tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("%s has an empty vocabulary", path)
	}

	return &tokenizer{vocab: file.Model.Vocab}, nil
}

// encode returns input ids and attention mask padded to maxLen, wrapped in
// [CLS] ... [SEP]. Long texts are truncated.
func (t *tokenizer) encode(text string, maxLen int) ([]int64, []int64) {
	ids := make([]int64, maxLen)
	mask := make([]int64, maxLen)

	tokens := t.tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	ids[0], mask[0] = clsToken, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = sepToken, 1

	return ids, mask
}

func (t *tokenizer) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, piece := range t.wordPieces(word) {
			if id, ok := t.vocab[piece]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, unkToken)
			}
		}
	}
	return tokens
}

// wordPieces splits word greedily into the longest known prefixes. A word
// that cannot be fully covered by the vocabulary becomes a single [UNK].
func (t *tokenizer) wordPieces(word string) []string {
	runes := []rune(word)
	var pieces []string
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := false
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				pieces = append(pieces, piece)
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			return []string{"[UNK]"}
		}
	}
	return pieces
}
