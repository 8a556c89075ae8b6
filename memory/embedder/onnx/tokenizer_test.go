package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVocab(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	data := `{"model":{"vocab":{"[UNK]":100,"[CLS]":101,"[SEP]":102,"work":2147,"stress":6911,"dead":2757,"##line":4179,"##s":2015,"caf":1001,"##é":1002}}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestTokenizer_WordPieces(t *testing.T) {
	tok, err := loadTokenizer(writeVocab(t))
	require.NoError(t, err)

	assert.Equal(t, []int64{2147, 6911, 2757, 4179, 2015}, tok.tokenize("Work, stress! Deadlines."))
	assert.Equal(t, []int64{unkToken}, tok.tokenize("zzz"))
}

func TestTokenizer_UnknownWordIsSingleToken(t *testing.T) {
	tok, err := loadTokenizer(writeVocab(t))
	require.NoError(t, err)

	assert.Equal(t, []int64{unkToken, 2147}, tok.tokenize("workzzz work"))
	assert.Equal(t, []int64{unkToken}, tok.tokenize("ñññ"))
	assert.Equal(t, []string{"[UNK]"}, tok.wordPieces("deadzz"))
}

func TestTokenizer_MultiByteRunes(t *testing.T) {
	tok, err := loadTokenizer(writeVocab(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"caf", "##é"}, tok.wordPieces("café"))
	assert.Equal(t, []int64{1001, 1002, 6911}, tok.tokenize("Café stress"))

	ids, _ := tok.encode("ññññ ññññ work", 5)
	assert.Equal(t, []int64{clsToken, unkToken, unkToken, 2147, sepToken}, ids)
}

func TestTokenizer_EncodePadsAndTruncates(t *testing.T) {
	tok, err := loadTokenizer(writeVocab(t))
	require.NoError(t, err)

	ids, mask := tok.encode("work stress", 6)
	assert.Equal(t, []int64{clsToken, 2147, 6911, sepToken, 0, 0}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0}, mask)

	ids, mask = tok.encode("work work work work work", 4)
	assert.Equal(t, []int64{clsToken, 2147, 2147, sepToken}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1}, mask)
}

func TestLoadTokenizer_Errors(t *testing.T) {
	_, err := loadTokenizer(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model":{"vocab":{}}}`), 0o600))
	_, err = loadTokenizer(path)
	assert.Error(t, err)
}
