//go:build !onnx

package main

import (
	"log"

	"github.com/becomeliminal/nim-recall/config"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/embedder/mock"
)

// newEmbedder returns the word-hashing embedder. Build with -tags onnx for
// the all-MiniLM-L6-v2 model.
func newEmbedder(cfg config.EmbedderConfig) (memory.Embedder, func(), error) {
	if cfg.ModelPath != "" {
		log.Println("⚠️  ONNX model configured but binary built without -tags onnx; using mock embedder")
	}
	return mock.New(), func() {}, nil
}
