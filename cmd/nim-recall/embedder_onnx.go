//go:build onnx

package main

import (
	"fmt"
	"log"

	"github.com/becomeliminal/nim-recall/config"
	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/embedder/onnx"
)

// newEmbedder loads the all-MiniLM-L6-v2 ONNX model.
func newEmbedder(cfg config.EmbedderConfig) (memory.Embedder, func(), error) {
	if cfg.ModelPath == "" {
		return nil, nil, fmt.Errorf("embedder.model_path is required")
	}
	e, err := onnx.New(onnx.Config{
		ModelPath:         cfg.ModelPath,
		TokenizerPath:     cfg.TokenizerPath,
		SharedLibraryPath: cfg.SharedLibraryPath,
		Dimensions:        core.Dimensions,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Println("✅ ONNX embedder loaded (all-MiniLM-L6-v2)")
	return e, func() { _ = e.Close() }, nil
}
