// Command nim-recall serves the per-user session memory over HTTP, a
// websocket RPC endpoint and a gRPC health probe.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/becomeliminal/nim-recall/config"
	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/embedder/cached"
	"github.com/becomeliminal/nim-recall/memory/generator/claude"
	"github.com/becomeliminal/nim-recall/memory/index/chromem"
	"github.com/becomeliminal/nim-recall/memory/index/flat"
	"github.com/becomeliminal/nim-recall/memory/snapshot"
	"github.com/becomeliminal/nim-recall/server"
)

func main() {
	// ============================================================================
	// CONFIGURATION
	// ============================================================================
	cfg, err := config.Load(os.Getenv("NIM_RECALL_CONFIG"))
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ============================================================================
	// MEMORY SYSTEM SETUP
	// ============================================================================
	embedder, closeEmbedder, err := newEmbedder(cfg.Embedder)
	if err != nil {
		log.Fatalf("❌ Failed to load embedder: %v", err)
	}
	defer closeEmbedder()

	if cfg.Embedder.CacheEntries > 0 {
		c, err := cached.New(embedder, &cached.Config{MaxEntries: cfg.Embedder.CacheEntries})
		if err != nil {
			log.Fatal(err)
		}
		defer c.Close()
		embedder = c
	}

	var index memory.Index
	switch cfg.Index {
	case config.IndexChromem:
		index, err = chromem.New(core.Dimensions)
		if err != nil {
			log.Fatal(err)
		}
	default:
		index = flat.New(core.Dimensions)
	}

	memCfg, err := cfg.MemoryService()
	if err != nil {
		log.Fatal(err)
	}

	var opts []memory.Option
	if cfg.SnapshotPath != "" {
		file, err := snapshot.New(cfg.SnapshotPath)
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, memory.WithPersister(file))
	} else {
		log.Println("⚠️  No snapshot path: memory will not survive restarts")
	}

	if cfg.Generator.APIKey != "" {
		gen, err := claude.New(claude.Config{
			APIKey: cfg.Generator.APIKey,
			Model:  cfg.Generator.Model,
		})
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, memory.WithGenerator(gen))
		log.Println("✅ Session prompts written by Claude, templates as fallback")
	} else {
		log.Println("ℹ️  ANTHROPIC_API_KEY not set: session prompts use templates")
	}

	svc, err := memory.NewService(ctx, index, embedder, memCfg, opts...)
	if err != nil {
		log.Fatalf("❌ Failed to start memory service: %v", err)
	}
	defer svc.Close()
	log.Printf("✅ Memory system configured (%s index, %d users restored)", cfg.Index, len(svc.Users()))

	// ============================================================================
	// SERVER SETUP
	// ============================================================================
	srv, err := server.New(server.Config{
		Memory:         svc,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		log.Fatal(err)
	}

	health := server.NewHealth()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("❌ Failed to listen on %s: %v", cfg.GRPCAddr, err)
		}
		go func() {
			if err := health.Serve(lis); err != nil {
				log.Printf("[SERVER] gRPC health stopped: %v", err)
			}
		}()
	}

	// ============================================================================
	// START SERVER
	// ============================================================================
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(cfg.HTTPAddr) }()
	health.SetServing(true)

	log.Println("=============================================================")
	log.Println("  nim-recall Memory Server Running")
	log.Println("=============================================================")
	log.Printf("HTTP:      http://localhost%s/api", cfg.HTTPAddr)
	log.Printf("WebSocket: ws://localhost%s/ws", cfg.HTTPAddr)
	log.Printf("Health:    http://localhost%s/health", cfg.HTTPAddr)
	log.Println("Press Ctrl+C to stop")
	log.Println("=============================================================")

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("❌ %v", err)
		}
	case <-ctx.Done():
	}

	health.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[SERVER] Shutdown: %v", err)
	}
	health.Stop()
}
