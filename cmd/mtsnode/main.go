// Package main is the mtsnode entrypoint: it loads a YAML
// configuration, builds a message transport node, activates its
// configured transports, and runs until a termination signal.
//
// Called by: external processes (CLI, containers, orchestration
// systems).
// Calls: config.Load, mts.New, mts.Run.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rock-multiagent/multiagent-fipa-services/internal/config"
	"github.com/rock-multiagent/multiagent-fipa-services/public/mts"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <config.yaml>", os.Args[0])
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", os.Args[1], err)
	}

	log.Printf("starting mtsnode %q", cfg.AgentID)
	if cfg.Debug {
		log.Printf("debug enabled")
	}

	node := mts.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %s, shutting down", sig)
		cancel()
	}()

	if err := node.Run(ctx); err != nil {
		log.Fatalf("mtsnode exited with error: %v", err)
	}
	log.Printf("mtsnode %q stopped", cfg.AgentID)
}
