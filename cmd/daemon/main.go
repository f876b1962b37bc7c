package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"latchkey/go-backend/internal/composition/daemon"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	addr := flag.String("addr", "", "HTTP listen address (default from config)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("latchkey-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := daemon.BuildServer(*addr, *configPath, *dataDir)
	if err != nil {
		log.Fatalf("latchkey-daemon failed to initialize: %v", err)
	}

	log.Println("latchkey-daemon starting")
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("latchkey-daemon failed: %v", err)
	}
	log.Println("latchkey-daemon stopped")
}
