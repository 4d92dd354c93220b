// Command goldb runs the engine behind an HTTP server, adapted from
// goldb's cmd/main.go: flag-parsed host/port/source plus graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hasssanezzz/goldb-lsm/internal/api"
	"github.com/hasssanezzz/goldb-lsm/internal/config"
	"github.com/hasssanezzz/goldb-lsm/internal/engine"
	"github.com/hasssanezzz/goldb-lsm/internal/logging"
)

func defaultHomeDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("can not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".goldb-lsm"), nil
}

func main() {
	host := flag.String("h", "localhost", "host to bind the server to")
	port := flag.String("p", "3011", "port to listen on")
	source := flag.String("s", "", "path to the data directory (default: ~/.goldb-lsm)")
	memLimit := flag.Uint64("mem-limit", config.Default.PerMemSizeLimit, "per-generation memtable byte threshold before freezing")
	logLevel := flag.Int("log-level", int(logging.LevelInfo), "log verbosity (0=error .. 4=trace)")
	flag.Parse()

	if *source == "" {
		dir, err := defaultHomeDir()
		if err != nil {
			log.Fatal(err)
		}
		*source = dir
	}

	logger := logging.NewDefault(logging.Level(*logLevel))

	cfg := config.New().WithHomepath(*source).WithPerMemSizeLimit(*memLimit)
	db, err := engine.Open(*source, cfg, logger)
	if err != nil {
		log.Fatalf("can not open engine at %q: %v", *source, err)
	}
	defer db.Close()

	a := api.New(db, logger)
	mux := http.NewServeMux()
	a.SetupRoutes(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", *host, *port),
		Handler: mux,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Println("goldb-lsm listening on", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-stop
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("error during shutdown: %v", err)
	}
	log.Println("stopped cleanly")
}
