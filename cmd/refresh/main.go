package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chatpipe/internal/cli"
	"chatpipe/internal/config"
	"chatpipe/internal/svc"
)

const (
	defaultSweepInterval = 1 * time.Minute  // Store sweep interval
	sweepTimeout         = 30 * time.Second // Timeout for one full sweep
	shutdownTimeout      = 10 * time.Second // Grace period for shutdown
)

var (
	configFile    = flag.String("f", "etc/chatpipe.yaml", "the config file")
	sweepInterval = flag.Duration("interval", defaultSweepInterval, "store sweep interval")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting refresh daemon...")

	// Load application configuration
	appCfg, err := config.Load(*configFile)
	if err != nil {
		log.Printf("[main] Warning: Failed to load app config: %v", err)
		log.Printf("[main] Using default configuration")
		appCfg = &config.Config{Env: "test"} // Default fallback
	}

	// Log configuration information
	log.Printf("[main] Configuration loaded:")
	for _, line := range cli.ConfigSummaryLines(appCfg) {
		log.Printf("  - %s", line)
	}

	// A daemon without a store or a pipeline file has nothing to sweep, so
	// fall back to the project pipeline file.
	if appCfg.Pipeline.Value == nil && appCfg.Pipeline.File == "" && appCfg.Postgres.DSN == "" {
		appCfg.Pipeline.Value = config.MustLoadPipeline()
		log.Printf("  - Pipeline Config Path: etc/pipeline.yaml (default)")
	}

	log.Printf("  - Sweep Interval: %s", *sweepInterval)

	svcCtx := svc.NewServiceContext(*appCfg, *configFile)
	defer svcCtx.Close()

	sweeper := newSweeper(svcCtx)

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runSweeper(ctx, sweeper, *sweepInterval)
	}()

	log.Println("[main] Refresh daemon started. Press Ctrl+C to stop.")

	// Wait for signal
	<-ctx.Done()
	log.Println("[main] Shutdown signal received, stopping tasks...")

	// Give the sweeper time to finish the current pass
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[main] All tasks stopped cleanly")
	case <-shutdownCtx.Done():
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}

	log.Println("[main] Refresh daemon stopped")
}

// runSweeper runs store sweeps on a schedule
func runSweeper(ctx context.Context, s *sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run once immediately on startup
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[sweep] Stopping store sweeper")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}
