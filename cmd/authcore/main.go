package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/lumenfi/authcore/internal/clock"
	"github.com/lumenfi/authcore/internal/config"
	"github.com/lumenfi/authcore/internal/logging"
	"github.com/lumenfi/authcore/internal/ratelimit"
	"github.com/lumenfi/authcore/internal/storage"
)

var (
	version = "0.1.0-dev"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file")
	principal := flag.String("principal", "", "Principal to inspect or clear")
	clearOne := flag.Bool("clear", false, "Clear the principal's lockout state")
	clearAll := flag.Bool("clear-all", false, "Clear all lockout state")
	checkConfig := flag.Bool("check-config", false, "Validate configuration and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		log.Printf("authcore v%s", version)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if *checkConfig {
		log.Println("Configuration OK")
		os.Exit(0)
	}

	logger := logging.NewLogger(cfg.Logging.Format, cfg.Logging.Level, os.Stderr)

	store, cleanup, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer cleanup()

	limiter := ratelimit.NewLimiter(store, clock.New(), logger, ratelimit.Policy{
		MaxAttempts:     cfg.RateLimit.MaxAttempts,
		LockoutDuration: cfg.RateLimit.LockoutDurationParsed,
		ResetWindow:     cfg.RateLimit.ResetWindowParsed,
	})

	ctx := context.Background()

	switch {
	case *clearAll:
		limiter.Clear(ctx)
		log.Println("Cleared all lockout state")

	case *clearOne:
		if *principal == "" {
			log.Fatal("-clear requires -principal")
		}
		limiter.Clear(ctx, *principal)
		log.Printf("Cleared lockout state for %s", *principal)

	default:
		if *principal == "" {
			flag.Usage()
			os.Exit(2)
		}
		info := limiter.GetAttemptInfo(ctx, *principal)
		fmt.Printf("principal:           %s\n", *principal)
		fmt.Printf("attempts:            %d\n", info.Attempts)
		fmt.Printf("attempts remaining:  %d\n", info.AttemptsRemaining)
		fmt.Printf("locked:              %v\n", info.IsLocked)
		if info.IsLocked {
			fmt.Printf("lockout remaining:   %s\n", info.LockoutRemaining)
		}
	}
}

// openStore builds the configured storage backend.
func openStore(cfg *config.Config) (storage.Store, func(), error) {
	noop := func() {}

	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStore(), noop, nil

	case "file":
		store, err := storage.NewFileStore(cfg.Storage.Path)
		return store, noop, err

	case "encrypted":
		passphrase := os.Getenv("AUTHCORE_STORE_PASSPHRASE")
		if passphrase == "" {
			return nil, noop, fmt.Errorf("AUTHCORE_STORE_PASSPHRASE is required for the encrypted backend")
		}
		store, err := storage.NewEncryptedFileStore(cfg.Storage.Path, []byte(passphrase))
		return store, noop, err

	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { store.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}
