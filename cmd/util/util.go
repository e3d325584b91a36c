package util

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"blog-admin/pkg/config"
	"blog-admin/pkg/services"
)

// HandleFatalError logs err and exits.
func HandleFatalError(err error) {
	log.WithError(err).Error("Fatal error")
	os.Exit(1)
}

// LoadConfig reads and validates the environment configuration, and applies
// the configured log level.
func LoadConfig(useMemoryStore bool) (*config.Config, error) {
	cfg := config.Load()
	cfg.UseMemoryStore = useMemoryStore
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log.SetLevel(cfg.ParseLevel())
	return cfg, nil
}

// NewStore connects to the configured repository, or returns an empty
// in-memory store.
func NewStore(ctx context.Context, cfg *config.Config) (services.Store, error) {
	if cfg.UseMemoryStore {
		log.Warn("Using the in-memory store. Changes are lost on exit.")
		return services.NewMemoryStore(), nil
	}
	store, err := services.NewGitHubStore(ctx, cfg.Token, cfg.Repo, cfg.Branch)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Repo, err)
	}
	return store, nil
}
