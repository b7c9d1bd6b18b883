package commands

import (
	"context"
	"fmt"

	"github.com/moorhen/cartograph/internal/config"
	"github.com/moorhen/cartograph/internal/store"
	"github.com/moorhen/cartograph/internal/store/bolt"
	"github.com/moorhen/cartograph/internal/store/memory"
	"github.com/moorhen/cartograph/internal/store/postgres"
)

// openStore opens the configured graph store backend. The returned close
// function is a no-op for the memory backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.New(), func() error { return nil }, nil
	case "bolt":
		st, err := bolt.Open(cfg.Storage.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt store at %s: %w", cfg.Storage.BoltPath, err)
		}
		return st, st.Close, nil
	case "postgres":
		st, err := postgres.Open(ctx, postgres.Options{DSN: cfg.Storage.PostgresDSN})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
