package main

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/sitegate/internal/config"
	"github.com/alfredjeanlab/sitegate/internal/store"
	"github.com/alfredjeanlab/sitegate/internal/store/memstore"
	"github.com/alfredjeanlab/sitegate/internal/store/postgres"
)

// openStore connects the configured backend. Tests replace it.
var openStore = func(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.MemoryStore {
		return memstore.New(), nil
	}
	return postgres.New(ctx, cfg.DatabaseURL)
}

// errMemoryStore is returned by offline commands that would write to a
// store nobody else can see.
var errMemoryStore = errors.New("the memory store lives inside the server process; set SITEGATE_DATABASE_URL")

// openAdminStore opens the store for an offline command. It needs no
// session secret.
func openAdminStore(ctx context.Context) (store.Store, *config.Config, error) {
	cfg, err := config.LoadStore()
	if err != nil {
		return nil, nil, err
	}
	if cfg.MemoryStore {
		return nil, nil, errMemoryStore
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}
