package main

import (
	"fmt"
	"os"
	"path/filepath"

	"Cosign/internal/api"
	"Cosign/internal/genesis"
	"Cosign/internal/ledger"
	"Cosign/internal/logger"
	"Cosign/internal/storage"
)

// runLedger serves a local ledger until shutdown.
func runLedger(args []string) error {
	cfg, err := parseLedgerFlags(args)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	store, err := storage.Open(storage.Options{Path: filepath.Join(cfg.DataPath, "ledger")})
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}
	defer store.Close()

	l, err := ledger.NewLocal(store)
	if err != nil {
		return fmt.Errorf("init ledger:\n%w", err)
	}

	if cfg.GenesisPath != "" {
		gen, err := genesis.Load(cfg.GenesisPath)
		if err != nil {
			return err
		}

		created, err := genesis.Apply(l, gen)
		if err != nil {
			return fmt.Errorf("apply genesis:\n%w", err)
		}

		logger.Info("genesis applied", "created", created, "accounts", len(gen.Accounts))
	}

	server := api.New(cfg.HTTPAddress, l)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}
	defer server.Stop()

	logger.Info("starting ledger",
		"http", server.Addr(),
		"data", cfg.DataPath,
	)

	waitForShutdown()

	return nil
}
