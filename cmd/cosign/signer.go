package main

import (
	"context"
	"fmt"
	"os"

	"Cosign/internal/cosign"
	"Cosign/internal/ledger"
	"Cosign/internal/logger"
	"Cosign/internal/network"
	"Cosign/internal/policy"
)

// runSigner answers sign requests until shutdown.
func runSigner(args []string) error {
	cfg, err := parseSignerFlags(args)
	if err != nil {
		return err
	}

	priv, err := loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	key, err := signingKey(priv, cfg.Scheme)
	if err != nil {
		return err
	}

	var policies []policy.Policy

	if cfg.AllowKinds != "" {
		kinds, err := parseKinds(cfg.AllowKinds)
		if err != nil {
			return fmt.Errorf("-allow-kinds:\n%w", err)
		}

		policies = append(policies, policy.Kinds(kinds...))
	}

	if cfg.PolicyPath != "" {
		wasm, err := loadPolicy(cfg.PolicyPath)
		if err != nil {
			return err
		}
		defer wasm.Close(context.Background())

		policies = append(policies, wasm)
	}

	var opts []cosign.HandlerOption
	if len(policies) > 0 {
		opts = append(opts, cosign.WithPolicy(policy.All(policies...)))
	}

	handler := cosign.NewHandler(key, ledger.NewHTTPClient(cfg.LedgerURL, cfg.Timeout), opts...)

	node, err := network.NewNode(network.Config{
		PrivateKey:     priv,
		ListenAddr:     cfg.QUICAddress,
		RequestTimeout: cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}
	defer node.Close()

	handler.Register(node)

	if err := node.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	logger.Info("starting signer",
		"identity", handler.Identity(),
		"scheme", key.Scheme(),
		"node", node.Identity(),
		"quic", node.Addr(),
		"ledger", cfg.LedgerURL,
		"policy", cfg.PolicyPath,
	)

	waitForShutdown()

	return nil
}

// loadPolicy compiles a WASM signing policy.
func loadPolicy(path string) (*policy.WASM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy:\n%w", err)
	}

	wasm, err := policy.LoadWASM(context.Background(), data)
	if err != nil {
		return nil, fmt.Errorf("load policy %s:\n%w", path, err)
	}

	id := wasm.ID()
	logger.Info("policy loaded", "path", path, "module", fmt.Sprintf("%x", id[:8]))

	return wasm, nil
}
