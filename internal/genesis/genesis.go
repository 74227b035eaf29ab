// Package genesis loads the accounts a fresh ledger starts with.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"Cosign/internal/account"
	"Cosign/internal/ledger"
	"Cosign/internal/logger"
	"Cosign/internal/signerset"
)

// Config is the genesis file: the accounts to create and their first signer lists.
type Config struct {
	Accounts []Account `json:"accounts"`
}

// Account is one multisig account.
type Account struct {
	// Name derives the account ID when ID is empty.
	Name string `json:"name,omitempty"`

	// ID is the base58check account identifier.
	ID string `json:"id,omitempty"`

	// Quorum is the weight needed to authorize a transaction.
	Quorum uint32 `json:"quorum"`

	// Signers is the ordered signer list.
	Signers []Signer `json:"signers"`
}

// Signer is one signer list entry.
type Signer struct {
	ID     string `json:"id"`
	Weight uint32 `json:"weight"`
}

// Load reads and parses a genesis file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis:\n%w", err)
	}

	return Parse(data)
}

// Parse decodes a genesis document.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse genesis:\n%w", err)
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("genesis has no accounts")
	}

	return &cfg, nil
}

// Resolve returns the account ID and the proposed signer set.
func (a Account) Resolve() (account.ID, *signerset.SignerSet, error) {
	var id account.ID

	switch {
	case a.ID != "":
		parsed, err := account.Parse(a.ID)
		if err != nil {
			return id, nil, fmt.Errorf("account %q:\n%w", a.ID, err)
		}
		id = parsed
	case a.Name != "":
		id = account.FromPublicKey([]byte(a.Name))
	default:
		return id, nil, fmt.Errorf("account needs an id or a name")
	}

	entries := make([]signerset.Entry, len(a.Signers))

	for i, s := range a.Signers {
		signer, err := account.Parse(s.ID)
		if err != nil {
			return id, nil, fmt.Errorf("account %s signer %d:\n%w", id, i, err)
		}

		entries[i] = signerset.Entry{Identity: signer, Weight: s.Weight}
	}

	set, err := signerset.Propose(entries, a.Quorum)
	if err != nil {
		return id, nil, fmt.Errorf("account %s:\n%w", id, err)
	}

	return id, set, nil
}

// Apply creates every genesis account missing from l. It returns the number created.
func Apply(l *ledger.Local, cfg *Config) (int, error) {
	created := 0

	for _, a := range cfg.Accounts {
		id, set, err := a.Resolve()
		if err != nil {
			return created, err
		}

		if _, err := l.CreateAccount(id, set); err != nil {
			if errors.Is(err, ledger.ErrAccountExists) {
				logger.Debug("genesis account exists", "account", id)
				continue
			}

			return created, fmt.Errorf("create %s:\n%w", id, err)
		}

		created++
	}

	return created, nil
}
