package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"Cosign/internal/account"
	"Cosign/internal/cosign"
	"Cosign/internal/envelope"
	"Cosign/internal/logger"
	"Cosign/internal/signerset"
	"Cosign/internal/signing"
)

// LedgerConfig holds the ledger command configuration.
type LedgerConfig struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// GenesisPath lists the accounts created on first start.
	GenesisPath string
}

// SignerConfig holds the signer command configuration.
type SignerConfig struct {
	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// QUICAddress is the QUIC listen address.
	QUICAddress string

	// LedgerURL is the ledger the signer checks requests against.
	LedgerURL string

	// PolicyPath is an optional WASM signing policy.
	PolicyPath string

	// Scheme selects the signing key derived from the key file (ed25519 or bls).
	Scheme string

	// AllowKinds lists the envelope kinds the signer accepts; empty accepts all.
	AllowKinds string

	// Timeout bounds each ledger call and each request.
	Timeout time.Duration
}

// CoordinatorConfig holds the configuration shared by spend, signers and recover.
type CoordinatorConfig struct {
	// KeyPath is the coordinator's network key; generated when empty.
	KeyPath string

	// DataPath holds the attempt journal.
	DataPath string

	// LedgerURL is the ledger HTTP endpoint.
	LedgerURL string

	// Account is the multisig account.
	Account string

	// Signers maps signer identities to QUIC addresses.
	Signers endpointFlag

	// Timeout bounds each ledger call.
	Timeout time.Duration

	// CollectTimeout bounds signature collection.
	CollectTimeout time.Duration

	// Attempts caps submissions of one transaction.
	Attempts int

	// Backoff is the first retry delay, doubled after each attempt.
	Backoff time.Duration
}

// newFlagSet creates a subcommand flag set with the shared -log-level flag.
func newFlagSet(name string, level *string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(level, "log-level", "info", "Log level (debug, info, warn, error)")

	return fs
}

// parseFlagSet parses args and applies the log level.
func parseFlagSet(fs *flag.FlagSet, args []string, level *string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}

	l, err := logger.ParseLevel(*level)
	if err != nil {
		return err
	}

	logger.InitLevel(l)

	return nil
}

// parseLedgerFlags parses the ledger command flags.
func parseLedgerFlags(args []string) (*LedgerConfig, error) {
	cfg := &LedgerConfig{}

	var level string

	fs := newFlagSet("ledger", &level)
	fs.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	fs.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	fs.StringVar(&cfg.GenesisPath, "genesis", "", "Genesis accounts file")

	return cfg, parseFlagSet(fs, args, &level)
}

// parseSignerFlags parses the signer command flags.
func parseSignerFlags(args []string) (*SignerConfig, error) {
	cfg := &SignerConfig{}

	var level string

	fs := newFlagSet("signer", &level)
	fs.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	fs.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC listen address")
	fs.StringVar(&cfg.LedgerURL, "ledger", "http://127.0.0.1:8080", "Ledger HTTP endpoint")
	fs.StringVar(&cfg.PolicyPath, "policy", "", "WASM signing policy path")
	fs.StringVar(&cfg.Scheme, "scheme", "ed25519", "Signature scheme (ed25519, bls)")
	fs.StringVar(&cfg.AllowKinds, "allow-kinds", "", "Comma-separated envelope kinds to sign (payload, signer-list-set)")
	fs.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "Ledger and request timeout")

	return cfg, parseFlagSet(fs, args, &level)
}

// coordinatorFlags registers the shared coordinator flags on fs.
func coordinatorFlags(fs *flag.FlagSet, cfg *CoordinatorConfig) {
	cfg.Signers = make(endpointFlag)

	fs.StringVar(&cfg.KeyPath, "key", "", "Coordinator network key path (generates new if missing)")
	fs.StringVar(&cfg.DataPath, "data", "./coordinator", "Journal directory path")
	fs.StringVar(&cfg.LedgerURL, "ledger", "http://127.0.0.1:8080", "Ledger HTTP endpoint")
	fs.StringVar(&cfg.Account, "account", "", "Multisig account ID")
	fs.Var(cfg.Signers, "signer", "Signer endpoint as id@host:port or id/node@host:port (repeatable)")
	fs.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "Ledger call timeout")
	fs.DurationVar(&cfg.CollectTimeout, "collect-timeout", time.Minute, "Signature collection timeout")
	fs.IntVar(&cfg.Attempts, "attempts", 5, "Maximum submissions of one transaction")
	fs.DurationVar(&cfg.Backoff, "backoff", 200*time.Millisecond, "First retry delay")
}

// endpointFlag collects repeated id@addr flags.
type endpointFlag map[account.ID]cosign.Endpoint

func (e endpointFlag) String() string {
	parts := make([]string, 0, len(e))
	for id, ep := range e {
		if ep.Node.IsZero() {
			parts = append(parts, id.String()+"@"+ep.Addr)
		} else {
			parts = append(parts, id.String()+"/"+ep.Node.String()+"@"+ep.Addr)
		}
	}

	return strings.Join(parts, ",")
}

// Set parses id@addr, or id/node@addr when the signer's network key differs
// from its signing key (BLS signers).
func (e endpointFlag) Set(value string) error {
	ids, addr, ok := strings.Cut(value, "@")
	if !ok || addr == "" {
		return fmt.Errorf("expected id@host:port, got %q", value)
	}

	idText, nodeText, hasNode := strings.Cut(ids, "/")

	id, err := account.Parse(idText)
	if err != nil {
		return err
	}

	ep := cosign.Endpoint{Addr: addr}

	if hasNode {
		if ep.Node, err = account.Parse(nodeText); err != nil {
			return fmt.Errorf("node identity:\n%w", err)
		}
	}

	e[id] = ep

	return nil
}

// quorumFlag is a quorum weight that must fit in 32 bits.
type quorumFlag uint32

func (q *quorumFlag) String() string {
	return strconv.FormatUint(uint64(*q), 10)
}

func (q *quorumFlag) Set(value string) error {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fmt.Errorf("quorum %q:\n%w", value, err)
	}

	*q = quorumFlag(v)

	return nil
}

// signingKey returns the key of the given scheme controlled by an Ed25519 key file.
// BLS keys are derived from the Ed25519 seed, so one file serves both schemes.
func signingKey(priv ed25519.PrivateKey, scheme string) (signing.Key, error) {
	switch strings.ToLower(scheme) {
	case "", "ed25519":
		k, err := signing.NewEd25519Key(priv)
		if err != nil {
			return nil, err
		}
		return k, nil
	case "bls":
		k, err := signing.DeriveBLSFromEd25519(priv)
		if err != nil {
			return nil, err
		}
		return k, nil
	default:
		return nil, fmt.Errorf("unknown scheme %q (ed25519, bls)", scheme)
	}
}

// parseKinds parses a comma-separated list of envelope kinds.
func parseKinds(value string) ([]envelope.Kind, error) {
	var kinds []envelope.Kind

	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		k, err := envelope.ParseKind(name)
		if err != nil {
			return nil, err
		}

		kinds = append(kinds, k)
	}

	if len(kinds) == 0 {
		return nil, fmt.Errorf("no kinds in %q", value)
	}

	return kinds, nil
}

// entryFlag collects repeated id:weight flags in order.
type entryFlag []signerset.Entry

func (e *entryFlag) String() string {
	parts := make([]string, len(*e))
	for i, entry := range *e {
		parts[i] = fmt.Sprintf("%s:%d", entry.Identity, entry.Weight)
	}

	return strings.Join(parts, ",")
}

func (e *entryFlag) Set(value string) error {
	idText, weightText, ok := strings.Cut(value, ":")
	if !ok {
		weightText = "1"
	}

	id, err := account.Parse(idText)
	if err != nil {
		return err
	}

	weight, err := strconv.ParseUint(weightText, 10, 32)
	if err != nil {
		return fmt.Errorf("weight %q:\n%w", weightText, err)
	}

	*e = append(*e, signerset.Entry{Identity: id, Weight: uint32(weight)})

	return nil
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
