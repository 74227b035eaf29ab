package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"Cosign/internal/account"
	"Cosign/internal/cosign"
	"Cosign/internal/envelope"
	"Cosign/internal/ledger"
	"Cosign/internal/logger"
	"Cosign/internal/network"
	"Cosign/internal/signerset"
	"Cosign/internal/storage"
	"Cosign/internal/workflow"
)

// coordinator is an assembled workflow and the resources it holds.
type coordinator struct {
	account  account.ID
	workflow *workflow.Workflow
	node     *network.Node
	store    *storage.Store
}

// newCoordinator opens the journal, starts a dial-only network node and builds the workflow.
func newCoordinator(cfg *CoordinatorConfig, needAccount bool) (*coordinator, error) {
	c := &coordinator{}

	if needAccount {
		id, err := account.Parse(cfg.Account)
		if err != nil {
			return nil, fmt.Errorf("-account:\n%w", err)
		}
		c.account = id
	}

	priv, err := loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load key:\n%w", err)
	}

	if err := os.MkdirAll(cfg.DataPath, 0755); err != nil {
		return nil, fmt.Errorf("create data directory:\n%w", err)
	}

	c.store, err = storage.Open(storage.Options{Path: filepath.Join(cfg.DataPath, "journal")})
	if err != nil {
		return nil, fmt.Errorf("init storage:\n%w", err)
	}

	c.node, err = network.NewNode(network.Config{PrivateKey: priv, RequestTimeout: cfg.Timeout})
	if err != nil {
		c.store.Close()
		return nil, fmt.Errorf("init network:\n%w", err)
	}

	if err := c.node.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("start network:\n%w", err)
	}

	collector := cosign.NewNetworkCollector(c.node, cfg.Signers, cosign.WithRequestTimeout(cfg.Timeout))

	c.workflow = workflow.New(
		ledger.NewHTTPClient(cfg.LedgerURL, cfg.Timeout),
		collector,
		workflow.WithJournal(workflow.NewJournal(c.store)),
		workflow.WithConfig(workflow.Config{
			Timeout:        cfg.Timeout,
			CollectTimeout: cfg.CollectTimeout,
			MaxAttempts:    cfg.Attempts,
			Backoff:        workflow.ExponentialBackoff(cfg.Backoff, 32*cfg.Backoff),
		}),
	)

	return c, nil
}

// Close releases the network node and the journal.
func (c *coordinator) Close() {
	if c.node != nil {
		c.node.Close()
	}

	if c.store != nil {
		c.store.Close()
	}
}

// runSpend authorizes one payload.
func runSpend(args []string) error {
	cfg := &CoordinatorConfig{}

	var (
		level    string
		payload  string
		file     string
		asJSON   bool
		sequence uint64
		required uint
	)

	fs := newFlagSet("spend", &level)
	coordinatorFlags(fs, cfg)
	fs.StringVar(&payload, "payload", "", "Transaction payload")
	fs.StringVar(&file, "payload-file", "", "Read the payload from a file")
	fs.BoolVar(&asJSON, "json", false, "Canonicalize the payload as JSON before signing")
	fs.Uint64Var(&sequence, "sequence", 0, "Sequence to use instead of the ledger's next")
	fs.UintVar(&required, "required-signers", 0, "Expected signer count hint")

	if err := parseFlagSet(fs, args, &level); err != nil {
		return err
	}

	data := []byte(payload)
	if file != "" {
		var err error
		if data, err = os.ReadFile(file); err != nil {
			return fmt.Errorf("read payload:\n%w", err)
		}
	}

	if asJSON {
		canonical, err := envelope.CanonicalizeJSON(data)
		if err != nil {
			return fmt.Errorf("-json:\n%w", err)
		}
		data = canonical
	}

	c, err := newCoordinator(cfg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	a, result, err := c.workflow.Authorize(context.Background(), workflow.Request{
		Account:         c.account,
		Payload:         data,
		Kind:            envelope.KindPayload,
		Sequence:        sequence,
		RequiredSigners: uint32(required),
	})

	return reportAttempt(a, result, err)
}

// runSigners replaces the account's signer list.
func runSigners(args []string) error {
	cfg := &CoordinatorConfig{}

	var (
		level      string
		entries    entryFlag
		quorum     quorumFlag
		commitment bool
	)

	fs := newFlagSet("signers", &level)
	coordinatorFlags(fs, cfg)
	fs.Var(&entries, "set", "New signer as id:weight (repeatable, ordered)")
	fs.Var(&quorum, "quorum", "New quorum (default two thirds of the total weight)")
	fs.BoolVar(&commitment, "commitment", true, "Attach the commitment memo")

	if err := parseFlagSet(fs, args, &level); err != nil {
		return err
	}

	if quorum == 0 {
		q, err := signerset.TwoThirdsQuorum(totalWeight(entries))
		if err != nil {
			return fmt.Errorf("%w\n(pass -quorum explicitly)", err)
		}

		quorum = quorumFlag(q)
		logger.Info("no -quorum given, using two thirds of the weight", "quorum", q)
	}

	proposed, err := signerset.Propose(entries, uint32(quorum))
	if err != nil {
		return err
	}

	c, err := newCoordinator(cfg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	a, result, err := c.workflow.ReplaceSigners(context.Background(), c.account, proposed, commitment)

	return reportAttempt(a, result, err)
}

// runRecover resubmits journaled transactions.
func runRecover(args []string) error {
	cfg := &CoordinatorConfig{}

	var level string

	fs := newFlagSet("recover", &level)
	coordinatorFlags(fs, cfg)

	if err := parseFlagSet(fs, args, &level); err != nil {
		return err
	}

	c, err := newCoordinator(cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()

	results, err := c.workflow.Recover(context.Background())

	for _, r := range results {
		fmt.Printf("%s %s %s\n", r.TxIDHex(), r.Status, r.Reason)
	}

	return err
}

// reportAttempt prints a submission result and, for all-BLS transactions, the aggregate proof.
func reportAttempt(a *workflow.Attempt, result ledger.SubmitResult, err error) error {
	if err := report(result, err); err != nil {
		return err
	}

	if a == nil || a.Transaction() == nil {
		return nil
	}

	if proof, ok := a.Transaction().Proof(); ok {
		fmt.Printf("proof %x\n", proof)
	}

	return nil
}

// report prints a submission result.
func report(result ledger.SubmitResult, err error) error {
	if err != nil {
		if ledger.IsTransient(err) {
			return fmt.Errorf("%w\n(the combined transaction is journaled; run recover to resubmit)", err)
		}

		return err
	}

	fmt.Printf("%s %s\n", result.TxIDHex(), result.Status)

	return nil
}

func totalWeight(entries []signerset.Entry) uint64 {
	var total uint64
	for _, e := range entries {
		total += uint64(e.Weight)
	}

	return total
}
