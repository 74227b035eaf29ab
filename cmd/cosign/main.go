package main

import (
	"crypto/ed25519"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Cosign/internal/account"
	"Cosign/internal/logger"
	"Cosign/internal/signing"
)

const usage = `usage: cosign <command> [flags]

commands:
  keygen   create a key file and print its account ID (-scheme bls for BLS)
  ledger   run a local ledger behind the HTTP API
  signer   answer sign requests over QUIC
  spend    authorize a payload for a multisig account
  signers  replace a multisig account's signer list
  recover  resubmit journaled transactions that never settled
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches to a subcommand.
func run(command string, args []string) error {
	switch command {
	case "keygen":
		return runKeygen(args)
	case "ledger":
		return runLedger(args)
	case "signer":
		return runSigner(args)
	case "spend":
		return runSpend(args)
	case "signers":
		return runSigners(args)
	case "recover":
		return runRecover(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

// runKeygen writes a new key, or prints the account of an existing one.
// With -scheme bls it also prints the network identity signers are dialed with.
func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	keyPath := fs.String("key", "cosign.key", "Key file path")
	scheme := fs.String("scheme", "ed25519", "Signature scheme (ed25519, bls)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	priv, err := loadOrGenerateKey(*keyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	key, err := signingKey(priv, *scheme)
	if err != nil {
		return err
	}

	fmt.Println(signing.AccountOf(key))

	if key.Scheme() != signing.SchemeEd25519 {
		fmt.Println("node", account.FromPublicKey(priv.Public().(ed25519.PublicKey)))
	}

	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
}
