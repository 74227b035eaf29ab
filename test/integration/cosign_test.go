package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// TestSpendAndReplaceSigners drives the cosign binary end to end: a ledger,
// three signer processes and coordinator runs over QUIC.
func TestSpendAndReplaceSigners(t *testing.T) {
	c := NewCluster(t, 3, 2)
	ctx := context.Background()
	cli := c.Client()

	if err := cli.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	out, err := c.Run("spend", c.Signers, "-payload", "pay 10 to bob")
	if err != nil {
		t.Fatalf("spend: %v", err)
	}

	if !strings.Contains(out, "accepted") {
		t.Fatalf("spend output = %q", out)
	}

	// One signer down still leaves quorum.
	c.Signers[2].Stop()

	if _, err := c.Run("spend", c.Signers, "-payload", "pay 5 to carol"); err != nil {
		t.Fatalf("spend with a signer down: %v", err)
	}

	seq, err := cli.Sequence(ctx, c.Account)
	if err != nil || seq != 3 {
		t.Fatalf("sequence = %d, %v", seq, err)
	}

	s0, s1 := c.Signers[0], c.Signers[1]

	_, err = c.Run("signers", c.Signers[:2],
		"-set", fmt.Sprintf("%s:2", s0.ID),
		"-set", fmt.Sprintf("%s:1", s1.ID),
		"-quorum", "2",
	)
	if err != nil {
		t.Fatalf("replace signers: %v", err)
	}

	set, err := cli.SignerList(ctx, c.Account)
	if err != nil {
		t.Fatalf("signer list: %v", err)
	}

	if set.Version() != 2 || set.Len() != 2 || set.Contains(c.Signers[2].ID) {
		t.Fatalf("signer list version %d len %d", set.Version(), set.Len())
	}

	// The heavy signer alone now carries quorum.
	if _, err := c.Run("spend", c.Signers[:1], "-payload", "pay 1 to dave"); err != nil {
		t.Fatalf("spend with the heavy signer: %v", err)
	}

	// The light signer alone does not.
	_, err = c.Run("spend", c.Signers[1:2], "-payload", "pay 1 to erin")
	if err == nil || !strings.Contains(err.Error(), "quorum unreachable") {
		t.Fatalf("expected quorum unreachable, got %v", err)
	}

	if seq, _ := cli.Sequence(ctx, c.Account); seq != 5 {
		t.Errorf("sequence = %d after the failed spend", seq)
	}
}

// TestRecoverWithNothingPending checks that recover on an empty journal is a no-op.
func TestRecoverWithNothingPending(t *testing.T) {
	c := NewCluster(t, 1, 1)

	out, err := c.Run("recover", nil)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}

	if strings.TrimSpace(out) != "" {
		t.Errorf("recover output = %q", out)
	}
}
