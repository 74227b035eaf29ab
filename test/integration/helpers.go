package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"Cosign/client"
	"Cosign/internal/account"
	"Cosign/internal/genesis"
	"Cosign/internal/testkit"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Process is a running cosign subcommand.
type Process struct {
	name   string             // name labels the process in failures
	cmd    *exec.Cmd          // cmd is the running process
	stderr *safeBuffer        // stderr captures the log output
	cancel context.CancelFunc // cancel stops the process
	done   chan struct{}      // done is closed when the process exits
}

// Logs returns the process log output.
func (p *Process) Logs() string { return p.stderr.String() }

// Exited reports whether the process has stopped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop terminates the process and waits for it.
func (p *Process) Stop() {
	p.cancel()
	<-p.done
}

// Signer is a signer process and its identity.
type Signer struct {
	*Process
	ID       account.ID // ID is the signer's account
	QUICAddr string     // QUICAddr is the signer's listen address
}

// Endpoint returns the signer as a -signer flag value.
func (s *Signer) Endpoint() string {
	return s.ID.String() + "@" + s.QUICAddr
}

// Cluster is a ledger with a multisig account and its signer processes.
type Cluster struct {
	t        *testing.T
	binary   string
	dir      string
	HTTPAddr string
	Account  account.ID
	Ledger   *Process
	Signers  []*Signer
}

// NewCluster builds the binary and starts a ledger whose genesis account
// "treasury" is controlled by size signers of weight 1 at the given quorum.
func NewCluster(t *testing.T, size int, quorum uint32) *Cluster {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping multi-process test in short mode")
	}

	c := &Cluster{
		t:        t,
		binary:   buildBinary(t),
		dir:      t.TempDir(),
		HTTPAddr: freeTCPAddr(t),
		Account:  testkit.Account("treasury"),
	}

	t.Cleanup(c.Stop)

	keys := testkit.NewSigners(t, size)
	gen := genesis.Config{Accounts: []genesis.Account{{Name: "treasury", Quorum: quorum}}}

	for i, id := range keys.IDs {
		gen.Accounts[0].Signers = append(gen.Accounts[0].Signers, genesis.Signer{ID: id.String(), Weight: 1})

		path := filepath.Join(c.dir, fmt.Sprintf("signer-%d.key", i))
		if err := os.WriteFile(path, keys.Keys[i].Private(), 0600); err != nil {
			t.Fatalf("write key: %v", err)
		}
	}

	genesisPath := filepath.Join(c.dir, "genesis.json")
	data, err := json.Marshal(gen)
	if err != nil {
		t.Fatalf("marshal genesis: %v", err)
	}

	if err := os.WriteFile(genesisPath, data, 0644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}

	c.Ledger = c.start("ledger", "ledger",
		"-data", filepath.Join(c.dir, "ledger"),
		"-http", c.HTTPAddr,
		"-genesis", genesisPath,
	)
	c.waitForLog(c.Ledger, "starting ledger", 10*time.Second)

	for i, id := range keys.IDs {
		s := &Signer{ID: id, QUICAddr: freeUDPAddr(t)}
		s.Process = c.start(fmt.Sprintf("signer-%d", i), "signer",
			"-key", filepath.Join(c.dir, fmt.Sprintf("signer-%d.key", i)),
			"-quic", s.QUICAddr,
			"-ledger", c.HTTPAddr,
		)
		c.Signers = append(c.Signers, s)
	}

	for _, s := range c.Signers {
		c.waitForLog(s.Process, "starting signer", 10*time.Second)
	}

	return c
}

// start launches a long-running subcommand.
func (c *Cluster) start(name, command string, args ...string) *Process {
	c.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	p := &Process{
		name:   name,
		stderr: &safeBuffer{},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.cmd = exec.CommandContext(ctx, c.binary, append([]string{command}, args...)...)
	p.cmd.Stderr = p.stderr
	p.cmd.Stdout = p.stderr

	if err := p.cmd.Start(); err != nil {
		cancel()
		c.t.Fatalf("start %s: %v", name, err)
	}

	go func() {
		p.cmd.Wait()
		close(p.done)
	}()

	return p
}

// waitForLog blocks until the process logs s.
func (c *Cluster) waitForLog(p *Process, s string, timeout time.Duration) {
	c.t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if strings.Contains(p.Logs(), s) {
			return
		}

		if p.Exited() {
			c.t.Fatalf("%s exited before %q:\n%s", p.name, s, p.Logs())
		}

		time.Sleep(50 * time.Millisecond)
	}

	c.t.Fatalf("%s did not log %q within %v:\n%s", p.name, s, timeout, p.Logs())
}

// Run executes a coordinator subcommand against the cluster and returns its stdout.
// Only the given signers are passed as endpoints.
func (c *Cluster) Run(command string, signers []*Signer, args ...string) (string, error) {
	c.t.Helper()

	full := []string{command,
		"-ledger", c.HTTPAddr,
		"-account", c.Account.String(),
		"-data", filepath.Join(c.dir, "coordinator"),
		"-timeout", "5s",
		"-collect-timeout", "10s",
		"-backoff", "50ms",
	}

	for _, s := range signers {
		full = append(full, "-signer", s.Endpoint())
	}

	full = append(full, args...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.binary, full...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w\n%s", command, err, stderr.String())
	}

	return stdout.String(), nil
}

// Client returns an SDK client for the cluster's ledger.
func (c *Cluster) Client() *client.Client {
	return client.NewClient(c.HTTPAddr, client.WithTimeout(5*time.Second))
}

// Stop terminates every process.
func (c *Cluster) Stop() {
	for _, s := range c.Signers {
		s.Stop()
	}

	if c.Ledger != nil {
		c.Ledger.Stop()
	}

	if c.t.Failed() {
		if c.Ledger != nil {
			c.t.Logf("ledger logs:\n%s", c.Ledger.Logs())
		}

		for _, s := range c.Signers {
			c.t.Logf("%s logs:\n%s", s.name, s.Logs())
		}
	}

	c.Signers = nil
	c.Ledger = nil
}

// freeTCPAddr returns a loopback address with a free TCP port.
func freeTCPAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	return l.Addr().String()
}

// freeUDPAddr returns a loopback address with a free UDP port.
func freeUDPAddr(t *testing.T) string {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	return conn.LocalAddr().String()
}

// buildBinary compiles the cosign command to a temporary file.
func buildBinary(t *testing.T) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "cosign_test_*")
	if err != nil {
		t.Fatalf("create temp binary file: %v", err)
	}

	binary := tmpFile.Name()
	tmpFile.Close()

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/cosign")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	t.Cleanup(func() { os.Remove(binary) })

	return binary
}

// getProjectRoot walks up from the working directory to the go.mod.
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)

	return ""
}
