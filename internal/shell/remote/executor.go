// Package remote is the sole integration point for running commands on the
// deployment target and transferring files to it. Authentication is
// key-based and non-interactive only; anything that would prompt for a
// password is a hard failure, never a retry condition.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/dockhand/dockhand/internal/core/config"
	"github.com/dockhand/dockhand/internal/core/pipeline"
	"github.com/dockhand/dockhand/internal/core/remotecmd"
)

// =============================================================================
// Runner Interface
// =============================================================================

// Result is the outcome of one remote command. A non-zero exit status is a
// Result, not an error: remote commands are not generally idempotent, so
// retry and failure decisions belong to the caller.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok reports whether the command exited zero.
func (r Result) Ok() bool {
	return r.ExitCode == 0
}

// Runner executes remote commands. Components depend on this interface so
// tests can inject a fake recording executor.
type Runner interface {
	Run(ctx context.Context, cmd remotecmd.Command) (Result, error)
	RunInput(ctx context.Context, cmd remotecmd.Command, stdin []byte) (Result, error)
}

// =============================================================================
// Executor
// =============================================================================

// ExecutorConfig tunes connection and execution policy.
type ExecutorConfig struct {
	// ConnectAttempts bounds retries of transient connection failures.
	// Default: 3.
	ConnectAttempts int
	// ConnectBackoff is the linear wait between attempts. Default: 5s.
	ConnectBackoff time.Duration
	// ConnectTimeout bounds a single dial. Default: 10s.
	ConnectTimeout time.Duration
	// CommandTimeout applies to commands without their own timeout.
	// Default: 60s.
	CommandTimeout time.Duration
}

// DefaultExecutorConfig returns the default policy.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ConnectAttempts: 3,
		ConnectBackoff:  5 * time.Second,
		ConnectTimeout:  10 * time.Second,
		CommandTimeout:  60 * time.Second,
	}
}

// dialFunc matches ssh.Dial; injectable for tests.
type dialFunc func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// Executor owns the one SSH session-source for a pipeline run. It must not
// be shared across concurrent runs against the same host.
type Executor struct {
	cfg     *config.DeploymentConfig
	policy  ExecutorConfig
	logger  *slog.Logger
	secrets []string

	dial   dialFunc
	mu     sync.Mutex // protects client
	client *ssh.Client
}

// NewExecutor creates an executor for one deployment target.
func NewExecutor(cfg *config.DeploymentConfig, policy ExecutorConfig, logger *slog.Logger) *Executor {
	if policy.ConnectAttempts == 0 {
		policy.ConnectAttempts = 3
	}
	if policy.ConnectBackoff == 0 {
		policy.ConnectBackoff = 5 * time.Second
	}
	if policy.ConnectTimeout == 0 {
		policy.ConnectTimeout = 10 * time.Second
	}
	if policy.CommandTimeout == 0 {
		policy.CommandTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:     cfg,
		policy:  policy,
		logger:  logger.With("component", "remote"),
		secrets: cfg.Secrets(),
		dial:    ssh.Dial,
	}
}

// Connect establishes the SSH connection, retrying transient failures up to
// the configured bound with linear backoff. Auth rejections and other
// non-transient failures surface immediately without retry.
func (e *Executor) Connect(ctx context.Context) error {
	key, err := os.ReadFile(e.cfg.SSHKeyPath)
	if err != nil {
		return fmt.Errorf("read SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return fmt.Errorf("parse SSH key: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            e.cfg.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: persist and verify host keys
		Timeout:         e.policy.ConnectTimeout,
	}
	addr := net.JoinHostPort(e.cfg.SSHHost, strconv.Itoa(e.cfg.SSHPort))

	var lastErr error
	for attempt := 1; attempt <= e.policy.ConnectAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		client, err := e.dial("tcp", addr, sshConfig)
		if err == nil {
			e.mu.Lock()
			e.client = client
			e.mu.Unlock()
			e.logger.Info("connected", "host", e.cfg.SSHHost, "attempt", attempt)
			return nil
		}

		lastErr = err
		if !transient(err) {
			e.logger.Error("connection rejected", "host", e.cfg.SSHHost, "error", err)
			return &pipeline.ConnectError{Host: e.cfg.SSHHost, Attempts: attempt, Last: err}
		}

		e.logger.Warn("connection attempt failed",
			"host", e.cfg.SSHHost,
			"attempt", attempt,
			"max_attempts", e.policy.ConnectAttempts,
			"error", err,
		)
		if attempt < e.policy.ConnectAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.policy.ConnectBackoff):
			}
		}
	}

	return &pipeline.ConnectError{Host: e.cfg.SSHHost, Attempts: e.policy.ConnectAttempts, Last: lastErr}
}

// transient reports whether a connection failure is worth retrying.
// Refused connections and timeouts are transient; authentication and host
// key failures are not.
func transient(err error) bool {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "host key") ||
		strings.Contains(msg, "permission denied") {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "i/o timeout")
}

// Close closes the SSH connection.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}

// Run executes one logical remote script. The executor never retries
// execution on its own.
func (e *Executor) Run(ctx context.Context, cmd remotecmd.Command) (Result, error) {
	return e.RunInput(ctx, cmd, nil)
}

// RunInput executes a remote script with the given bytes streamed on stdin.
// Used for writing remote files without a separate transfer channel.
func (e *Executor) RunInput(ctx context.Context, cmd remotecmd.Command, stdin []byte) (Result, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return Result{}, errors.New("not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("create session for %s: %w", cmd.Name, err)
	}
	defer session.Close()

	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = e.policy.CommandTimeout
	}

	e.logger.Debug("running remote command",
		"command", cmd.Name,
		"script", config.MaskSecrets(cmd.Script, e.secrets...),
		"timeout", timeout,
	)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd.Script)
	}()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(timeout):
		return Result{}, fmt.Errorf("%s timed out after %s", cmd.Name, timeout)
	case err := <-done:
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, fmt.Errorf("%s: %w", cmd.Name, err)
	}
}
