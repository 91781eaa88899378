package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/dockhand/dockhand/internal/core/config"
	"github.com/dockhand/dockhand/internal/core/pipeline"
	"github.com/dockhand/dockhand/internal/core/remotecmd"
)

// =============================================================================
// Test Helpers
// =============================================================================

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "test key")
	require.NoError(t, err)

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))
	return keyPath
}

func testConfig(t *testing.T) *config.DeploymentConfig {
	return &config.DeploymentConfig{
		RepoURL:    "https://example.com/org/app.git",
		AuthToken:  "tok_secret_123",
		SSHUser:    "deploy",
		SSHHost:    "203.0.113.7",
		SSHPort:    22,
		SSHKeyPath: writeTestKey(t),
		AppPort:    3000,
		RepoName:   "app",
	}
}

func fastPolicy(attempts int) ExecutorConfig {
	return ExecutorConfig{
		ConnectAttempts: attempts,
		ConnectBackoff:  time.Millisecond,
		ConnectTimeout:  time.Second,
		CommandTimeout:  time.Second,
	}
}

func refusedErr() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}
}

// =============================================================================
// Connect Retry Policy
// =============================================================================

func TestConnect_TransientFailuresThenSuccess(t *testing.T) {
	e := NewExecutor(testConfig(t), fastPolicy(3), nil)

	var dials int
	e.dial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		dials++
		if dials < 3 {
			return nil, refusedErr()
		}
		return &ssh.Client{}, nil
	}

	require.NoError(t, e.Connect(context.Background()))
	assert.Equal(t, 3, dials)
}

func TestConnect_ExhaustedSurfacesAttemptCount(t *testing.T) {
	e := NewExecutor(testConfig(t), fastPolicy(3), nil)

	var dials int
	e.dial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		dials++
		return nil, refusedErr()
	}

	err := e.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, dials)

	var connErr *pipeline.ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.Equal(t, "203.0.113.7", connErr.Host)
}

func TestConnect_AuthRejectionDoesNotRetry(t *testing.T) {
	e := NewExecutor(testConfig(t), fastPolicy(3), nil)

	var dials int
	e.dial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		dials++
		return nil, errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [publickey]")
	}

	err := e.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, dials, "auth rejection must not be retried")

	var connErr *pipeline.ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 1, connErr.Attempts)
}

func TestConnect_UsesKeyAuthOnly(t *testing.T) {
	e := NewExecutor(testConfig(t), fastPolicy(1), nil)

	var captured *ssh.ClientConfig
	e.dial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		captured = cfg
		return &ssh.Client{}, nil
	}

	require.NoError(t, e.Connect(context.Background()))
	require.NotNil(t, captured)
	assert.Equal(t, "deploy", captured.User)
	assert.Len(t, captured.Auth, 1, "only public key auth must be configured")
}

func TestConnect_CancelledContext(t *testing.T) {
	e := NewExecutor(testConfig(t), fastPolicy(3), nil)
	e.dial = func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
		return nil, refusedErr()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnect_MissingKeyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.SSHKeyPath = filepath.Join(t.TempDir(), "absent")
	e := NewExecutor(cfg, fastPolicy(1), nil)

	err := e.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read SSH key")
}

// =============================================================================
// Transient Classification
// =============================================================================

func TestTransient_TableDriven(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection refused", refusedErr(), true},
		{"io timeout string", errors.New("dial tcp 203.0.113.7:22: i/o timeout"), true},
		{"auth failure", errors.New("ssh: unable to authenticate"), false},
		{"no methods", errors.New("ssh: handshake failed: no supported methods remain"), false},
		{"host key mismatch", errors.New("ssh: host key mismatch"), false},
		{"permission denied", errors.New("permission denied (publickey)"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transient(tt.err))
		})
	}
}

// =============================================================================
// Run Preconditions
// =============================================================================

func TestRun_NotConnected(t *testing.T) {
	e := NewExecutor(testConfig(t), fastPolicy(1), nil)
	probe := remotecmd.Command{Name: "probe", Script: "true", Timeout: time.Second}
	_, err := e.Run(context.Background(), probe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

// =============================================================================
// Rsync Argument Building
// =============================================================================

func TestRsyncArgs_MirrorSemantics(t *testing.T) {
	cfg := testConfig(t)
	e := NewExecutor(cfg, fastPolicy(1), nil)

	args := e.rsyncArgs("./app", "/srv/apps/app", SyncOptions{
		Delete:  true,
		Exclude: []string{"node_modules", ".git"},
	})

	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	assert.Contains(t, joined, "--delete")
	assert.Contains(t, joined, "--exclude .git")
	assert.Contains(t, joined, "--exclude node_modules")
	// .git must not be excluded twice even when the caller passes it.
	assert.Equal(t, 1, countOccurrences(args, ".git"))

	assert.Equal(t, "./app/", args[len(args)-2], "source must carry a trailing slash")
	assert.Equal(t, "deploy@203.0.113.7:/srv/apps/app/", args[len(args)-1])
}

func TestRsyncArgs_NonInteractiveSSH(t *testing.T) {
	cfg := testConfig(t)
	cfg.SSHPort = 2222
	e := NewExecutor(cfg, fastPolicy(1), nil)

	args := e.rsyncArgs("./app", "/srv/apps/app", SyncOptions{})
	var sshCmd string
	for i, a := range args {
		if a == "-e" {
			sshCmd = args[i+1]
		}
	}
	require.NotEmpty(t, sshCmd)
	assert.Contains(t, sshCmd, "BatchMode=yes")
	assert.Contains(t, sshCmd, "StrictHostKeyChecking=accept-new")
	assert.Contains(t, sshCmd, "-p 2222")
	assert.Contains(t, sshCmd, cfg.SSHKeyPath)
}

func countOccurrences(args []string, needle string) int {
	n := 0
	for _, a := range args {
		if a == needle {
			n++
		}
	}
	return n
}
