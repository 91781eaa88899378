package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Stage Errors
// =============================================================================

// ErrInterrupted is returned when an external stop request aborts the run at
// a stage boundary. No remote state is rolled back.
var ErrInterrupted = errors.New("interrupted by operator")

// ErrCleanupDeclined is returned when the operator does not type the exact
// confirmation string for the cleanup path. Nothing is deleted.
var ErrCleanupDeclined = errors.New("cleanup aborted by operator")

// SourceError reports a failure to produce a deployable local source tree:
// clone/pull failures and missing or invalid build descriptors. No remote
// connection has been opened when this surfaces.
type SourceError struct {
	Cause error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source preparation failed: %v", e.Cause)
}

func (e *SourceError) Unwrap() error { return e.Cause }

// ConnectError reports exhausted connection attempts to the remote host.
type ConnectError struct {
	Host     string
	Attempts int
	Last     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("cannot reach %s after %d attempts: %v", e.Host, e.Attempts, e.Last)
}

func (e *ConnectError) Unwrap() error { return e.Last }

// ProvisionError reports a failed remote environment setup step.
type ProvisionError struct {
	Step  string
	Cause error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning step %q failed: %v", e.Step, e.Cause)
}

func (e *ProvisionError) Unwrap() error { return e.Cause }

// SyncError reports a failed file transfer. No remote application state has
// been changed when this surfaces.
type SyncError struct {
	LocalDir  string
	RemoteDir string
	Cause     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s -> %s failed: %v", e.LocalDir, e.RemoteDir, e.Cause)
}

func (e *SyncError) Unwrap() error { return e.Cause }

// DeployError reports a failed build or run phase.
type DeployError struct {
	Phase string // "stop-existing", "build", "run", "compose-down", "compose-up"
	Cause error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy phase %q failed: %v", e.Phase, e.Cause)
}

func (e *DeployError) Unwrap() error { return e.Cause }

// DeployTimeoutError reports that the container never reached a running
// state within the bounded poll.
type DeployTimeoutError struct {
	Container string
	Attempts  int
	Interval  time.Duration
}

func (e *DeployTimeoutError) Error() string {
	return fmt.Sprintf("container %s not running after %d checks (%s apart)",
		e.Container, e.Attempts, e.Interval)
}

// ProxyError reports a reverse-proxy configuration failure. The previously
// active configuration is preserved whenever this surfaces.
type ProxyError struct {
	Op    string // "render", "backup", "install", "test", "reload", "restore"
	Cause error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s failed: %v", e.Op, e.Cause)
}

func (e *ProxyError) Unwrap() error { return e.Cause }

// HealthFailure reports a failed post-deploy verification. The full itemized
// report is always attached.
type HealthFailure struct {
	Summary string
}

func (e *HealthFailure) Error() string {
	return "health validation failed: " + e.Summary
}

// CleanupError aggregates best-effort teardown failures. Individual step
// failures never block subsequent steps.
type CleanupError struct {
	Failures []error
}

func (e *CleanupError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d cleanup step(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

// =============================================================================
// Exit Codes
// =============================================================================

// Exit codes are distinct per failure class so callers can branch on cause.
const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitSourceError     = 2
	ExitConnectError    = 3
	ExitProvisionError  = 4
	ExitSyncError       = 5
	ExitDeployError     = 6
	ExitProxyError      = 7
	ExitHealthError     = 8
	ExitCleanupError    = 9
	ExitCleanupDeclined = 10
	ExitInterrupted     = 130
)

// ExitCodeFor maps an error to its stage-specific exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		sourceErr    *SourceError
		connectErr   *ConnectError
		provisionErr *ProvisionError
		syncErr      *SyncError
		deployErr    *DeployError
		timeoutErr   *DeployTimeoutError
		proxyErr     *ProxyError
		healthErr    *HealthFailure
		cleanupErr   *CleanupError
	)

	switch {
	case errors.Is(err, ErrInterrupted):
		return ExitInterrupted
	case errors.Is(err, ErrCleanupDeclined):
		return ExitCleanupDeclined
	case errors.As(err, &sourceErr):
		return ExitSourceError
	case errors.As(err, &connectErr):
		return ExitConnectError
	case errors.As(err, &provisionErr):
		return ExitProvisionError
	case errors.As(err, &syncErr):
		return ExitSyncError
	case errors.As(err, &deployErr), errors.As(err, &timeoutErr):
		return ExitDeployError
	case errors.As(err, &proxyErr):
		return ExitProxyError
	case errors.As(err, &healthErr):
		return ExitHealthError
	case errors.As(err, &cleanupErr):
		return ExitCleanupError
	default:
		return ExitConfigError
	}
}
