// Package config resolves raw deployment parameters into an immutable
// DeploymentConfig. Resolution either fully succeeds or fails with a typed
// validation error; no partially valid config is ever returned.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// =============================================================================
// Validation Errors
// =============================================================================

var (
	// ErrMissingField is returned when a required input is empty.
	ErrMissingField = errors.New("required field is missing")

	// ErrInvalidKey is returned when the SSH key path does not exist or is
	// not readable.
	ErrInvalidKey = errors.New("ssh key is invalid")

	// ErrInvalidPort is returned when the application port is outside 1-65535.
	ErrInvalidPort = errors.New("application port is invalid")
)

// ValidationError wraps a validation sentinel with the offending field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Raw Input
// =============================================================================

// RawInput holds the user-supplied parameters before validation.
// Values come from prompts, environment variables, or a .env file.
type RawInput struct {
	RepoURL    string
	AuthToken  string
	Branch     string
	SSHUser    string
	SSHHost    string
	SSHPort    int
	SSHKeyPath string
	AppPort    int
	RemoteBase string
}

// =============================================================================
// DeploymentConfig
// =============================================================================

// DeploymentConfig is the fully resolved, immutable deployment configuration.
// All derived fields are deterministic functions of RepoURL and RemoteBase.
type DeploymentConfig struct {
	RepoURL    string
	AuthToken  string
	Branch     string
	SSHUser    string
	SSHHost    string
	SSHPort    int
	SSHKeyPath string
	AppPort    int
	RemoteBase string

	// Derived fields.
	RepoName         string
	LocalProjectDir  string
	RemoteProjectDir string
	ContainerName    string
}

// DefaultRemoteBase is the remote directory under which project trees are
// mirrored, namespaced by repo name.
const DefaultRemoteBase = "/srv/apps"

// DefaultBranch is used when no branch is supplied.
const DefaultBranch = "main"

// DefaultSSHPort is used when no SSH port is supplied.
const DefaultSSHPort = 22

// Resolve validates raw input and produces a DeploymentConfig.
// The only side effect is checking existence and permissions of the key file.
// Warnings (currently only broad key permissions) are non-fatal and returned
// alongside a valid config.
func Resolve(in RawInput) (*DeploymentConfig, []string, error) {
	required := []struct {
		name  string
		value string
	}{
		{"repo_url", in.RepoURL},
		{"auth_token", in.AuthToken},
		{"ssh_user", in.SSHUser},
		{"ssh_host", in.SSHHost},
		{"ssh_key_path", in.SSHKeyPath},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, nil, &ValidationError{Field: f.name, Reason: "value is required", Err: ErrMissingField}
		}
	}

	if in.AppPort == 0 {
		return nil, nil, &ValidationError{Field: "app_port", Reason: "value is required", Err: ErrMissingField}
	}
	if in.AppPort < 1 || in.AppPort > 65535 {
		return nil, nil, &ValidationError{
			Field:  "app_port",
			Reason: fmt.Sprintf("port %d is outside 1-65535", in.AppPort),
			Err:    ErrInvalidPort,
		}
	}

	var warnings []string
	// Open rather than stat: an existing key the user cannot read must fail
	// here, not later during the SSH handshake.
	keyFile, err := os.Open(in.SSHKeyPath)
	if err != nil {
		return nil, nil, &ValidationError{
			Field:  "ssh_key_path",
			Reason: fmt.Sprintf("key file is not readable: %v", err),
			Err:    ErrInvalidKey,
		}
	}
	info, err := keyFile.Stat()
	keyFile.Close()
	if err != nil {
		return nil, nil, &ValidationError{
			Field:  "ssh_key_path",
			Reason: fmt.Sprintf("key file is not readable: %v", err),
			Err:    ErrInvalidKey,
		}
	}
	if info.IsDir() {
		return nil, nil, &ValidationError{
			Field:  "ssh_key_path",
			Reason: "key path is a directory",
			Err:    ErrInvalidKey,
		}
	}
	// Anything broader than owner read/write deserves a warning, matching
	// the checks ssh itself performs.
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		warnings = append(warnings,
			fmt.Sprintf("key file %s has permissions %04o; 0600 or 0400 recommended", in.SSHKeyPath, perm))
	}

	branch := in.Branch
	if strings.TrimSpace(branch) == "" {
		branch = DefaultBranch
	}
	sshPort := in.SSHPort
	if sshPort == 0 {
		sshPort = DefaultSSHPort
	}
	remoteBase := in.RemoteBase
	if strings.TrimSpace(remoteBase) == "" {
		remoteBase = DefaultRemoteBase
	}

	repoName, err := RepoNameFromURL(in.RepoURL)
	if err != nil {
		return nil, nil, &ValidationError{Field: "repo_url", Reason: err.Error(), Err: ErrMissingField}
	}

	cfg := &DeploymentConfig{
		RepoURL:    in.RepoURL,
		AuthToken:  in.AuthToken,
		Branch:     branch,
		SSHUser:    in.SSHUser,
		SSHHost:    in.SSHHost,
		SSHPort:    sshPort,
		SSHKeyPath: in.SSHKeyPath,
		AppPort:    in.AppPort,
		RemoteBase: remoteBase,

		RepoName:         repoName,
		LocalProjectDir:  filepath.Join(".", repoName),
		RemoteProjectDir: path.Join(remoteBase, repoName),
		ContainerName:    repoName + "_svc",
	}
	return cfg, warnings, nil
}

// RepoNameFromURL derives the repository name from the URL basename,
// stripping a trailing .git suffix.
func RepoNameFromURL(repoURL string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(repoURL), "/")
	base := path.Base(trimmed)
	base = strings.TrimSuffix(base, ".git")
	if base == "" || base == "." || base == "/" {
		return "", fmt.Errorf("cannot derive repository name from %q", RedactURL(repoURL))
	}
	return base, nil
}

// AccessURL returns the public URL the deployed application is reachable at
// once the reverse proxy is configured.
func (c *DeploymentConfig) AccessURL() string {
	return "http://" + c.SSHHost + "/"
}

// AuthenticatedURL returns the clone URL with the auth token embedded as
// userinfo. This is the only place the token is interpolated into a URL;
// the result must never be logged without passing through RedactURL.
func (c *DeploymentConfig) AuthenticatedURL() string {
	u, err := url.Parse(c.RepoURL)
	if err != nil || u.Scheme == "" {
		// Non-URL remotes (scp-like syntax) are passed through untouched.
		return c.RepoURL
	}
	u.User = url.UserPassword("x-access-token", c.AuthToken)
	return u.String()
}
