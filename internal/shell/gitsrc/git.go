// Package gitsrc obtains the local source tree for a deployment: a fresh
// clone of the configured branch, or a fetch-and-reset when a clone already
// exists. The auth token rides in the remote URL and is redacted from every
// log line and error this package produces.
package gitsrc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dockhand/dockhand/internal/core/config"
)

// Client clones or updates the local project directory.
type Client struct {
	cfg    *config.DeploymentConfig
	logger *slog.Logger
}

// NewClient creates a source client for one deployment.
func NewClient(cfg *config.DeploymentConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger.With("component", "gitsrc")}
}

// Ensure makes LocalProjectDir contain the configured branch of the
// repository. An existing clone is updated in place; anything else is a
// fresh clone.
func (c *Client) Ensure(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(c.cfg.LocalProjectDir, ".git")); err == nil {
		return c.update(ctx)
	}
	return c.clone(ctx)
}

func (c *Client) clone(ctx context.Context) error {
	c.logger.Info("cloning repository",
		"url", config.RedactURL(c.cfg.RepoURL),
		"branch", c.cfg.Branch,
		"dir", c.cfg.LocalProjectDir,
	)
	return c.git(ctx, "", "clone", "--branch", c.cfg.Branch, "--single-branch",
		c.cfg.AuthenticatedURL(), c.cfg.LocalProjectDir)
}

func (c *Client) update(ctx context.Context) error {
	c.logger.Info("updating existing clone",
		"branch", c.cfg.Branch,
		"dir", c.cfg.LocalProjectDir,
	)
	dir := c.cfg.LocalProjectDir

	// Point origin at the authenticated URL so fetch works regardless of
	// how the clone was originally created.
	if err := c.git(ctx, dir, "remote", "set-url", "origin", c.cfg.AuthenticatedURL()); err != nil {
		return err
	}
	if err := c.git(ctx, dir, "fetch", "origin", c.cfg.Branch); err != nil {
		return err
	}
	if err := c.git(ctx, dir, "checkout", c.cfg.Branch); err != nil {
		return err
	}
	return c.git(ctx, dir, "reset", "--hard", "origin/"+c.cfg.Branch)
}

// git runs one git command, masking credentials in any failure output.
func (c *Client) git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	// Never let git fall back to an interactive credential prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		masked := config.MaskSecrets(strings.TrimSpace(output.String()), c.cfg.Secrets()...)
		return fmt.Errorf("git %s: %w: %s", args[0], err, masked)
	}
	return nil
}
