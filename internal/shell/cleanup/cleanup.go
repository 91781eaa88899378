// Package cleanup reverses a deployment: container, remote project files,
// proxy site, and the local clone. Teardown is best-effort — one step's
// failure never blocks the remaining steps — and every failure is aggregated
// into the final report.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dockhand/dockhand/internal/core/config"
	"github.com/dockhand/dockhand/internal/core/descriptor"
	"github.com/dockhand/dockhand/internal/core/pipeline"
	"github.com/dockhand/dockhand/internal/core/remotecmd"
	"github.com/dockhand/dockhand/internal/shell/proxy"
	"github.com/dockhand/dockhand/internal/shell/remote"
)

// StepResult records the outcome of one teardown step.
type StepResult struct {
	Name string
	Err  error
}

// Report is the ordered outcome of a cleanup pass.
type Report struct {
	Steps []StepResult
}

// Err aggregates step failures into a CleanupError, or nil when every step
// succeeded.
func (r *Report) Err() error {
	var failures []error
	for _, s := range r.Steps {
		if s.Err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", s.Name, s.Err))
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &pipeline.CleanupError{Failures: failures}
}

// Controller tears down one deployment.
type Controller struct {
	cfg     *config.DeploymentConfig
	runner  remote.Runner
	builder remotecmd.Builder
	proxy   *proxy.Configurator
	logger  *slog.Logger
}

// NewController creates a cleanup controller. Confirmation gating happens in
// the CLI before this is ever invoked.
func NewController(cfg *config.DeploymentConfig, runner remote.Runner, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		runner:  runner,
		builder: remotecmd.NewBuilder(cfg.SSHUser),
		proxy:   proxy.NewConfigurator(cfg, runner, logger),
		logger:  logger.With("component", "cleanup"),
	}
}

// Cleanup runs every teardown step in order, recording per-step outcomes.
func (c *Controller) Cleanup(ctx context.Context) *Report {
	report := &Report{}
	record := func(name string, err error) {
		if err != nil {
			c.logger.Warn("cleanup step failed", "step", name, "error", err)
		} else {
			c.logger.Info("cleanup step done", "step", name)
		}
		report.Steps = append(report.Steps, StepResult{Name: name, Err: err})
	}

	record("remove-container", c.removeContainer(ctx))

	// Compose teardown only applies when the local tree still identifies
	// the deployment as compose-based.
	if d, err := descriptor.Detect(c.cfg.LocalProjectDir); err == nil && d.Kind == descriptor.KindCompose {
		record("compose-down", c.composeDown(ctx))
	}

	record("remove-remote-dir", c.removeRemoteDir(ctx))
	record("remove-proxy-site", c.proxy.Remove(ctx))
	record("remove-local-clone", c.removeLocalClone())

	return report
}

func (c *Controller) removeContainer(ctx context.Context) error {
	res, err := c.runner.Run(ctx, c.builder.RemoveContainer(c.cfg.ContainerName))
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("exit status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (c *Controller) composeDown(ctx context.Context) error {
	res, err := c.runner.Run(ctx, c.builder.ComposeDown(c.cfg.RemoteProjectDir))
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("exit status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (c *Controller) removeRemoteDir(ctx context.Context) error {
	res, err := c.runner.Run(ctx, c.builder.RemoveDir(c.cfg.RemoteProjectDir))
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("exit status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (c *Controller) removeLocalClone() error {
	if c.cfg.LocalProjectDir == "" || c.cfg.LocalProjectDir == "/" {
		return fmt.Errorf("refusing to remove %q", c.cfg.LocalProjectDir)
	}
	return os.RemoveAll(c.cfg.LocalProjectDir)
}
