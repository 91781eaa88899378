// Package deploy drives one deployment end to end: source checkout, remote
// connection, environment provisioning, file sync, container rollout, proxy
// configuration, and health validation. Stages run strictly sequentially and
// a stop request takes effect at the next stage boundary, never mid-command.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dockhand/dockhand/internal/core/config"
	"github.com/dockhand/dockhand/internal/core/descriptor"
	"github.com/dockhand/dockhand/internal/core/health"
	"github.com/dockhand/dockhand/internal/core/pipeline"
	"github.com/dockhand/dockhand/internal/core/remotecmd"
	"github.com/dockhand/dockhand/internal/shell/provision"
	"github.com/dockhand/dockhand/internal/shell/proxy"
	"github.com/dockhand/dockhand/internal/shell/remote"
	"github.com/dockhand/dockhand/internal/shell/runlog"
	"github.com/dockhand/dockhand/internal/shell/validator"
)

// Transport is the remote channel the orchestrator drives: command execution
// plus connection lifecycle and file sync. *remote.Executor satisfies it.
type Transport interface {
	remote.Runner
	Connect(ctx context.Context) error
	Sync(ctx context.Context, localDir, remoteDir string, opts remote.SyncOptions) (*remote.SyncResult, error)
	Close() error
}

// Source produces the local project tree for the configured branch.
type Source interface {
	Ensure(ctx context.Context) error
}

// healthChecker is satisfied by *validator.Validator; injectable for tests.
type healthChecker interface {
	Check(ctx context.Context) *health.Report
}

// Outcome summarizes a finished run, successful or not.
type Outcome struct {
	FinalState pipeline.State
	// AccessURL is the public address of the deployed application; set only
	// when the run reaches Done.
	AccessURL string
	Kind      descriptor.Kind
	Provision *provision.Report
	Health    *health.Report
	SyncStats string
}

// Orchestrator runs the deployment pipeline for one resolved configuration.
// It owns a single pipeline.Run and must not be shared across invocations.
type Orchestrator struct {
	cfg       *config.DeploymentConfig
	transport Transport
	source    Source
	builder   remotecmd.Builder
	checker   healthChecker
	logger    *slog.Logger

	// PollAttempts and PollInterval bound the post-start running-state poll.
	// Defaults: 20 attempts, 2s apart.
	PollAttempts int
	PollInterval time.Duration
}

// New creates an orchestrator for one deployment.
func New(cfg *config.DeploymentConfig, transport Transport, source Source, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:          cfg,
		transport:    transport,
		source:       source,
		builder:      remotecmd.NewBuilder(cfg.SSHUser),
		checker:      validator.New(cfg, transport, logger),
		logger:       logger.With("component", "deploy"),
		PollAttempts: 20,
		PollInterval: 2 * time.Second,
	}
}

// Run executes the pipeline. The returned Outcome is always populated; on
// failure the error carries the stage-specific cause and the run is left in
// the absorbing aborted state. Partial remote state is deliberately kept for
// inspection; only the explicit cleanup path removes it.
func (o *Orchestrator) Run(ctx context.Context) (*Outcome, error) {
	run := pipeline.NewRun()
	out := &Outcome{}

	fail := func(err error) (*Outcome, error) {
		if abortErr := run.Abort(err); abortErr != nil {
			o.logger.Error("abort from unexpected state", "state", run.State(), "error", abortErr)
		}
		out.FinalState = run.State()
		o.logger.Error("run aborted", "error", err)
		return out, err
	}
	// Stop requests are honored between stages only.
	guard := func() error {
		if ctx.Err() != nil {
			return pipeline.ErrInterrupted
		}
		return nil
	}

	o.logger.Info("starting deployment",
		"repo", o.cfg.RepoName,
		"url", config.RedactURL(o.cfg.RepoURL),
		"branch", o.cfg.Branch,
		"host", o.cfg.SSHHost,
		"port", o.cfg.AppPort,
	)
	if err := run.Transition(pipeline.StateConfigResolved); err != nil {
		return fail(err)
	}

	// Source: clone or update, then identify the build descriptor. Fails
	// before any remote connection is opened.
	if err := guard(); err != nil {
		return fail(err)
	}
	if err := o.source.Ensure(ctx); err != nil {
		return fail(&pipeline.SourceError{Cause: err})
	}
	desc, err := descriptor.Detect(o.cfg.LocalProjectDir)
	if err != nil {
		return fail(&pipeline.SourceError{Cause: err})
	}
	out.Kind = desc.Kind
	runlog.Success(o.logger, "source ready", "kind", string(desc.Kind), "descriptor", desc.Path)
	if err := run.Transition(pipeline.StateSourceReady); err != nil {
		return fail(err)
	}

	if err := guard(); err != nil {
		return fail(err)
	}
	if err := o.transport.Connect(ctx); err != nil {
		return fail(err)
	}
	defer o.transport.Close()
	if err := run.Transition(pipeline.StateRemoteReachable); err != nil {
		return fail(err)
	}

	if err := guard(); err != nil {
		return fail(err)
	}
	provisioner := provision.New(o.transport, o.cfg.SSHUser, o.logger)
	report, err := provisioner.Ensure(ctx)
	out.Provision = report
	if err != nil {
		return fail(err)
	}
	runlog.Success(o.logger, "environment ready", "already_satisfied", report.AllSatisfied())
	if err := run.Transition(pipeline.StateEnvironmentReady); err != nil {
		return fail(err)
	}

	if err := guard(); err != nil {
		return fail(err)
	}
	if err := o.sync(ctx, out); err != nil {
		return fail(err)
	}
	if err := run.Transition(pipeline.StateSynced); err != nil {
		return fail(err)
	}

	if err := guard(); err != nil {
		return fail(err)
	}
	if err := o.rollout(ctx, desc); err != nil {
		return fail(err)
	}
	runlog.Success(o.logger, "application deployed", "container", o.cfg.ContainerName)
	if err := run.Transition(pipeline.StateDeployed); err != nil {
		return fail(err)
	}

	if err := guard(); err != nil {
		return fail(err)
	}
	if err := proxy.NewConfigurator(o.cfg, o.transport, o.logger).Install(ctx); err != nil {
		return fail(err)
	}
	if err := run.Transition(pipeline.StateProxyConfigured); err != nil {
		return fail(err)
	}

	if err := guard(); err != nil {
		return fail(err)
	}
	out.Health = o.checker.Check(ctx)
	if !out.Health.Passed() {
		return fail(&pipeline.HealthFailure{Summary: out.Health.Summary()})
	}
	if err := run.Transition(pipeline.StateValidated); err != nil {
		return fail(err)
	}

	if err := run.Transition(pipeline.StateDone); err != nil {
		return fail(err)
	}
	out.FinalState = run.State()
	out.AccessURL = o.cfg.AccessURL()
	runlog.Success(o.logger, "deployment complete", "access_url", out.AccessURL)
	return out, nil
}

// sync creates the remote project directory and mirrors the local tree into
// it. Deletions propagate so stale files never survive a redeploy.
func (o *Orchestrator) sync(ctx context.Context, out *Outcome) error {
	res, err := o.transport.Run(ctx, o.builder.EnsureProjectDir(o.cfg.RemoteProjectDir, o.cfg.SSHUser))
	if err != nil || !res.Ok() {
		return &pipeline.SyncError{
			LocalDir:  o.cfg.LocalProjectDir,
			RemoteDir: o.cfg.RemoteProjectDir,
			Cause:     resultErr(res, err),
		}
	}

	syncRes, err := o.transport.Sync(ctx, o.cfg.LocalProjectDir, o.cfg.RemoteProjectDir,
		remote.SyncOptions{Delete: true})
	if err != nil {
		return err
	}
	out.SyncStats = syncRes.Stats
	return nil
}

// rollout replaces whatever is running with the freshly synced source: any
// same-named container is removed first, then the compose or direct-build
// path brings the application up, and a bounded poll confirms it stays up.
func (o *Orchestrator) rollout(ctx context.Context, desc *descriptor.Descriptor) error {
	res, err := o.transport.Run(ctx, o.builder.RemoveContainer(o.cfg.ContainerName))
	if err != nil || !res.Ok() {
		return &pipeline.DeployError{Phase: "stop-existing", Cause: resultErr(res, err)}
	}

	if desc.Kind == descriptor.KindCompose {
		if res, err := o.transport.Run(ctx, o.builder.ComposeDown(o.cfg.RemoteProjectDir)); err != nil || !res.Ok() {
			return &pipeline.DeployError{Phase: "compose-down", Cause: resultErr(res, err)}
		}
		if res, err := o.transport.Run(ctx, o.builder.ComposeUp(o.cfg.RemoteProjectDir)); err != nil || !res.Ok() {
			return &pipeline.DeployError{Phase: "compose-up", Cause: resultErr(res, err)}
		}
		return o.awaitRunning(ctx, o.builder.ComposeRunning(o.cfg.RemoteProjectDir),
			func(r remote.Result) bool { return r.Ok() && strings.TrimSpace(r.Stdout) != "" })
	}

	if res, err := o.transport.Run(ctx, o.builder.BuildImage(o.cfg.RemoteProjectDir, o.cfg.ContainerName)); err != nil || !res.Ok() {
		return &pipeline.DeployError{Phase: "build", Cause: resultErr(res, err)}
	}
	if res, err := o.transport.Run(ctx, o.builder.RunContainer(o.cfg.ContainerName, o.cfg.AppPort)); err != nil || !res.Ok() {
		return &pipeline.DeployError{Phase: "run", Cause: resultErr(res, err)}
	}
	return o.awaitRunning(ctx, o.builder.ContainerRunning(o.cfg.ContainerName),
		func(r remote.Result) bool { return r.Ok() && strings.TrimSpace(r.Stdout) == "true" })
}

// awaitRunning polls the given probe until it reports running, bounded by
// PollAttempts with PollInterval between checks.
func (o *Orchestrator) awaitRunning(ctx context.Context, probe remotecmd.Command, up func(remote.Result) bool) error {
	for attempt := 1; attempt <= o.PollAttempts; attempt++ {
		res, err := o.transport.Run(ctx, probe)
		if err == nil && up(res) {
			o.logger.Info("application running", "attempt", attempt)
			return nil
		}
		o.logger.Debug("not running yet", "attempt", attempt, "max_attempts", o.PollAttempts)
		if attempt < o.PollAttempts {
			select {
			case <-ctx.Done():
				return pipeline.ErrInterrupted
			case <-time.After(o.PollInterval):
			}
		}
	}
	return &pipeline.DeployTimeoutError{
		Container: o.cfg.ContainerName,
		Attempts:  o.PollAttempts,
		Interval:  o.PollInterval,
	}
}

func resultErr(res remote.Result, err error) error {
	if err != nil {
		return err
	}
	detail := strings.TrimSpace(res.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(res.Stdout)
	}
	if detail == "" {
		return fmt.Errorf("exit status %d", res.ExitCode)
	}
	return fmt.Errorf("exit status %d: %s", res.ExitCode, detail)
}
