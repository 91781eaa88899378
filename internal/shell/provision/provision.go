// Package provision idempotently ensures the remote host has a container
// engine, compose-plugin functionality, and a reverse proxy installed and
// running. Every step is check-then-act: already-satisfied steps are skipped
// and recorded as such, so re-running a deployment reports "already
// satisfied" across the board.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dockhand/dockhand/internal/core/pipeline"
	"github.com/dockhand/dockhand/internal/core/remotecmd"
	"github.com/dockhand/dockhand/internal/shell/remote"
)

// StepResult records the outcome of one provisioning step.
type StepResult struct {
	Name string
	// Satisfied is true when the step found nothing to do.
	Satisfied bool
	Detail    string
}

// Report is the ordered outcome of a provisioning pass.
type Report struct {
	Steps []StepResult
}

// AllSatisfied reports whether every step found the host already provisioned.
func (r *Report) AllSatisfied() bool {
	for _, s := range r.Steps {
		if !s.Satisfied {
			return false
		}
	}
	return len(r.Steps) > 0
}

// Provisioner ensures the remote environment. It issues commands through the
// injected Runner and never retries a mutating command on its own.
type Provisioner struct {
	runner  remote.Runner
	builder remotecmd.Builder
	logger  *slog.Logger

	// pkgMgr is the package manager that worked for the index refresh;
	// installs prefer it and fall back to the other once.
	pkgMgr remotecmd.PackageManager
}

// New creates a provisioner for the given remote user.
func New(runner remote.Runner, sshUser string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		runner:  runner,
		builder: remotecmd.NewBuilder(sshUser),
		logger:  logger.With("component", "provision"),
		pkgMgr:  remotecmd.Apt,
	}
}

// Ensure runs the full provisioning sequence. Any step failure is fatal and
// surfaces as a ProvisionError naming the step.
func (p *Provisioner) Ensure(ctx context.Context) (*Report, error) {
	report := &Report{}

	steps := []func(context.Context, *Report) error{
		p.refreshPackageIndex,
		p.ensureEngine,
		p.ensureComposePlugin,
		p.ensureProxy,
		p.startServices,
	}
	for _, step := range steps {
		if err := step(ctx, report); err != nil {
			return report, err
		}
	}

	p.logger.Info("environment ready", "already_satisfied", report.AllSatisfied())
	return report, nil
}

func (p *Provisioner) refreshPackageIndex(ctx context.Context, report *Report) error {
	// A successful refresh counts as satisfied: refreshing the index is
	// idempotent and changes nothing about the host's provisioning.
	res, err := p.runner.Run(ctx, p.builder.RefreshPackageIndex(remotecmd.Apt))
	if err == nil && res.Ok() {
		report.Steps = append(report.Steps, StepResult{Name: "refresh-package-index", Satisfied: true, Detail: "apt"})
		return nil
	}

	// Fallback package manager, attempted once.
	res, err = p.runner.Run(ctx, p.builder.RefreshPackageIndex(remotecmd.Dnf))
	if err == nil && res.Ok() {
		p.pkgMgr = remotecmd.Dnf
		report.Steps = append(report.Steps, StepResult{Name: "refresh-package-index", Satisfied: true, Detail: "dnf"})
		return nil
	}
	return &pipeline.ProvisionError{Step: "refresh-package-index", Cause: resultErr(res, err)}
}

func (p *Provisioner) ensureEngine(ctx context.Context, report *Report) error {
	probe, err := p.runner.Run(ctx, p.builder.ProbeBinary("docker"))
	if err != nil {
		return &pipeline.ProvisionError{Step: "probe-docker", Cause: err}
	}
	if probe.Ok() {
		detail := "present"
		if ver, err := p.runner.Run(ctx, p.builder.BinaryVersion("docker")); err == nil && ver.Ok() {
			detail = strings.TrimSpace(ver.Stdout)
		}
		p.logger.Info("container engine already installed", "version", detail)
		report.Steps = append(report.Steps, StepResult{Name: "install-docker", Satisfied: true, Detail: detail})
		return nil
	}

	p.logger.Info("installing container engine")
	res, err := p.runner.Run(ctx, p.builder.InstallDockerBootstrap())
	if err != nil || !res.Ok() {
		return &pipeline.ProvisionError{Step: "install-docker", Cause: resultErr(res, err)}
	}
	report.Steps = append(report.Steps, StepResult{Name: "install-docker", Detail: "installed via vendor bootstrap"})
	return nil
}

func (p *Provisioner) ensureComposePlugin(ctx context.Context, report *Report) error {
	probe, err := p.runner.Run(ctx, p.builder.ProbeComposePlugin())
	if err != nil {
		return &pipeline.ProvisionError{Step: "probe-compose", Cause: err}
	}
	if probe.Ok() {
		report.Steps = append(report.Steps, StepResult{Name: "install-compose-plugin", Satisfied: true, Detail: "present"})
		return nil
	}

	p.logger.Info("installing compose plugin")
	if err := p.installWithFallback(ctx, "docker-compose-plugin"); err != nil {
		return &pipeline.ProvisionError{Step: "install-compose-plugin", Cause: err}
	}
	report.Steps = append(report.Steps, StepResult{Name: "install-compose-plugin", Detail: "installed"})
	return nil
}

func (p *Provisioner) ensureProxy(ctx context.Context, report *Report) error {
	probe, err := p.runner.Run(ctx, p.builder.ProbeBinary("nginx"))
	if err != nil {
		return &pipeline.ProvisionError{Step: "probe-nginx", Cause: err}
	}
	if probe.Ok() {
		report.Steps = append(report.Steps, StepResult{Name: "install-nginx", Satisfied: true, Detail: "present"})
		return nil
	}

	p.logger.Info("installing reverse proxy")
	if err := p.installWithFallback(ctx, "nginx"); err != nil {
		return &pipeline.ProvisionError{Step: "install-nginx", Cause: err}
	}
	report.Steps = append(report.Steps, StepResult{Name: "install-nginx", Detail: "installed"})
	return nil
}

func (p *Provisioner) startServices(ctx context.Context, report *Report) error {
	for _, unit := range []string{"docker", "nginx"} {
		active, err := p.runner.Run(ctx, p.builder.ServiceActive(unit))
		if err != nil {
			return &pipeline.ProvisionError{Step: "enable-" + unit, Cause: err}
		}
		if active.Ok() {
			report.Steps = append(report.Steps, StepResult{Name: "enable-" + unit, Satisfied: true, Detail: "active"})
			continue
		}
		res, err := p.runner.Run(ctx, p.builder.EnableService(unit))
		if err != nil || !res.Ok() {
			return &pipeline.ProvisionError{Step: "enable-" + unit, Cause: resultErr(res, err)}
		}
		report.Steps = append(report.Steps, StepResult{Name: "enable-" + unit, Detail: "enabled and started"})
	}
	return nil
}

// installWithFallback tries the working package manager first, then the
// other one exactly once.
func (p *Provisioner) installWithFallback(ctx context.Context, pkg string) error {
	res, err := p.runner.Run(ctx, p.builder.InstallPackage(p.pkgMgr, pkg))
	if err == nil && res.Ok() {
		return nil
	}
	first := resultErr(res, err)

	other := remotecmd.Dnf
	if p.pkgMgr == remotecmd.Dnf {
		other = remotecmd.Apt
	}
	res, err = p.runner.Run(ctx, p.builder.InstallPackage(other, pkg))
	if err == nil && res.Ok() {
		return nil
	}
	return fmt.Errorf("%s install failed (%v); fallback %s also failed: %v", p.pkgMgr, first, other, resultErr(res, err))
}

// resultErr normalizes a (Result, error) pair into one error for reporting.
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
