// Package validator performs the post-deploy verification pass: service,
// container, proxy, and reachability checks, producing an itemized report.
// Checks never short-circuit the report; every run yields all results, with
// engine-dependent checks recorded as skipped when the engine itself is down.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dockhand/dockhand/internal/core/config"
	"github.com/dockhand/dockhand/internal/core/health"
	"github.com/dockhand/dockhand/internal/core/remotecmd"
	"github.com/dockhand/dockhand/internal/shell/remote"
)

// Check names, in report order.
const (
	CheckEngineActive     = "engine-active"
	CheckContainerRunning = "container-running"
	CheckProxyActive      = "proxy-active"
	CheckProxyConfig      = "proxy-config-valid"
	CheckLoopback         = "loopback-reachable"
	CheckPublic           = "public-reachable"
)

// Validator runs the verification checks for one deployment.
type Validator struct {
	cfg     *config.DeploymentConfig
	runner  remote.Runner
	builder remotecmd.Builder
	logger  *slog.Logger

	// LoopbackTimeout bounds the remote loopback HTTP probe. Default: 5s.
	LoopbackTimeout time.Duration
	// httpClient performs the advisory public reachability check from the
	// operator machine; injectable for tests.
	httpClient *http.Client
}

// New creates a validator for one deployment.
func New(cfg *config.DeploymentConfig, runner remote.Runner, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		cfg:             cfg,
		runner:          runner,
		builder:         remotecmd.NewBuilder(cfg.SSHUser),
		logger:          logger.With("component", "validator"),
		LoopbackTimeout: 5 * time.Second,
		httpClient:      &http.Client{Timeout: 5 * time.Second},
	}
}

// Check runs every verification in order and returns the full report.
// The overall verdict is the report's; this method itself never fails.
func (v *Validator) Check(ctx context.Context) *health.Report {
	report := &health.Report{}

	engineUp := v.checkService(ctx, report, CheckEngineActive, "docker")

	if engineUp {
		v.checkContainer(ctx, report)
	} else {
		report.Append(health.Check{Name: CheckContainerRunning, Skipped: true, Detail: "skipped: engine not active"})
	}

	v.checkService(ctx, report, CheckProxyActive, "nginx")
	v.checkProxyConfig(ctx, report)

	if engineUp {
		v.checkLoopback(ctx, report)
	} else {
		report.Append(health.Check{Name: CheckLoopback, Skipped: true, Detail: "skipped: engine not active"})
	}

	v.checkPublic(ctx, report)

	for _, c := range report.Checks() {
		v.logger.Info("health check",
			"check", c.Name,
			"passed", c.Passed,
			"skipped", c.Skipped,
			"detail", c.Detail,
		)
	}
	return report
}

func (v *Validator) checkService(ctx context.Context, report *health.Report, name, unit string) bool {
	res, err := v.runner.Run(ctx, v.builder.ServiceActive(unit))
	if err != nil {
		report.Append(health.Check{Name: name, Detail: err.Error()})
		return false
	}
	if !res.Ok() {
		report.Append(health.Check{Name: name, Detail: unit + " service is not active"})
		return false
	}
	report.Append(health.Check{Name: name, Passed: true, Detail: unit + " active"})
	return true
}

func (v *Validator) checkContainer(ctx context.Context, report *health.Report) {
	name := v.cfg.ContainerName
	res, err := v.runner.Run(ctx, v.builder.ContainerRunning(name))
	if err != nil {
		report.Append(health.Check{Name: CheckContainerRunning, Detail: err.Error()})
		return
	}
	state := strings.TrimSpace(res.Stdout)
	if res.Ok() && state == "true" {
		report.Append(health.Check{Name: CheckContainerRunning, Passed: true, Detail: name + " running"})
		return
	}

	// Diagnose: is there a stopped instance, or no container at all?
	detail := name + " not running"
	if present, err := v.runner.Run(ctx, v.builder.ContainerPresent(name)); err == nil {
		if listed := strings.TrimSpace(present.Stdout); listed != "" {
			detail = fmt.Sprintf("%s stopped: %s", name, listed)
		} else {
			detail = name + " does not exist"
		}
	}
	report.Append(health.Check{Name: CheckContainerRunning, Detail: detail})
}

func (v *Validator) checkProxyConfig(ctx context.Context, report *health.Report) {
	res, err := v.runner.Run(ctx, v.builder.ProxyTest())
	switch {
	case err != nil:
		report.Append(health.Check{Name: CheckProxyConfig, Detail: err.Error()})
	case !res.Ok():
		report.Append(health.Check{Name: CheckProxyConfig, Detail: strings.TrimSpace(res.Stderr)})
	default:
		report.Append(health.Check{Name: CheckProxyConfig, Passed: true, Detail: "configuration valid"})
	}
}

func (v *Validator) checkLoopback(ctx context.Context, report *health.Report) {
	res, err := v.runner.Run(ctx, v.builder.LoopbackProbe(v.cfg.AppPort, v.LoopbackTimeout))
	if err != nil {
		report.Append(health.Check{Name: CheckLoopback, Detail: err.Error()})
		return
	}
	code := strings.TrimSpace(res.Stdout)
	if res.Ok() && acceptableStatus(code) {
		report.Append(health.Check{
			Name:   CheckLoopback,
			Passed: true,
			Detail: fmt.Sprintf("HTTP %s from 127.0.0.1:%d", code, v.cfg.AppPort),
		})
		return
	}
	report.Append(health.Check{
		Name:   CheckLoopback,
		Detail: fmt.Sprintf("127.0.0.1:%d answered %q", v.cfg.AppPort, code),
	})
}

// checkPublic probes the public host address from the operator machine.
// Advisory: firewalls and DNS are external to this system, so failure is
// reported without changing the verdict.
func (v *Validator) checkPublic(ctx context.Context, report *health.Report) {
	url := v.cfg.AccessURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		report.Append(health.Check{Name: CheckPublic, Advisory: true, Detail: err.Error()})
		return
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		report.Append(health.Check{Name: CheckPublic, Advisory: true, Detail: err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		report.Append(health.Check{
			Name:     CheckPublic,
			Passed:   true,
			Advisory: true,
			Detail:   fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url),
		})
		return
	}
	report.Append(health.Check{
		Name:     CheckPublic,
		Advisory: true,
		Detail:   fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url),
	})
}

// acceptableStatus accepts 2xx and 3xx responses.
func acceptableStatus(code string) bool {
	return len(code) == 3 && (code[0] == '2' || code[0] == '3')
}
