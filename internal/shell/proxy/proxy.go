// Package proxy installs and removes the nginx virtual host that routes
// public traffic to the deployed application's loopback port. Installation
// is guarded: the previous site file is backed up before overwrite, and a
// configuration that fails the syntax check is rolled back without ever
// reloading the service.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/dockhand/dockhand/internal/core/config"
	"github.com/dockhand/dockhand/internal/core/pipeline"
	"github.com/dockhand/dockhand/internal/core/remotecmd"
	"github.com/dockhand/dockhand/internal/shell/remote"
)

// siteTemplate is the rendered virtual host definition.
var siteTemplate = template.Must(template.New("site").Parse(`server {
    listen 80;
    server_name {{.ServerName}};

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
    }
}
`))

const (
	sitesAvailable = "/etc/nginx/sites-available"
	sitesEnabled   = "/etc/nginx/sites-enabled"
)

// Configurator manages the per-deployment proxy site.
type Configurator struct {
	cfg     *config.DeploymentConfig
	runner  remote.Runner
	builder remotecmd.Builder
	logger  *slog.Logger

	// now is injectable so backup names are deterministic in tests.
	now func() time.Time
}

// NewConfigurator creates a proxy configurator for one deployment.
func NewConfigurator(cfg *config.DeploymentConfig, runner remote.Runner, logger *slog.Logger) *Configurator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Configurator{
		cfg:     cfg,
		runner:  runner,
		builder: remotecmd.NewBuilder(cfg.SSHUser),
		logger:  logger.With("component", "proxy"),
		now:     time.Now,
	}
}

// SitePath returns the site file path for this deployment.
func (c *Configurator) SitePath() string {
	return fmt.Sprintf("%s/%s.conf", sitesAvailable, c.cfg.RepoName)
}

// enabledPath returns the enabled-link path for this deployment.
func (c *Configurator) enabledPath() string {
	return fmt.Sprintf("%s/%s.conf", sitesEnabled, c.cfg.RepoName)
}

// Render produces the site file content.
func (c *Configurator) Render() (string, error) {
	var sb strings.Builder
	err := siteTemplate.Execute(&sb, struct {
		ServerName string
		Port       int
	}{ServerName: c.cfg.SSHHost, Port: c.cfg.AppPort})
	if err != nil {
		return "", &pipeline.ProxyError{Op: "render", Cause: err}
	}
	return sb.String(), nil
}

// Install writes the site, validates the proxy configuration, and reloads.
// Sequence: backup existing site -> write new site -> enable link ->
// syntax test -> reload. A failed syntax test restores the backup and never
// reloads, so the proxy is never left in an un-reloadable state.
func (c *Configurator) Install(ctx context.Context) error {
	content, err := c.Render()
	if err != nil {
		return err
	}

	sitePath := c.SitePath()
	backupPath := fmt.Sprintf("%s.bak.%s", sitePath, c.now().UTC().Format("20060102T150405"))

	if res, err := c.runner.Run(ctx, c.builder.BackupFileIfExists(sitePath, backupPath)); err != nil || !res.Ok() {
		return &pipeline.ProxyError{Op: "backup", Cause: resultErr(res, err)}
	}
	if res, err := c.runner.RunInput(ctx, c.builder.WriteFile(sitePath), []byte(content)); err != nil || !res.Ok() {
		return &pipeline.ProxyError{Op: "install", Cause: resultErr(res, err)}
	}
	if res, err := c.runner.Run(ctx, c.builder.Symlink(sitePath, c.enabledPath())); err != nil || !res.Ok() {
		return &pipeline.ProxyError{Op: "install", Cause: resultErr(res, err)}
	}

	if res, err := c.runner.Run(ctx, c.builder.ProxyTest()); err != nil || !res.Ok() {
		testErr := resultErr(res, err)
		c.logger.Error("proxy configuration failed syntax check, restoring previous site",
			"site", sitePath, "error", testErr)
		c.restore(ctx, backupPath, sitePath)
		return &pipeline.ProxyError{Op: "test", Cause: testErr}
	}

	if res, err := c.runner.Run(ctx, c.builder.ProxyReload()); err != nil || !res.Ok() {
		return &pipeline.ProxyError{Op: "reload", Cause: resultErr(res, err)}
	}

	c.logger.Info("proxy site installed", "site", sitePath, "upstream_port", c.cfg.AppPort)
	return nil
}

// restore puts the prior configuration back after a failed syntax test. If
// no backup was taken (fresh install), the broken site is removed instead.
func (c *Configurator) restore(ctx context.Context, backupPath, sitePath string) {
	probe := remotecmd.Command{
		Name:    "probe-backup",
		Script:  "test -f " + remotecmd.ShQuote(backupPath),
		Timeout: 30 * time.Second,
	}
	if res, err := c.runner.Run(ctx, probe); err == nil && res.Ok() {
		if res, err := c.runner.Run(ctx, c.builder.RestoreFile(backupPath, sitePath)); err != nil || !res.Ok() {
			c.logger.Error("failed to restore proxy backup", "backup", backupPath, "error", resultErr(res, err))
		}
		return
	}
	// Fresh install: removing the broken site restores the prior (empty) state.
	if res, err := c.runner.Run(ctx, c.builder.RemoveFiles("remove-broken-site", sitePath, c.enabledPath())); err != nil || !res.Ok() {
		c.logger.Error("failed to remove broken proxy site", "site", sitePath, "error", resultErr(res, err))
	}
}

// Remove deletes the deployment's site file and enabled-link, then reloads.
// A reload failure after removal is logged as a warning, not fatal: removing
// a broken link leaves the proxy at least as healthy as before.
func (c *Configurator) Remove(ctx context.Context) error {
	res, err := c.runner.Run(ctx, c.builder.RemoveFiles("remove-proxy-site", c.SitePath(), c.enabledPath()))
	if err != nil || !res.Ok() {
		return &pipeline.ProxyError{Op: "remove", Cause: resultErr(res, err)}
	}
	if res, err := c.runner.Run(ctx, c.builder.ProxyReload()); err != nil || !res.Ok() {
		c.logger.Warn("proxy reload after site removal failed", "error", resultErr(res, err))
	}
	return nil
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
