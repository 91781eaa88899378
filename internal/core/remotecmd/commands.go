// Package remotecmd builds the shell commands executed on the remote host.
// Every remote action has a typed builder returning a Command, so each script
// is unit-testable without a live connection. Nothing in this package ever
// embeds a credential.
package remotecmd

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Command
// =============================================================================

// Command is one logical remote script plus its execution timeout.
type Command struct {
	// Name identifies the action in logs and errors.
	Name string
	// Script is a POSIX sh command line.
	Script string
	// Timeout bounds the remote execution; zero means the executor default.
	Timeout time.Duration
}

// PackageManager selects the remote package tooling. Apt is primary; Dnf is
// the documented fallback attempted once before an install step fails.
type PackageManager string

const (
	Apt PackageManager = "apt"
	Dnf PackageManager = "dnf"
)

// Builder constructs remote commands for one deployment target.
type Builder struct {
	// Sudo prefixes privileged commands; disabled when connecting as root.
	Sudo bool
}

// NewBuilder returns a Builder appropriate for the given remote user.
func NewBuilder(sshUser string) Builder {
	return Builder{Sudo: sshUser != "root"}
}

func (b Builder) priv(script string) string {
	if b.Sudo {
		return "sudo -n " + script
	}
	return script
}

// ShQuote wraps s in single quotes, escaping embedded single quotes, so it is
// safe to splice into a sh command line.
func ShQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// =============================================================================
// Provisioning
// =============================================================================

// RefreshPackageIndex refreshes the package index for the given manager.
func (b Builder) RefreshPackageIndex(mgr PackageManager) Command {
	script := b.priv("apt-get update -y")
	if mgr == Dnf {
		script = b.priv("dnf makecache")
	}
	return Command{Name: "refresh-package-index", Script: script, Timeout: 5 * time.Minute}
}

// ProbeBinary checks whether a binary is present. Exit status 0 means
// present; non-zero means absent, not failure.
func (b Builder) ProbeBinary(name string) Command {
	return Command{
		Name:    "probe-" + name,
		Script:  fmt.Sprintf("command -v %s >/dev/null 2>&1", ShQuote(name)),
		Timeout: 30 * time.Second,
	}
}

// BinaryVersion reports the installed version of a binary for the report.
func (b Builder) BinaryVersion(name string) Command {
	return Command{
		Name:    name + "-version",
		Script:  ShQuote(name) + " --version",
		Timeout: 30 * time.Second,
	}
}

// InstallDockerBootstrap installs the container engine via the vendor
// bootstrap script.
func (b Builder) InstallDockerBootstrap() Command {
	return Command{
		Name:    "install-docker",
		Script:  "curl -fsSL https://get.docker.com | " + b.priv("sh"),
		Timeout: 10 * time.Minute,
	}
}

// ProbeComposePlugin checks whether compose-plugin functionality is present.
func (b Builder) ProbeComposePlugin() Command {
	return Command{
		Name:    "probe-compose",
		Script:  "docker compose version >/dev/null 2>&1",
		Timeout: 30 * time.Second,
	}
}

// InstallPackage installs a package via the given manager.
func (b Builder) InstallPackage(mgr PackageManager, pkg string) Command {
	var script string
	switch mgr {
	case Dnf:
		script = b.priv("dnf install -y " + ShQuote(pkg))
	default:
		script = b.priv("DEBIAN_FRONTEND=noninteractive apt-get install -y " + ShQuote(pkg))
	}
	return Command{Name: "install-" + pkg, Script: script, Timeout: 10 * time.Minute}
}

// EnableService enables and starts a systemd unit. Starting an already
// running service is a no-op success.
func (b Builder) EnableService(unit string) Command {
	return Command{
		Name:    "enable-" + unit,
		Script:  b.priv("systemctl enable --now " + ShQuote(unit)),
		Timeout: 2 * time.Minute,
	}
}

// ServiceActive reports whether a systemd unit is active. Exit status 0
// means active.
func (b Builder) ServiceActive(unit string) Command {
	return Command{
		Name:    "service-active-" + unit,
		Script:  "systemctl is-active --quiet " + ShQuote(unit),
		Timeout: 30 * time.Second,
	}
}

// =============================================================================
// Project Directory & Deploy
// =============================================================================

// EnsureProjectDir creates the remote project directory and hands ownership
// to the deploy user so the file sync can write to it.
func (b Builder) EnsureProjectDir(dir, owner string) Command {
	mkdir := b.priv("mkdir -p " + ShQuote(dir))
	chown := b.priv(fmt.Sprintf("chown %s %s", ShQuote(owner), ShQuote(dir)))
	return Command{
		Name:    "ensure-project-dir",
		Script:  mkdir + " && " + chown,
		Timeout: 30 * time.Second,
	}
}

// RemoveContainer force-removes a container by name. An absent container is
// success.
func (b Builder) RemoveContainer(name string) Command {
	return Command{
		Name:    "remove-container",
		Script:  fmt.Sprintf("docker rm -f %s >/dev/null 2>&1 || true", ShQuote(name)),
		Timeout: 2 * time.Minute,
	}
}

// ComposeDown tears down an existing compose stack in the project directory.
func (b Builder) ComposeDown(projectDir string) Command {
	return Command{
		Name:    "compose-down",
		Script:  fmt.Sprintf("cd %s && docker compose down --remove-orphans", ShQuote(projectDir)),
		Timeout: 5 * time.Minute,
	}
}

// ComposeUp rebuilds and starts the compose stack detached.
func (b Builder) ComposeUp(projectDir string) Command {
	return Command{
		Name:    "compose-up",
		Script:  fmt.Sprintf("cd %s && docker compose up -d --build", ShQuote(projectDir)),
		Timeout: 20 * time.Minute,
	}
}

// BuildImage builds the project image tagged {container}:latest.
func (b Builder) BuildImage(projectDir, container string) Command {
	return Command{
		Name:    "build-image",
		Script:  fmt.Sprintf("cd %s && docker build -t %s:latest .", ShQuote(projectDir), ShQuote(container)),
		Timeout: 20 * time.Minute,
	}
}

// RunContainer starts the built image detached with an automatic-restart
// policy, binding host port = container port.
func (b Builder) RunContainer(container string, port int) Command {
	return Command{
		Name: "run-container",
		Script: fmt.Sprintf("docker run -d --name %s --restart unless-stopped -p %d:%d %s:latest",
			ShQuote(container), port, port, ShQuote(container)),
		Timeout: 5 * time.Minute,
	}
}

// ComposeRunning succeeds when the compose stack has at least one running
// service container.
func (b Builder) ComposeRunning(projectDir string) Command {
	return Command{
		Name:    "compose-running",
		Script:  fmt.Sprintf("cd %s && docker compose ps --status running -q", ShQuote(projectDir)),
		Timeout: 30 * time.Second,
	}
}

// ContainerRunning prints true/false for the container's running state.
func (b Builder) ContainerRunning(container string) Command {
	return Command{
		Name:    "container-running",
		Script:  fmt.Sprintf("docker inspect -f '{{.State.Running}}' %s 2>/dev/null", ShQuote(container)),
		Timeout: 30 * time.Second,
	}
}

// ContainerPresent lists any container (running or stopped) with the exact
// name, printing its status for diagnostics.
func (b Builder) ContainerPresent(container string) Command {
	return Command{
		Name: "container-present",
		Script: fmt.Sprintf("docker ps -a --filter name=%s --format '{{.Names}} {{.Status}}'",
			ShQuote("^/?"+container+"$")),
		Timeout: 30 * time.Second,
	}
}

// =============================================================================
// Reverse Proxy
// =============================================================================

// BackupFileIfExists copies a file to a backup path when it exists; absent
// file is success.
func (b Builder) BackupFileIfExists(path, backupPath string) Command {
	return Command{
		Name: "backup-proxy-site",
		Script: fmt.Sprintf("if [ -f %s ]; then %s; fi",
			ShQuote(path), b.priv(fmt.Sprintf("cp %s %s", ShQuote(path), ShQuote(backupPath)))),
		Timeout: 30 * time.Second,
	}
}

// WriteFile writes stdin to a privileged path. The executor streams the
// content on the session's stdin.
func (b Builder) WriteFile(path string) Command {
	return Command{
		Name:    "write-proxy-site",
		Script:  b.priv("tee " + ShQuote(path) + " >/dev/null"),
		Timeout: 30 * time.Second,
	}
}

// Symlink force-creates a symlink (used to enable the proxy site).
func (b Builder) Symlink(target, link string) Command {
	return Command{
		Name:    "enable-proxy-site",
		Script:  b.priv(fmt.Sprintf("ln -sf %s %s", ShQuote(target), ShQuote(link))),
		Timeout: 30 * time.Second,
	}
}

// ProxyTest validates the proxy configuration syntax without reloading.
func (b Builder) ProxyTest() Command {
	return Command{Name: "proxy-test", Script: b.priv("nginx -t"), Timeout: time.Minute}
}

// ProxyReload reloads the proxy service.
func (b Builder) ProxyReload() Command {
	return Command{Name: "proxy-reload", Script: b.priv("systemctl reload nginx"), Timeout: time.Minute}
}

// RestoreFile copies a backup back over the live path.
func (b Builder) RestoreFile(backupPath, path string) Command {
	return Command{
		Name:    "restore-proxy-site",
		Script:  b.priv(fmt.Sprintf("cp %s %s", ShQuote(backupPath), ShQuote(path))),
		Timeout: 30 * time.Second,
	}
}

// RemoveFiles removes the given paths, tolerating absence.
func (b Builder) RemoveFiles(name string, paths ...string) Command {
	quoted := make([]string, 0, len(paths))
	for _, p := range paths {
		quoted = append(quoted, ShQuote(p))
	}
	return Command{
		Name:    name,
		Script:  b.priv("rm -f " + strings.Join(quoted, " ")),
		Timeout: 30 * time.Second,
	}
}

// RemoveDir recursively removes a directory.
func (b Builder) RemoveDir(dir string) Command {
	return Command{
		Name:    "remove-dir",
		Script:  b.priv("rm -rf " + ShQuote(dir)),
		Timeout: 2 * time.Minute,
	}
}

// =============================================================================
// Health Probes
// =============================================================================

// LoopbackProbe requests the bound port on the remote loopback, printing the
// HTTP status code.
func (b Builder) LoopbackProbe(port int, timeout time.Duration) Command {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return Command{
		Name: "loopback-probe",
		Script: fmt.Sprintf("curl -s -o /dev/null -w '%%{http_code}' --max-time %d http://127.0.0.1:%d/",
			secs, port),
		Timeout: timeout + 10*time.Second,
	}
}
