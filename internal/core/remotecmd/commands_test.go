package remotecmd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShQuote(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "app_svc", "'app_svc'"},
		{"spaces", "my app", "'my app'"},
		{"single quote", "it's", `'it'\''s'`},
		{"empty", "", "''"},
		{"injection attempt", "a; rm -rf /", "'a; rm -rf /'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShQuote(tt.in))
		})
	}
}

func TestNewBuilder_SudoOnlyForNonRoot(t *testing.T) {
	assert.False(t, NewBuilder("root").Sudo)
	assert.True(t, NewBuilder("deploy").Sudo)
}

func TestBuilder_SudoPrefix(t *testing.T) {
	withSudo := Builder{Sudo: true}.EnableService("docker")
	assert.True(t, strings.HasPrefix(withSudo.Script, "sudo -n systemctl"))

	asRoot := Builder{Sudo: false}.EnableService("docker")
	assert.True(t, strings.HasPrefix(asRoot.Script, "systemctl"))
}

func TestRefreshPackageIndex_PerManager(t *testing.T) {
	b := Builder{Sudo: true}
	assert.Contains(t, b.RefreshPackageIndex(Apt).Script, "apt-get update")
	assert.Contains(t, b.RefreshPackageIndex(Dnf).Script, "dnf makecache")
}

func TestInstallPackage_PerManager(t *testing.T) {
	b := Builder{Sudo: false}
	apt := b.InstallPackage(Apt, "nginx")
	assert.Contains(t, apt.Script, "apt-get install -y 'nginx'")
	assert.Contains(t, apt.Script, "DEBIAN_FRONTEND=noninteractive")

	dnf := b.InstallPackage(Dnf, "nginx")
	assert.Contains(t, dnf.Script, "dnf install -y 'nginx'")
}

func TestInstallDockerBootstrap_UsesVendorScript(t *testing.T) {
	cmd := Builder{Sudo: true}.InstallDockerBootstrap()
	assert.Contains(t, cmd.Script, "get.docker.com")
	assert.Contains(t, cmd.Script, "| sudo -n sh")
	assert.Equal(t, 10*time.Minute, cmd.Timeout)
}

func TestRemoveContainer_IsIdempotent(t *testing.T) {
	cmd := Builder{}.RemoveContainer("app_svc")
	assert.Contains(t, cmd.Script, "docker rm -f 'app_svc'")
	assert.Contains(t, cmd.Script, "|| true")
}

func TestRunContainer_BindsPortAndRestartPolicy(t *testing.T) {
	cmd := Builder{}.RunContainer("app_svc", 3000)
	assert.Contains(t, cmd.Script, "-p 3000:3000")
	assert.Contains(t, cmd.Script, "--restart unless-stopped")
	assert.Contains(t, cmd.Script, "'app_svc':latest")
}

func TestComposeCommands_RunInProjectDir(t *testing.T) {
	b := Builder{}
	down := b.ComposeDown("/srv/apps/app")
	assert.Contains(t, down.Script, "cd '/srv/apps/app' && docker compose down --remove-orphans")

	up := b.ComposeUp("/srv/apps/app")
	assert.Contains(t, up.Script, "docker compose up -d --build")

	running := b.ComposeRunning("/srv/apps/app")
	assert.Contains(t, running.Script, "docker compose ps --status running -q")
}

func TestBackupFileIfExists_NoopWhenAbsent(t *testing.T) {
	cmd := Builder{Sudo: true}.BackupFileIfExists("/etc/nginx/sites-available/app.conf", "/etc/nginx/sites-available/app.conf.bak.20250102T030405")
	assert.Contains(t, cmd.Script, "if [ -f '/etc/nginx/sites-available/app.conf' ]; then")
	assert.Contains(t, cmd.Script, "cp '/etc/nginx/sites-available/app.conf'")
}

func TestLoopbackProbe(t *testing.T) {
	cmd := Builder{}.LoopbackProbe(3000, 5*time.Second)
	assert.Contains(t, cmd.Script, "http://127.0.0.1:3000/")
	assert.Contains(t, cmd.Script, "--max-time 5")
	assert.Contains(t, cmd.Script, "%{http_code}")
}

func TestNoBuilderEmbedsCredentials(t *testing.T) {
	// Spot check that builders only ever interpolate names, paths, and ports.
	b := NewBuilder("deploy")
	for _, cmd := range []Command{
		b.RefreshPackageIndex(Apt),
		b.InstallDockerBootstrap(),
		b.ComposeUp("/srv/apps/app"),
		b.BuildImage("/srv/apps/app", "app_svc"),
		b.RunContainer("app_svc", 3000),
		b.ProxyTest(),
		b.ProxyReload(),
		b.LoopbackProbe(3000, 5*time.Second),
	} {
		assert.NotContains(t, cmd.Script, "token")
		assert.NotEmpty(t, cmd.Name)
		assert.NotZero(t, cmd.Timeout)
	}
}
