package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockhand/dockhand/internal/core/config"
	"github.com/dockhand/dockhand/internal/core/pipeline"
	"github.com/dockhand/dockhand/internal/shell/runlog"
)

func TestGatherInput_ResolvedValuesSkipPrompts(t *testing.T) {
	v := viper.New()
	v.Set("repo_url", "https://github.com/acme/app.git")
	v.Set("auth_token", "ghp_secret123")
	v.Set("branch", "release")
	v.Set("ssh_user", "deploy")
	v.Set("ssh_host", "203.0.113.7")
	v.Set("ssh_port", 2222)
	v.Set("ssh_key_path", "/home/op/.ssh/id_ed25519")
	v.Set("app_port", 3000)

	// Empty input stream: any prompt attempt would yield empty values.
	p, out := testPrompter("")
	in, err := gatherInput(v, p)
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/acme/app.git", in.RepoURL)
	assert.Equal(t, "ghp_secret123", in.AuthToken)
	assert.Equal(t, "release", in.Branch)
	assert.Equal(t, "deploy", in.SSHUser)
	assert.Equal(t, "203.0.113.7", in.SSHHost)
	assert.Equal(t, 2222, in.SSHPort)
	assert.Equal(t, "/home/op/.ssh/id_ed25519", in.SSHKeyPath)
	assert.Equal(t, 3000, in.AppPort)
	assert.Empty(t, out.String())
}

func TestGatherInput_PromptsForUnsetValues(t *testing.T) {
	v := viper.New()
	v.Set("ssh_key_path", "/home/op/.ssh/id_ed25519")

	p, out := testPrompter(
		"https://github.com/acme/app.git\n" + // repo URL
			"ghp_secret123\n" + // token
			"\n" + // branch -> default
			"deploy\n" + // ssh user
			"203.0.113.7\n" + // ssh host
			"\n" + // ssh port -> default
			"3000\n", // app port
	)
	in, err := gatherInput(v, p)
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/acme/app.git", in.RepoURL)
	assert.Equal(t, "ghp_secret123", in.AuthToken)
	assert.Equal(t, config.DefaultBranch, in.Branch)
	assert.Equal(t, config.DefaultSSHPort, in.SSHPort)
	assert.Equal(t, 3000, in.AppPort)

	// Prompt output never echoes the token.
	assert.NotContains(t, out.String(), "ghp_secret123")
}

func TestNewViper_ReadsPrefixedEnvironment(t *testing.T) {
	t.Setenv("DOCKHAND_REPO_URL", "https://github.com/acme/app.git")
	t.Setenv("DOCKHAND_APP_PORT", "3000")

	v := newViper("")
	assert.Equal(t, "https://github.com/acme/app.git", v.GetString("repo_url"))
	assert.Equal(t, 3000, v.GetInt("app_port"))
}

func TestNewViper_LoadsEnvFile(t *testing.T) {
	// godotenv never overrides variables already present in the environment.
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile,
		[]byte("DOCKHAND_BRANCH=release\nDOCKHAND_SSH_USER=deploy\n"), 0o600))

	v := newViper(envFile)
	assert.Equal(t, "release", v.GetString("branch"))
	assert.Equal(t, "deploy", v.GetString("ssh_user"))
}

func TestNewViper_MissingEnvFileIsNotFatal(t *testing.T) {
	v := newViper(filepath.Join(t.TempDir(), "does-not-exist.env"))
	assert.NotNil(t, v)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".ssh", "id_rsa"), expandHome("~/.ssh/id_rsa"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "/etc/keys/deploy", expandHome("/etc/keys/deploy"))
	assert.Equal(t, "relative/key", expandHome("relative/key"))
}

func TestRunCleanup_MismatchPerformsNothing(t *testing.T) {
	logger, err := runlog.New(t.TempDir(), slog.LevelError)
	require.NoError(t, err)
	defer logger.Close()

	cfg := &config.DeploymentConfig{RepoName: "app", SSHHost: "203.0.113.7", SSHUser: "deploy"}
	p, _ := testPrompter("not-the-app\n")

	// Declined before any connection attempt: an unreachable host is fine.
	err = runCleanup(context.Background(), cfg, p, logger)
	assert.ErrorIs(t, err, pipeline.ErrCleanupDeclined)
	assert.Equal(t, pipeline.ExitCleanupDeclined, pipeline.ExitCodeFor(err))
}

func TestRootCommand_Flags(t *testing.T) {
	root := newRootCommand("1.2.3")

	assert.Equal(t, "1.2.3", root.Version)
	for _, flag := range []string{"cleanup", "env-file", "log-dir", "log-level"} {
		assert.NotNil(t, root.Flags().Lookup(flag), flag)
	}
	assert.Equal(t, "false", root.Flags().Lookup("cleanup").DefValue)
	assert.Equal(t, "logs", root.Flags().Lookup("log-dir").DefValue)
}

func TestRootCommand_RejectsUnknownFlag(t *testing.T) {
	root := newRootCommand("test")
	root.SetArgs([]string{"--definitely-not-a-flag"})
	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, pipeline.ExitConfigError, pipeline.ExitCodeFor(err))
}
