// Package cli wires the deployment pipeline to its command-line surface:
// flag and environment resolution, interactive prompting for unset values,
// signal handling, and the mapping from failure class to exit code.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dockhand/dockhand/internal/core/config"
	"github.com/dockhand/dockhand/internal/core/pipeline"
	"github.com/dockhand/dockhand/internal/shell/cleanup"
	"github.com/dockhand/dockhand/internal/shell/deploy"
	"github.com/dockhand/dockhand/internal/shell/gitsrc"
	"github.com/dockhand/dockhand/internal/shell/remote"
	"github.com/dockhand/dockhand/internal/shell/runlog"
)

// envPrefix namespaces the environment variables this tool reads, e.g.
// DOCKHAND_REPO_URL, DOCKHAND_SSH_HOST.
const envPrefix = "DOCKHAND"

// configKeys are the values resolvable from environment or .env file; any
// still unset after resolution is prompted for.
var configKeys = []string{
	"repo_url", "auth_token", "branch",
	"ssh_user", "ssh_host", "ssh_port", "ssh_key_path",
	"app_port", "remote_base", "log_level",
}

type options struct {
	cleanup  bool
	envFile  string
	logDir   string
	logLevel string
}

// Execute runs the root command and returns the process exit code.
func Execute(version string) int {
	root := newRootCommand(version)
	if err := root.Execute(); err != nil {
		return pipeline.ExitCodeFor(err)
	}
	return pipeline.ExitSuccess
}

func newRootCommand(version string) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "dockhand",
		Short: "Deploy a Dockerized application from a Git repository to a single remote host",
		Long: "dockhand clones a Git repository, provisions a remote host over SSH with a\n" +
			"container engine and reverse proxy, syncs the project tree, builds and runs\n" +
			"the application, and validates the result. With --cleanup it removes\n" +
			"everything a previous deployment created.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.cleanup, "cleanup", false, "remove a previous deployment instead of deploying")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "key-value file loaded before prompting")
	cmd.Flags().StringVar(&opts.logDir, "log-dir", "logs", "directory for per-run log files")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "stderr log level (debug, info, warn, error)")

	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := newViper(opts.envFile)

	level := opts.logLevel
	if level == "" {
		level = v.GetString("log_level")
	}
	logger, err := runlog.New(opts.logDir, runlog.ParseLevel(level))
	if err != nil {
		return err
	}
	defer logger.Close()

	prompter := NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	in, err := gatherInput(v, prompter)
	if err != nil {
		return fatal(cmd, logger, err)
	}

	cfg, warnings, err := config.Resolve(in)
	if err != nil {
		return fatal(cmd, logger, err)
	}
	for _, w := range warnings {
		logger.Warn(w)
	}

	if opts.cleanup {
		return fatal(cmd, logger, runCleanup(ctx, cfg, prompter, logger))
	}
	return fatal(cmd, logger, runDeploy(ctx, cmd, cfg, logger))
}

// newViper resolves configuration from the optional .env file and the
// process environment. A missing .env file is not an error.
func newViper(envFile string) *viper.Viper {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// gatherInput fills RawInput from resolved configuration, prompting for
// anything still unset. The token prompt never echoes.
func gatherInput(v *viper.Viper, p *Prompter) (config.RawInput, error) {
	in := config.RawInput{
		RepoURL:    v.GetString("repo_url"),
		AuthToken:  v.GetString("auth_token"),
		Branch:     v.GetString("branch"),
		SSHUser:    v.GetString("ssh_user"),
		SSHHost:    v.GetString("ssh_host"),
		SSHPort:    v.GetInt("ssh_port"),
		SSHKeyPath: v.GetString("ssh_key_path"),
		AppPort:    v.GetInt("app_port"),
		RemoteBase: v.GetString("remote_base"),
	}

	var err error
	if in.RepoURL == "" {
		if in.RepoURL, err = p.Ask("Git repository URL", ""); err != nil {
			return in, err
		}
	}
	if in.AuthToken == "" {
		if in.AuthToken, err = p.AskSecret("Access token"); err != nil {
			return in, err
		}
	}
	if in.Branch == "" {
		if in.Branch, err = p.Ask("Branch", config.DefaultBranch); err != nil {
			return in, err
		}
	}
	if in.SSHUser == "" {
		if in.SSHUser, err = p.Ask("SSH user", ""); err != nil {
			return in, err
		}
	}
	if in.SSHHost == "" {
		if in.SSHHost, err = p.Ask("SSH host", ""); err != nil {
			return in, err
		}
	}
	if in.SSHPort == 0 {
		if in.SSHPort, err = p.AskInt("SSH port", config.DefaultSSHPort); err != nil {
			return in, err
		}
	}
	if in.SSHKeyPath == "" {
		if in.SSHKeyPath, err = p.Ask("SSH private key path", defaultKeyPath()); err != nil {
			return in, err
		}
	}
	in.SSHKeyPath = expandHome(in.SSHKeyPath)
	if in.AppPort == 0 {
		if in.AppPort, err = p.AskInt("Application port", 0); err != nil {
			return in, err
		}
	}
	return in, nil
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "id_rsa")
}

// expandHome resolves a leading ~/ against the user's home directory.
func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/"))
	}
	return p
}

func runDeploy(ctx context.Context, cmd *cobra.Command, cfg *config.DeploymentConfig, logger *runlog.Logger) error {
	executor := remote.NewExecutor(cfg, remote.DefaultExecutorConfig(), logger.Logger)
	source := gitsrc.NewClient(cfg, logger.Logger)
	orchestrator := deploy.New(cfg, executor, source, logger.Logger)

	out, err := orchestrator.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nDeployment complete.\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  Application: %s\n", out.AccessURL)
	if out.Health != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", out.Health.String())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  Log file: %s\n", logger.FilePath)
	return nil
}

// runCleanup removes everything a previous deployment created, gated on the
// operator typing the derived repo name exactly. A mismatch performs nothing.
func runCleanup(ctx context.Context, cfg *config.DeploymentConfig, prompter *Prompter, logger *runlog.Logger) error {
	ok, err := prompter.ConfirmExact(
		fmt.Sprintf("This removes the container, remote files, proxy site, and local clone for %q.\nType the repository name to confirm", cfg.RepoName),
		cfg.RepoName,
	)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("cleanup declined, nothing removed")
		return pipeline.ErrCleanupDeclined
	}

	executor := remote.NewExecutor(cfg, remote.DefaultExecutorConfig(), logger.Logger)
	if err := executor.Connect(ctx); err != nil {
		return err
	}
	defer executor.Close()

	report := cleanup.NewController(cfg, executor, logger.Logger).Cleanup(ctx)
	if err := report.Err(); err != nil {
		return err
	}
	runlog.Success(logger.Logger, "cleanup complete", "repo", cfg.RepoName)
	return nil
}

// fatal logs the failure with the log file location and passes the error
// through unchanged so the exit code mapping still sees its type.
func fatal(cmd *cobra.Command, logger *runlog.Logger, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pipeline.ErrInterrupted) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Interrupted. Partial remote state was left in place; see %s\n", logger.FilePath)
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\nLog file: %s\n", err, logger.FilePath)
	return err
}
