package remote

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dockhand/dockhand/internal/core/pipeline"
)

// SyncOptions tunes a mirror transfer.
type SyncOptions struct {
	// Exclude lists paths skipped on both send and delete. The
	// source-control metadata directory is always excluded.
	Exclude []string
	// Delete propagates source deletions to the destination, making the
	// destination exactly mirror the source.
	Delete bool
}

// SyncResult reports a completed transfer.
type SyncResult struct {
	// Stats is the transfer summary emitted by the sync tool.
	Stats string
}

// alwaysExcluded is never transferred and never deleted on the destination.
const alwaysExcluded = ".git"

// Sync performs a delta transfer of localDir to remoteDir on the target
// host: only differing content is sent. With Delete set, the destination is
// made to exactly mirror the source tree, excepting exclusions.
//
// rsync runs as a subprocess over ssh with BatchMode, so a password prompt
// fails immediately instead of hanging.
func (e *Executor) Sync(ctx context.Context, localDir, remoteDir string, opts SyncOptions) (*SyncResult, error) {
	args := e.rsyncArgs(localDir, remoteDir, opts)

	e.logger.Info("syncing project",
		"local_dir", localDir,
		"remote_dir", remoteDir,
		"delete", opts.Delete,
	)
	e.logger.Debug("rsync invocation", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "rsync", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &pipeline.SyncError{
			LocalDir:  localDir,
			RemoteDir: remoteDir,
			Cause:     fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	return &SyncResult{Stats: strings.TrimSpace(stdout.String())}, nil
}

// rsyncArgs builds the rsync argument list; split out for testability.
func (e *Executor) rsyncArgs(localDir, remoteDir string, opts SyncOptions) []string {
	sshCmd := fmt.Sprintf(
		"ssh -i %s -p %d -o BatchMode=yes -o StrictHostKeyChecking=accept-new",
		e.cfg.SSHKeyPath, e.cfg.SSHPort,
	)

	args := []string{"-az", "--stats", "-e", sshCmd, "--exclude", alwaysExcluded}
	for _, ex := range opts.Exclude {
		if ex == alwaysExcluded {
			continue
		}
		args = append(args, "--exclude", ex)
	}
	if opts.Delete {
		args = append(args, "--delete")
	}

	// Trailing slash on the source: transfer the directory contents, not
	// the directory itself.
	src := strings.TrimRight(localDir, "/") + "/"
	dst := fmt.Sprintf("%s@%s:%s/", e.cfg.SSHUser, e.cfg.SSHHost, strings.TrimRight(remoteDir, "/"))
	return append(args, src, dst)
}
