// gitinfo.go reads Git metadata from the chef repo so runs can be tied to a revision.
package gitinfo

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Head returns the commit checked out in dir and whether the work tree is dirty.
func Head(ctx context.Context, dir string) (commit string, dirty bool, err error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", false, fmt.Errorf("git rev-parse in %s: %w", dir, err)
	}
	commit = strings.TrimSpace(string(output))
	statusCmd := exec.CommandContext(ctx, "git", "-C", dir, "status", "--porcelain")
	statusOut, err := statusCmd.Output()
	if err != nil {
		return commit, false, fmt.Errorf("git status: %w", err)
	}
	dirty = len(strings.TrimSpace(string(statusOut))) > 0
	return commit, dirty, nil
}

// Revision renders Head as "<commit>" or "<commit>-dirty"; it is empty when
// dir is not a git work tree.
func Revision(ctx context.Context, dir string) string {
	commit, dirty, err := Head(ctx, dir)
	if commit == "" {
		return ""
	}
	if err == nil && dirty {
		return commit + "-dirty"
	}
	return commit
}
