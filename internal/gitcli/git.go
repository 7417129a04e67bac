package gitcli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// RepoRoot resolves the top-level directory of the repository containing dir.
func RepoRoot(ctx context.Context, r Runner, dir string) (string, error) {
	out, err := r.Output(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not inside a git repository: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the checked-out branch, or an error on detached HEAD.
func CurrentBranch(ctx context.Context, r Runner, dir string) (string, error) {
	out, err := r.Output(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve current branch: %w", err)
	}
	branch := strings.TrimSpace(string(out))
	if branch == "HEAD" {
		return "", fmt.Errorf("detached HEAD")
	}
	return branch, nil
}

// DefaultBranch picks the repository's default branch, preferring the origin
// HEAD symbolic ref, then main, then master.
func DefaultBranch(ctx context.Context, r Runner, dir string) string {
	out, err := r.Output(ctx, dir, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		ref := strings.TrimSpace(string(out))
		if i := strings.LastIndex(ref, "/"); i >= 0 {
			return ref[i+1:]
		}
	}
	if _, _, err := r.Run(ctx, dir, "rev-parse", "--verify", "main"); err == nil {
		return "main"
	}
	return "master"
}

// HasRemote reports whether origin is configured.
func HasRemote(ctx context.Context, r Runner, dir string) bool {
	_, _, err := r.Run(ctx, dir, "remote", "get-url", "origin")
	return err == nil
}

// ChangedFiles lists paths with uncommitted changes, porcelain order.
func ChangedFiles(ctx context.Context, r Runner, dir string) ([]string, error) {
	out, err := r.Output(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	trimmed := strings.TrimRight(string(out), "\n\r\t ")
	if trimmed == "" {
		return nil, nil
	}
	var files []string
	for _, line := range strings.Split(trimmed, "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}

// IsDirty reports whether the working tree has uncommitted changes.
func IsDirty(ctx context.Context, r Runner, dir string) (bool, error) {
	files, err := ChangedFiles(ctx, r, dir)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// ConflictedFiles lists unmerged paths.
func ConflictedFiles(ctx context.Context, r Runner, dir string) ([]string, error) {
	out, err := r.Output(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("list conflicted files: %w", err)
	}
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// Divergence counts how far local sits behind and ahead of upstream using
// rev-list --left-right, which prints "behind<tab>ahead".
func Divergence(ctx context.Context, r Runner, dir, upstream, local string) (behind, ahead int, err error) {
	out, err := r.Output(ctx, dir, "rev-list", "--count", "--left-right",
		fmt.Sprintf("%s...%s", upstream, local))
	if err != nil {
		return 0, 0, fmt.Errorf("rev-list: %w", err)
	}
	parts := strings.Split(strings.TrimSpace(string(out)), "\t")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", string(out))
	}
	if behind, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("parse behind count: %w", err)
	}
	if ahead, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("parse ahead count: %w", err)
	}
	return behind, ahead, nil
}

// MergeInProgress reports whether MERGE_HEAD exists.
func MergeInProgress(ctx context.Context, r Runner, dir string) bool {
	_, _, err := r.Run(ctx, dir, "rev-parse", "--verify", "MERGE_HEAD")
	return err == nil
}
