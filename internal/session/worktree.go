package session

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PrepareWorktree creates a git worktree for a coding-milestone session:
// a new branch checked out under dir, isolated from repoPath so the
// source checkout stays clean. repoPath is the absolute path of the
// repo_id -> absolute_path mapping; dir is
// work/projects/<pid>/runs/<rid>/worktree.
func PrepareWorktree(repoPath, dir, branch string) error {
	if strings.TrimSpace(repoPath) == "" {
		return fmt.Errorf("session: worktree requires a non-empty repo path")
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("session: create worktree parent: %w", err)
	}

	exists, err := branchExists(repoPath, branch)
	if err != nil {
		return err
	}

	args := []string{"worktree", "add"}
	if exists {
		args = append(args, dir, branch)
	} else {
		args = append(args, "-b", branch, dir)
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("session: git worktree add %s: %w (%s)", dir, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RemoveWorktree detaches dir from repoPath's worktree list. Worktrees
// are otherwise left on disk for post-mortem inspection; GC is out of
// scope here.
func RemoveWorktree(repoPath, dir string) error {
	cmd := exec.Command("git", "worktree", "remove", "--force", dir)
	cmd.Dir = repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("session: git worktree remove %s: %w (%s)", dir, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func branchExists(repoPath, branch string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = repoPath
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("session: check branch %s: %w", branch, err)
	}
	return true, nil
}

