package workspace

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path"
	"strings"
)

// GitChanges represents the result of git diff analysis
type GitChanges struct {
	ChangedFiles []string // 变更的 .sol 文件
	ChangedDirs  []string // 变更文件所在目录
}

// GetGitChanges returns the project .sol files changed relative to base.
// If base is empty, it compares with HEAD (uncommitted changes)
// If base is "HEAD~1", it compares with the previous commit
func GetGitChanges(ctx context.Context, projectPath string, base string) (*GitChanges, error) {
	if base == "" {
		base = "HEAD"
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "--name-only", base)
	cmd.Dir = projectPath

	output, err := cmd.Output()
	if err != nil {
		// If git diff HEAD fails (e.g., no commits yet), fall back to untracked and modified files
		cmd = exec.CommandContext(ctx, "git", "ls-files", "--modified", "--others", "--exclude-standard")
		cmd.Dir = projectPath
		output, err = cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("git: %w", err)
		}
	}

	return parseChanges(output)
}

func parseChanges(output []byte) (*GitChanges, error) {
	changes := &GitChanges{
		ChangedFiles: make([]string, 0),
		ChangedDirs:  make([]string, 0),
	}
	seen := make(map[string]bool)
	dirs := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		file := strings.TrimSpace(scanner.Text())
		if file == "" || seen[file] {
			continue
		}
		// Only project Solidity sources; forge tests and scripts are not deployed
		if !strings.HasSuffix(file, ".sol") || strings.HasSuffix(file, ".t.sol") || strings.HasSuffix(file, ".s.sol") {
			continue
		}
		if IsDependencyPath(file) {
			continue
		}
		seen[file] = true
		changes.ChangedFiles = append(changes.ChangedFiles, file)

		if dir := path.Dir(file); !dirs[dir] {
			dirs[dir] = true
			changes.ChangedDirs = append(changes.ChangedDirs, dir)
		}
	}

	return changes, scanner.Err()
}

// HasChanges returns true if there are any Solidity file changes
func (g *GitChanges) HasChanges() bool {
	return len(g.ChangedFiles) > 0
}

// String returns a summary string of the changes
func (g *GitChanges) String() string {
	return fmt.Sprintf("%d files changed in %d directories", len(g.ChangedFiles), len(g.ChangedDirs))
}

// GetRemoteTrackingBranch 获取当前分支对应的远程跟踪分支
// 返回格式如 "origin/main" 或 "origin/feature-branch"
func GetRemoteTrackingBranch(ctx context.Context, projectPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	cmd.Dir = projectPath

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("无法获取远程跟踪分支: %w", err)
	}

	branch := strings.TrimSpace(string(output))
	if branch == "" {
		return "", fmt.Errorf("当前分支没有设置远程跟踪分支")
	}

	return branch, nil
}
