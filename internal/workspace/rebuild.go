package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultBuildCommand produces build-info artifacts with Foundry.
var DefaultBuildCommand = []string{"forge", "build", "--build-info"}

// maxOutputLines bounds the build output quoted in errors.
const maxOutputLines = 20

// CommandRebuilder rebuilds the project by running an external command in
// the workspace root.
type CommandRebuilder struct {
	Dir     string
	Command []string
	Logger  *slog.Logger
}

// NewCommandRebuilder returns a rebuilder for dir. An empty command uses
// DefaultBuildCommand.
func NewCommandRebuilder(dir string, command []string, logger *slog.Logger) *CommandRebuilder {
	if len(command) == 0 {
		command = DefaultBuildCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRebuilder{Dir: dir, Command: command, Logger: logger}
}

// Rebuild runs the build command and waits for it. A failure carries the
// tail of the command output.
func (r *CommandRebuilder) Rebuild(ctx context.Context) error {
	if len(r.Command) == 0 {
		return errors.New("empty build command")
	}
	start := time.Now()
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Dir = r.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	r.Logger.Info("build finished",
		slog.String("command", strings.Join(r.Command, " ")),
		slog.Duration("took", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		return fmt.Errorf("%s: %w\n%s", strings.Join(r.Command, " "), err, tail(out.String(), maxOutputLines))
	}
	return nil
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
