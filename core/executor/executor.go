// Package executor drives the external routing daemon's control utility:
// validating, loading, and rolling back the rendered configuration file.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	cerrors "github.com/birdrest/birdrest/core/errors"
)

// Executor is the contract the dispatcher drives. A nil Executor in the
// server skips external stages entirely.
type Executor interface {
	Validate(ctx context.Context) error
	Load(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Success markers on the control utility's stdout.
var (
	validateMarkers = []string{"Configuration OK"}
	loadMarkers     = []string{"Reconfiguration in progress", "Reconfigured"}
)

// BirdExecutor runs a base command (path plus fixed arguments addressing the
// daemon, e.g. "birdc -s /run/bird.ctl" or a container-exec wrapper) with the
// configure subcommands appended. The target URI argument carries literal
// surrounding double quotes; the daemon side strips them.
type BirdExecutor struct {
	baseCommand string
	uri         string
	logger      *slog.Logger
}

func NewBirdExecutor(baseCommand, uri string, logger *slog.Logger) *BirdExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BirdExecutor{baseCommand: baseCommand, uri: uri, logger: logger}
}

func (e *BirdExecutor) Validate(ctx context.Context) error {
	command := fmt.Sprintf("%s configure check %q", e.baseCommand, e.uri)
	return e.run(ctx, command, validateMarkers)
}

func (e *BirdExecutor) Load(ctx context.Context) error {
	command := fmt.Sprintf("%s configure %q", e.baseCommand, e.uri)
	return e.run(ctx, command, loadMarkers)
}

func (e *BirdExecutor) Rollback(ctx context.Context) error {
	command := e.baseCommand + " configure undo"
	return e.run(ctx, command, loadMarkers)
}

// run tokenises the command by whitespace, waits for the process to exit,
// then scans stdout for a success marker. A non-zero exit status is a
// failure regardless of stdout content.
func (e *BirdExecutor) run(ctx context.Context, command string, markers []string) error {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return cerrors.New(cerrors.KindExternal, "empty executor command")
	}
	e.logger.Debug("executing external command", "command", command)

	process := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- command comes from operator flags.
	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer
	process.Stdout = &stdoutBuf
	process.Stderr = &stderrBuf

	if err := process.Run(); err != nil {
		exitErr := &exec.ExitError{}
		if errors.As(err, &exitErr) {
			e.logStderr(&stderrBuf)
			return cerrors.Wrap(fmt.Errorf("command %q exited with status %d", command, exitErr.ExitCode()), cerrors.KindExternal)
		}
		return cerrors.Wrap(fmt.Errorf("spawn %q: %w", command, err), cerrors.KindExternal)
	}

	scanner := bufio.NewScanner(&stdoutBuf)
	for scanner.Scan() {
		line := scanner.Text()
		e.logger.Debug("external command output", "line", line)
		for _, marker := range markers {
			if strings.Contains(line, marker) {
				return nil
			}
		}
	}

	e.logStderr(&stderrBuf)
	return cerrors.Wrap(fmt.Errorf("command %q produced no success marker", command), cerrors.KindExternal)
}

func (e *BirdExecutor) logStderr(stderrBuf *bytes.Buffer) {
	scanner := bufio.NewScanner(stderrBuf)
	for scanner.Scan() {
		e.logger.Error("external command stderr", "line", scanner.Text())
	}
}
