// Package internalexec runs external commands for backends, optionally
// streaming their output while capturing it for error reports.
package internalexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Result captures stdout/stderr emitted by a command run.
type Result struct {
	Stdout string
	Stderr string
}

// Runner executes commands. Stdout and Stderr, when set, receive a live copy
// of the command output. Env, when set, replaces the inherited environment.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Env    []string
}

// CommandError reports a command that could not start or exited non-zero.
type CommandError struct {
	Argv     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(e.Argv, " "), e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// Unwrap exposes the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Run executes argv and returns its trimmed output.
func (r *Runner) Run(ctx context.Context, argv ...string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if r != nil {
		cmd.Stdout = r.Stdout
		cmd.Stderr = r.Stderr
		if len(r.Env) > 0 {
			cmd.Env = r.Env
		}
	}

	res, err := RunStreaming(cmd)
	if err != nil {
		cmdErr := &CommandError{Argv: argv, ExitCode: -1, Output: PrimaryOutput(res), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		return res, cmdErr
	}
	return res, nil
}

// RunStreaming tees the command's stdout/stderr into any writers already set
// on cmd while collecting the output for later inspection.
func RunStreaming(cmd *exec.Cmd) (Result, error) {
	var stdoutBuf, stderrBuf bytes.Buffer

	if cmd.Stdout != nil {
		cmd.Stdout = io.MultiWriter(cmd.Stdout, &stdoutBuf)
	} else {
		cmd.Stdout = &stdoutBuf
	}
	if cmd.Stderr != nil {
		cmd.Stderr = io.MultiWriter(cmd.Stderr, &stderrBuf)
	} else {
		cmd.Stderr = &stderrBuf
	}

	err := cmd.Run()

	return Result{
		Stdout: strings.TrimSpace(stdoutBuf.String()),
		Stderr: strings.TrimSpace(stderrBuf.String()),
	}, err
}

// PrimaryOutput returns stderr if present, otherwise stdout.
func PrimaryOutput(res Result) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Stdout
}
