// Package process spawns shell command lines.
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	eventbus "github.com/mlld-lang/mlld-sub001/internal/eventbus"
	events "github.com/mlld-lang/mlld-sub001/internal/events"
)

// PipelineEnv is the environment variable carrying the pipeline id into
// spawned processes.
const PipelineEnv = "MLLD_PIPELINE_ID"

// Options configures one execution.
type Options struct {
	Stdin      *string
	PipelineID string
	Env        map[string]string
	// Shell overrides the interpreter path for this execution.
	Shell string
	// OnLine, when set, receives each stdout line as soon as it is read.
	OnLine func(line string)
}

// ExitError reports a process that exited non-zero.
type ExitError struct {
	CommandLine string
	Code        int
	Stderr      string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command failed with exit code %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Shell runs command lines with `<Path> -c`.
type Shell struct {
	Path    string
	Dir     string
	Timeout time.Duration
}

// NewShell returns a Shell using /bin/sh.
func NewShell() *Shell { return &Shell{Path: "/bin/sh"} }

// Execute runs commandLine and returns its stdout.
func (s *Shell) Execute(ctx context.Context, commandLine string, opts Options) (string, error) {
	if strings.TrimSpace(commandLine) == "" {
		return "", fmt.Errorf("process: empty command line")
	}
	if s.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.Timeout)
			defer cancel()
		}
	}
	shell := s.Path
	if opts.Shell != "" {
		shell = opts.Shell
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", commandLine)
	cmd.Dir = s.Dir
	cmd.Env = os.Environ()
	if opts.PipelineID != "" {
		cmd.Env = append(cmd.Env, PipelineEnv+"="+opts.PipelineID)
	}
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if opts.Stdin != nil {
		cmd.Stdin = strings.NewReader(*opts.Stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}

	start := time.Now()
	eventbus.Publish(ctx, events.ProcessStart{CommandLine: commandLine, PipelineID: opts.PipelineID})
	if err := cmd.Start(); err != nil {
		eventbus.Publish(ctx, events.ProcessFinish{CommandLine: commandLine, PipelineID: opts.PipelineID, ExitCode: -1, Err: err, Duration: time.Since(start)})
		return "", err
	}

	out, readErr := readStdout(stdout, opts.OnLine)
	waitErr := cmd.Wait()

	code := 0
	var runErr error
	var exitErr *exec.ExitError
	switch {
	case errors.As(waitErr, &exitErr):
		code = exitErr.ExitCode()
		runErr = &ExitError{CommandLine: commandLine, Code: code, Stderr: stderr.String()}
	case waitErr != nil:
		code = -1
		runErr = waitErr
	case readErr != nil:
		runErr = readErr
	}
	eventbus.Publish(ctx, events.ProcessFinish{CommandLine: commandLine, PipelineID: opts.PipelineID, ExitCode: code, Err: runErr, Duration: time.Since(start)})
	if runErr != nil {
		return "", runErr
	}
	return out, nil
}

func readStdout(r io.Reader, onLine func(string)) (string, error) {
	if onLine == nil {
		b, err := io.ReadAll(r)
		return string(b), err
	}
	var out strings.Builder
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			out.WriteString(line)
			onLine(strings.TrimRight(line, "\r\n"))
		}
		if err == io.EOF {
			return out.String(), nil
		}
		if err != nil {
			return out.String(), err
		}
	}
}
