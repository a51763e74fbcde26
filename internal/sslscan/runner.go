package sslscan

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// StderrFunc receives stderr of a running command line by line
type StderrFunc func(ctx context.Context, line string)

// Command is an external command to run. It inherits the environment
// of the current process.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// Result of a finished command
type Result struct {
	Started time.Time
	Stopped time.Time
	Err     error
}

// Run starts the command and waits for it to finish. Canceling the
// context or reaching the timeout kills the process.
//   - Stdout: the console table of sslscan is discarded, the XML output file is the result.
//   - Stderr handling: If a StderrFunc is provided, stderr is scanned line-by-line with
//     bufio.Scanner (64K token limit). Otherwise it is discarded.
func Run(ctx context.Context, proto Command, stderrFunc StderrFunc) Result {
	var ret Result

	var cancel context.CancelFunc
	if proto.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", proto.Path)
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	var stderr io.ReadCloser
	if stderrFunc != nil {
		var err error
		stderr, err = cmd.StderrPipe()
		if err != nil {
			ret.Err = err
			return ret
		}
	}
	cmd.Stdout = io.Discard

	ret.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		ret.Stopped = time.Now().UTC()
		ret.Err = err
		return ret
	}

	// stderr must be consumed before Wait closes the pipe
	var wg sync.WaitGroup
	if stderrFunc != nil {
		wg.Go(func() {
			processStderr(ctx, stderr, stderrFunc)
		})
	}
	wg.Wait()

	err := cmd.Wait()
	ret.Stopped = time.Now().UTC()
	ret.Err = err
	if err != nil && ctx.Err() != nil {
		ret.Err = errors.Join(err, context.Cause(ctx))
	}
	return ret
}

func processStderr(ctx context.Context, stderr io.Reader, f StderrFunc) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		f(ctx, scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
}
