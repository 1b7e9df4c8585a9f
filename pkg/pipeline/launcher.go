// Package pipeline starts and runs the external annotation tool.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Log file names written next to the job input.
const (
	StdoutLog = "stdout.log"
	StderrLog = "stderr.log"
)

// Launcher spawns the managed run command as a detached child:
//
//	<command...> run --input <path> --job-id <id>
//
// It returns once the child has started and never waits for it.
type Launcher struct {
	// Command is the program and leading args. Empty uses the current
	// executable.
	Command []string

	// Env is appended to the parent environment.
	Env []string
}

// Launch describes a started child.
type Launch struct {
	PID        int
	StdoutPath string
	StderrPath string

	// Done is closed after the child exits and is reaped.
	Done <-chan struct{}
}

func (l *Launcher) command() ([]string, error) {
	if len(l.Command) > 0 {
		return l.Command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return []string{exe}, nil
}

// Launch starts the child for inputPath, logging to files in logDir.
func (l *Launcher) Launch(ctx context.Context, logDir, inputPath, jobID string) (*Launch, error) {
	_ = ctx
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job id is required")
	}
	absInput, err := filepath.Abs(strings.TrimSpace(inputPath))
	if err != nil {
		return nil, fmt.Errorf("resolve input path: %w", err)
	}
	if _, err := os.Stat(absInput); err != nil {
		return nil, fmt.Errorf("input not found: %s", absInput)
	}

	argv, err := l.command()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	stdoutPath := filepath.Join(logDir, StdoutLog)
	stderrPath := filepath.Join(logDir, StderrLog)

	stdoutFile, err := os.Create(stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		_ = stdoutFile.Close()
		return nil, fmt.Errorf("create stderr log: %w", err)
	}

	args := append(append([]string{}, argv[1:]...), "run", "--input", absInput, "--job-id", jobID)
	// Not CommandContext: the child must outlive the message that started it.
	cmd := exec.Command(argv[0], args...)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = append(os.Environ(), l.Env...)

	if err := cmd.Start(); err != nil {
		_ = stdoutFile.Close()
		_ = stderrFile.Close()
		return nil, fmt.Errorf("start pipeline: %w", err)
	}
	_ = stdoutFile.Close()
	_ = stderrFile.Close()

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	return &Launch{
		PID:        cmd.Process.Pid,
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
		Done:       done,
	}, nil
}
