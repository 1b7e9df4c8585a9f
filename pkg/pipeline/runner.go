package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/annflow/pkg/jobs"
)

// Runner invokes the annotation tool synchronously on one input file.
type Runner struct {
	// Command is the tool and leading args; the input path is appended.
	Command []string

	ResultSuffix string
	LogSuffix    string
}

// Outputs are the files the tool produced.
type Outputs struct {
	Result string
	Log    string
}

func (r *Runner) suffixes() (string, string) {
	res, log := r.ResultSuffix, r.LogSuffix
	if res == "" {
		res = jobs.ResultSuffix
	}
	if log == "" {
		log = jobs.LogSuffix
	}
	return res, log
}

// Run executes the tool in the input's directory and locates its outputs. A
// relative inputPath is resolved against the caller's working directory.
func (r *Runner) Run(ctx context.Context, inputPath string, stdout, stderr io.Writer) (Outputs, error) {
	if len(r.Command) == 0 {
		return Outputs{}, fmt.Errorf("pipeline command is not configured")
	}
	inputPath, err := filepath.Abs(inputPath)
	if err != nil {
		return Outputs{}, fmt.Errorf("resolve input path: %w", err)
	}
	args := append(append([]string{}, r.Command[1:]...), inputPath)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	cmd.Dir = filepath.Dir(inputPath)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return Outputs{}, fmt.Errorf("annotation command failed: %w", err)
	}

	resSuffix, logSuffix := r.suffixes()
	result, err := Discover(inputPath, resSuffix)
	if err != nil {
		return Outputs{}, err
	}
	log, err := Discover(inputPath, logSuffix)
	if err != nil {
		return Outputs{}, err
	}
	return Outputs{Result: result, Log: log}, nil
}

// ErrOutputMissing indicates the tool finished without writing an expected file.
var ErrOutputMissing = errors.New("pipeline output missing")

// Discover finds the output with suffix for inputPath. The sibling
// <stem><suffix> is preferred; otherwise the job directory is searched
// recursively for a file named <stem>*<suffix>.
func Discover(inputPath, suffix string) (string, error) {
	dir := filepath.Dir(inputPath)
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	sibling := filepath.Join(dir, stem+suffix)
	if st, err := os.Stat(sibling); err == nil && !st.IsDir() {
		return sibling, nil
	}

	matches, err := doublestar.Glob(os.DirFS(dir), "**/*"+suffix, doublestar.WithFilesOnly())
	if err != nil {
		return "", fmt.Errorf("search outputs in %s: %w", dir, err)
	}
	var hits []string
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), stem) {
			hits = append(hits, m)
		}
	}
	if len(hits) == 0 {
		return "", fmt.Errorf("%w: %s", ErrOutputMissing, sibling)
	}
	sort.Strings(hits)
	return filepath.Join(dir, filepath.FromSlash(hits[0])), nil
}

// Cleanup removes files under dir matching any of the doublestar patterns
// and returns the removed paths, relative to dir.
func Cleanup(dir string, patterns ...string) ([]string, error) {
	fsys := os.DirFS(dir)
	var removed []string
	var errs []error
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("invalid cleanup pattern %q", pattern))
			continue
		}
		err := doublestar.GlobWalk(fsys, pattern, func(path string, d fs.DirEntry) error {
			if d.IsDir() {
				return nil
			}
			if err := os.Remove(filepath.Join(dir, filepath.FromSlash(path))); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
				return nil
			}
			removed = append(removed, path)
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}
