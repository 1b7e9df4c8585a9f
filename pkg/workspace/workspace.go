// Package workspace manages per-job local directories.
//
// Directory layout:
//
//	<root>/<account>/<user>/<job_id>/data.json
//	<root>/<account>/<user>/<job_id>/.lock
//	<root>/<account>/<user>/<job_id>/<job_id>~<file>
//	<root>/<account>/<user>/<job_id>/stdout.log
//	<root>/<account>/<user>/<job_id>/stderr.log
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// MarkerFile is the per-job metadata file name.
const MarkerFile = "data.json"

// LockFile serializes submitters on one host for the same job.
const LockFile = ".lock"

// ErrLocked indicates another process holds the job lock.
var ErrLocked = errors.New("job workspace is locked")

// Marker is the content of data.json.
type Marker struct {
	Key       string    `json:"key"`
	InputFile string    `json:"input_file"`
	CreatedAt time.Time `json:"created_at"`

	// PID of the launched pipeline child, zero before launch.
	PID        int        `json:"pid,omitempty"`
	LaunchedAt *time.Time `json:"launched_at,omitempty"`
	StdoutPath string     `json:"stdout_path,omitempty"`
	StderrPath string     `json:"stderr_path,omitempty"`
}

// Running reports whether the recorded child process still exists.
func (m *Marker) Running() bool {
	return m != nil && isProcessAlive(m.PID)
}

// Manager owns a workspace root.
type Manager struct {
	root string
}

func New(root string) *Manager {
	return &Manager{root: strings.TrimSpace(root)}
}

func (m *Manager) Root() string {
	return m.root
}

// Dir returns the directory for a job path segment
// ({account}/{user}/{job_id}), rejecting segments that escape the root.
func (m *Manager) Dir(jobPath string) (string, error) {
	if m.root == "" {
		return "", fmt.Errorf("workspace root dir is empty")
	}
	clean := filepath.Clean("/" + filepath.FromSlash(strings.TrimSpace(jobPath)))
	clean = strings.TrimPrefix(clean, string(filepath.Separator))
	if clean == "" || clean == "." {
		return "", fmt.Errorf("job path is required")
	}
	return filepath.Join(m.root, clean), nil
}

// MarkerPath returns the data.json path for a job.
func (m *Manager) MarkerPath(jobPath string) (string, error) {
	dir, err := m.Dir(jobPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, MarkerFile), nil
}

// Create ensures the job directory exists and writes a fresh marker unless one
// is already present. It returns the directory.
func (m *Manager) Create(jobPath, key, inputFile string) (string, error) {
	dir, err := m.Dir(jobPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	if _, err := m.ReadMarker(jobPath); err == nil {
		return dir, nil
	}
	marker := &Marker{Key: key, InputFile: inputFile, CreatedAt: time.Now().UTC()}
	if err := m.WriteMarker(jobPath, marker); err != nil {
		return "", err
	}
	return dir, nil
}

// Lock takes an exclusive, non-blocking lock on the job directory and returns
// its release func. ErrLocked means someone else holds it.
func (m *Manager) Lock(jobPath string) (func() error, error) {
	dir, err := m.Dir(jobPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, LockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return fl.Unlock, nil
}

// WriteMarker replaces data.json atomically.
func (m *Manager) WriteMarker(jobPath string, marker *Marker) error {
	if marker == nil {
		return fmt.Errorf("marker is nil")
	}
	dir, err := m.Dir(jobPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, MarkerFile+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp marker: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, MarkerFile)); err != nil {
		return fmt.Errorf("rename marker: %w", err)
	}
	return nil
}

// ReadMarker loads data.json for a job.
func (m *Manager) ReadMarker(jobPath string) (*Marker, error) {
	path, err := m.MarkerPath(jobPath)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("%s is empty", MarkerFile)
	}
	var marker Marker
	if err := json.Unmarshal([]byte(trimmed), &marker); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MarkerFile, err)
	}
	return &marker, nil
}

// Location is a local job file resolved back to its key segments.
type Location struct {
	Account  string
	User     string
	JobID    string
	FileName string
}

// JobPath returns {account}/{user}/{job_id}.
func (l Location) JobPath() string {
	return l.Account + "/" + l.User + "/" + l.JobID
}

// Locate resolves a file path under the root into its segments.
func (m *Manager) Locate(path string) (Location, error) {
	if m.root == "" {
		return Location{}, fmt.Errorf("workspace root dir is empty")
	}
	absRoot, err := filepath.Abs(m.root)
	if err != nil {
		return Location{}, fmt.Errorf("resolve root: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Location{}, fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return Location{}, fmt.Errorf("%s is not under workspace root %s", path, m.root)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 {
		return Location{}, fmt.Errorf("%s: want <root>/<account>/<user>/<job_id>/<file>", path)
	}
	return Location{Account: parts[0], User: parts[1], JobID: parts[2], FileName: parts[3]}, nil
}

// Remove deletes files, ignoring ones already gone. Errors are joined.
func Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without delivering a signal.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}
