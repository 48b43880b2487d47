package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/foundation/normalization"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
)

const (
	timestampLayout = "20060102-150405"
	defaultName     = "site"
	maxCollisions   = 100
)

// Manager creates build workspaces under a base directory. It is safe for
// concurrent use; each Create returns an independent Workspace.
type Manager struct {
	baseDir string
	keep    bool
	now     func() time.Time
}

// NewManager creates a workspace manager. With keep set, Cleanup leaves the
// directory in place.
func NewManager(baseDir string, keep bool) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir, keep: keep, now: time.Now}
}

// WithClock overrides the timestamp source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// BaseDir returns the directory workspaces are created in.
func (m *Manager) BaseDir() string { return m.baseDir }

// Workspace is one build's working directory.
type Workspace struct {
	path string
	keep bool
}

// Create makes a directory named <slug(name)>-<timestamp>. A numeric suffix
// is appended when two builds for the same name start in the same second.
func (m *Manager) Create(name string) (*Workspace, error) {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create workspace base directory: %w", err)
	}
	slug := normalization.Slugify(name)
	if slug == "" {
		slug = defaultName
	}
	stem := fmt.Sprintf("%s-%s", slug, m.now().Format(timestampLayout))

	for i := 0; i < maxCollisions; i++ {
		dir := stem
		if i > 0 {
			dir = fmt.Sprintf("%s-%d", stem, i)
		}
		path := filepath.Join(m.baseDir, dir)
		err := os.Mkdir(path, 0o750)
		if err == nil {
			slog.Info("Created workspace", logfields.Path(path))
			return &Workspace{path: path, keep: m.keep}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to create workspace directory: too many builds named %q", stem)
}

// Path returns the workspace directory.
func (w *Workspace) Path() string { return w.path }

// Join returns a path inside the workspace.
func (w *Workspace) Join(elem ...string) string {
	return filepath.Join(append([]string{w.path}, elem...)...)
}

// CreateSubdir creates a subdirectory within the workspace.
func (w *Workspace) CreateSubdir(name string) (string, error) {
	if w.path == "" {
		return "", fmt.Errorf("workspace not created")
	}
	subdir := filepath.Join(w.path, name)
	if err := os.MkdirAll(subdir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}
	return subdir, nil
}

// Cleanup removes the workspace directory unless the manager keeps them.
func (w *Workspace) Cleanup() error {
	if w.path == "" {
		return nil
	}
	if w.keep {
		slog.Debug("Keeping workspace", logfields.Path(w.path))
		return nil
	}
	if err := os.RemoveAll(w.path); err != nil {
		return fmt.Errorf("failed to cleanup workspace: %w", err)
	}
	slog.Info("Cleaned up workspace", logfields.Path(w.path))
	w.path = ""
	return nil
}
