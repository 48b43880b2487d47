package projects

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// FileProvider serves projects from <dir>/<projectID>.json.
type FileProvider struct {
	dir string
}

// NewFileProvider checks that dir exists.
func NewFileProvider(dir string) (*FileProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryConfig, "projects directory not readable").
			WithContext("dir", dir).Build()
	}
	if !info.IsDir() {
		return nil, derrors.ConfigError("projects path is not a directory").WithContext("dir", dir).Build()
	}
	return &FileProvider{dir: dir}, nil
}

func (f *FileProvider) GetProject(_ context.Context, projectID, userID string) (*Project, error) {
	if !projectIDPattern.MatchString(projectID) {
		return nil, notFound(projectID)
	}
	// #nosec G304 - projectID is restricted to a safe character set
	raw, err := os.ReadFile(filepath.Join(f.dir, projectID+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(projectID)
	}
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryStorage, "failed to read project").
			WithContext("project_id", projectID).Build()
	}
	p, err := decodeProject(raw)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryStorage, "stored project is malformed").
			WithContext("project_id", projectID).Build()
	}
	if p.ID == "" {
		p.ID = projectID
	}
	if p.ID != projectID || p.UserID != userID {
		return nil, notFound(projectID)
	}
	return p, nil
}
