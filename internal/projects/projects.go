// Package projects reads completed wizard projects from the project store.
// The store is owned by another service; this package never writes to it.
package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

// Project is the subset of a project record the generator needs.
type Project struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Name        string      `json:"name,omitempty"`
	IsCompleted bool        `json:"isCompleted"`
	WizardData  wizard.Data `json:"wizardData"`
	UpdatedAt   time.Time   `json:"updatedAt,omitzero"`
}

// Provider looks up a project owned by a user. Unknown projects and projects
// owned by someone else are both reported as not found.
type Provider interface {
	GetProject(ctx context.Context, projectID, userID string) (*Project, error)
}

func notFound(projectID string) error {
	return derrors.NotFoundError("project not found").WithContext("project_id", projectID).Build()
}

// decodeProject parses a stored JSON project document.
func decodeProject(raw []byte) (*Project, error) {
	var p Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	if p.WizardData == nil {
		p.WizardData = wizard.Data{}
	}
	return &p, nil
}

// Memory is an in-process Provider, used by the offline CLI and tests.
type Memory struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewMemory returns a provider holding the given projects.
func NewMemory(ps ...*Project) *Memory {
	m := &Memory{projects: map[string]*Project{}}
	for _, p := range ps {
		m.Put(p)
	}
	return m
}

// Put adds or replaces a project.
func (m *Memory) Put(p *Project) {
	m.mu.Lock()
	m.projects[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) GetProject(_ context.Context, projectID, userID string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectID]
	if !ok || p.UserID != userID {
		return nil, notFound(projectID)
	}
	cp := *p
	return &cp, nil
}
