// Package jobs owns the generation job lifecycle: the durable job record and
// its state machine, the worker queue with whole-job retries, and the
// orchestrator that drives theme selection, content generation, page
// planning and the site build for each job.
package jobs

import (
	"time"

	"git.home.luguber.info/inful/sitebuilder/internal/themes"
)

// Status is a generation job state.
type Status string

const (
	StatusPending           Status = "pending"
	StatusAnalyzing         Status = "analyzing_requirements"
	StatusContentGenerating Status = "content_generating"
	StatusBuildingSite      Status = "building_site"
	StatusPackaging         Status = "packaging"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusExpired           Status = "expired"
)

// Legal transitions. Every non-terminal state may also move to failed.
var transitions = map[Status][]Status{
	StatusPending:           {StatusAnalyzing, StatusCancelled},
	StatusAnalyzing:         {StatusContentGenerating},
	StatusContentGenerating: {StatusBuildingSite},
	StatusBuildingSite:      {StatusPackaging},
	StatusPackaging:         {StatusCompleted},
	StatusCompleted:         {StatusExpired},
}

// Terminal reports whether no worker will touch the job again. Completed is
// terminal even though the cleanup sweep may still expire it.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if _, ok := transitions[s]; ok {
		return true
	}
	return s == StatusFailed || s == StatusCancelled || s == StatusExpired
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return !from.Terminal()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// terminalStatuses is used by store queries.
var terminalStatuses = []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusExpired}

// Options are the caller's generation choices. Selection is filled in by the
// worker once a theme has been picked.
type Options struct {
	ThemeID        string                  `json:"themeId,omitempty"`
	AutoDetect     bool                    `json:"autoDetect"`
	Customizations map[string]any          `json:"customizations,omitempty"`
	ContentOptions map[string]any          `json:"contentOptions,omitempty"`
	Selection      *themes.SelectionResult `json:"themeSelection,omitempty"`
}

// wantsAutoDetect is true when no usable explicit theme was requested.
func (o Options) wantsAutoDetect() bool { return o.AutoDetect || o.ThemeID == "" }

// ArtifactRef points at a stored archive.
type ArtifactRef struct {
	Ref  string `json:"ref"`
	Size int64  `json:"size"`
}

// Result is recorded when a job completes.
type Result struct {
	ThemeID     string      `json:"themeId"`
	SiteTitle   string      `json:"siteTitle,omitempty"`
	SiteURL     string      `json:"siteUrl,omitempty"`
	Site        ArtifactRef `json:"site"`
	Source      ArtifactRef `json:"source"`
	BuildTimeMS int64       `json:"buildTimeMs"`
	Pages       int         `json:"pages"`
}

// Job is a generation job snapshot.
type Job struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	UserID      string     `json:"userId"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep"`
	StartedAt   time.Time  `json:"startedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Options     Options    `json:"options"`
	BuildLog    []string   `json:"buildLog"`
	ErrorLog    string     `json:"errorLog,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Attempts    int        `json:"attempts"`
	ClaimedBy   string     `json:"-"`

	// phase is the step the current attempt is running, which can trail
	// Status while a retried attempt replays earlier steps.
	phase Status
}

// Page is one page of a user's job history.
type Page struct {
	Items    []*Job `json:"items"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}
