// Package pipeline builds and packages a static site from a page plan,
// generated copy and a theme.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
)

// Stage is a discrete unit of work in the site build.
type Stage func(ctx context.Context, bs *BuildState) error

// StageName is a strongly-typed identifier for a build stage.
type StageName string

// Canonical stage names, in execution order.
const (
	StageScaffold      StageName = "scaffold"
	StageThemeInstall  StageName = "theme_install"
	StageConfigRender  StageName = "config_render"
	StageContentRender StageName = "content_render"
	StageAssetScaffold StageName = "asset_scaffold"
	StageBuild         StageName = "build"
	StagePackage       StageName = "package"
)

// StageErrorKind classifies the outcome of a stage.
type StageErrorKind string

const (
	StageErrorFatal    StageErrorKind = "fatal"
	StageErrorCanceled StageErrorKind = "canceled"
)

// StageError carries the failing stage so it always reaches the build log.
type StageError struct {
	Kind  StageErrorKind
	Stage StageName
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage %s: %v", e.Kind, e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Transient reports whether a retry of the whole build could succeed.
func (e *StageError) Transient() bool {
	if e == nil || e.Kind == StageErrorCanceled {
		return false
	}
	return derrors.IsRetryable(e.Err)
}

// NewFatalStageError creates a new fatal stage error.
func NewFatalStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorFatal, Stage: stage, Err: err}
}

// NewCanceledStageError creates a stage error for context cancellation.
func NewCanceledStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorCanceled, Stage: stage, Err: err}
}

// AsStageError finds a StageError in the chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// StageResult captures the high-level outcome of a stage.
type StageResult string

const (
	StageResultSuccess  StageResult = "success"
	StageResultFatal    StageResult = "fatal"
	StageResultCanceled StageResult = "canceled"
)

// StageDef pairs a stage name with its executing function.
type StageDef struct {
	Name StageName
	Fn   Stage
}

// Stages is a fluent builder for ordered stage definitions.
type Stages struct{ defs []StageDef }

// NewStages creates an empty stage list.
func NewStages() *Stages { return &Stages{defs: make([]StageDef, 0, 7)} }

// Add appends a stage unconditionally.
func (s *Stages) Add(name StageName, fn Stage) *Stages {
	s.defs = append(s.defs, StageDef{Name: name, Fn: fn})
	return s
}

// AddIf appends a stage only if cond is true.
func (s *Stages) AddIf(cond bool, name StageName, fn Stage) *Stages {
	if cond {
		s.Add(name, fn)
	}
	return s
}

// Build returns a copy of the stage definitions.
func (s *Stages) Build() []StageDef {
	out := make([]StageDef, len(s.defs))
	copy(out, s.defs)
	return out
}
