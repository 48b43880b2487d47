package eventstore

import (
	"context"
	"encoding/json"
	"time"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
)

// Job event types.
const (
	TypeJobSubmitted      = "JobSubmitted"
	TypeJobStatusChanged  = "JobStatusChanged"
	TypeJobRetryScheduled = "JobRetryScheduled"
	TypeJobCompleted      = "JobCompleted"
	TypeJobFailed         = "JobFailed"
	TypeJobCancelled      = "JobCancelled"
	TypeJobExpired        = "JobExpired"
	TypeJobRecovered      = "JobRecovered"
)

// JobSubmittedMeta describes a newly accepted job.
type JobSubmittedMeta struct {
	ProjectID  string `json:"project_id"`
	UserID     string `json:"user_id"`
	ThemeID    string `json:"theme_id,omitempty"`
	AutoDetect bool   `json:"auto_detect"`
}

// StatusChange is one state machine transition.
type StatusChange struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Progress int    `json:"progress"`
	Step     string `json:"step,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
}

// RetryScheduled records a whole-job retry.
type RetryScheduled struct {
	Attempt int    `json:"attempt"`
	DelayMS int64  `json:"delay_ms"`
	Error   string `json:"error"`
}

// JobCompletedMeta carries artifact references of a finished job.
type JobCompletedMeta struct {
	ThemeID    string            `json:"theme_id"`
	DurationMS int64             `json:"duration_ms"`
	Artifacts  map[string]string `json:"artifacts,omitempty"`
}

// JobFailedMeta carries the final error of a failed job.
type JobFailedMeta struct {
	Stage    string `json:"stage,omitempty"`
	Category string `json:"category,omitempty"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// NewEvent marshals payload into an unsaved event.
func NewEvent(jobID, eventType string, payload any) (*BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryStorage, "failed to marshal event payload").
			WithContext("job_id", jobID).
			WithContext("event_type", eventType).Build()
	}
	return &BaseEvent{
		EventJobID:     jobID,
		EventType:      eventType,
		EventTimestamp: time.Now().UTC(),
		EventPayload:   data,
	}, nil
}

// Record marshals and appends one event.
func Record(ctx context.Context, s Store, jobID, eventType string, payload any, metadata map[string]string) (*BaseEvent, error) {
	e, err := NewEvent(jobID, eventType, payload)
	if err != nil {
		return nil, err
	}
	e.EventMetadata = metadata
	if err := s.Append(ctx, jobID, eventType, e.EventPayload, metadata); err != nil {
		return nil, err
	}
	return e, nil
}

// Decode unmarshals an event payload into v.
func Decode(e Event, v any) error {
	if err := json.Unmarshal(e.Payload(), v); err != nil {
		return derrors.WrapError(err, derrors.CategoryStorage, "failed to decode event payload").
			WithContext("event_type", e.Type()).Build()
	}
	return nil
}
