package eventstore

import (
	"context"
	"encoding/json"
	"time"
)

// JobTimeline summarizes one job's event log.
type JobTimeline struct {
	JobID      string          `json:"jobId"`
	Status     string          `json:"status"`
	Submitted  time.Time       `json:"submittedAt"`
	LastEvent  time.Time       `json:"lastEventAt"`
	Retries    int             `json:"retries"`
	Recoveries int             `json:"recoveries"`
	LastError  string          `json:"lastError,omitempty"`
	ErrorStage string          `json:"errorStage,omitempty"`
	Events     []TimelineEntry `json:"events"`
}

// TimelineEntry is one event as exposed to API clients.
type TimelineEntry struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Timeline loads and folds a job's events. A job without events yields an
// empty timeline, not an error.
func Timeline(ctx context.Context, s Store, jobID string) (*JobTimeline, error) {
	events, err := s.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	t := &JobTimeline{JobID: jobID, Events: make([]TimelineEntry, 0, len(events))}
	for _, e := range events {
		t.Apply(e)
	}
	return t, nil
}

// Apply folds one event into the timeline.
func (t *JobTimeline) Apply(e Event) {
	t.Events = append(t.Events, TimelineEntry{
		ID:        e.ID(),
		Type:      e.Type(),
		Timestamp: e.Timestamp(),
		Payload:   json.RawMessage(e.Payload()),
	})
	t.LastEvent = e.Timestamp()

	switch e.Type() {
	case TypeJobSubmitted:
		t.Submitted = e.Timestamp()
		t.Status = "pending"
	case TypeJobStatusChanged:
		var sc StatusChange
		if Decode(e, &sc) == nil {
			t.Status = sc.To
		}
	case TypeJobRetryScheduled:
		t.Retries++
		var r RetryScheduled
		if Decode(e, &r) == nil {
			t.LastError = r.Error
		}
	case TypeJobRecovered:
		t.Recoveries++
	case TypeJobCompleted:
		t.Status = "completed"
	case TypeJobFailed:
		t.Status = "failed"
		var f JobFailedMeta
		if Decode(e, &f) == nil {
			t.LastError = f.Error
			t.ErrorStage = f.Stage
		}
	case TypeJobCancelled:
		t.Status = "cancelled"
	case TypeJobExpired:
		t.Status = "expired"
	}
}
