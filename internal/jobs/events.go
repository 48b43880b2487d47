package jobs

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/sitebuilder/internal/eventstore"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/notify"
)

// Publisher forwards job events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, msg notify.Message) error
}

// Event is one job lifecycle notification.
type Event struct {
	JobID    string
	Type     string
	Status   Status
	Progress int
	Payload  any
}

// Handler receives events synchronously on the emitting goroutine.
type Handler func(Event)

// EventBus persists job events to the event log, forwards them to the
// configured publishers and delivers them to in-process subscribers. Delivery
// failures are logged and never fail the job.
type EventBus struct {
	store      eventstore.Store
	publishers []Publisher

	mu          sync.RWMutex
	subscribers map[string][]Handler
}

// NewEventBus creates a bus. store may be nil.
func NewEventBus(store eventstore.Store, publishers ...Publisher) *EventBus {
	return &EventBus{store: store, publishers: publishers, subscribers: map[string][]Handler{}}
}

// Subscribe registers h for eventType, or for every event when eventType is "".
func (b *EventBus) Subscribe(eventType string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], h)
	b.mu.Unlock()
}

// Emit records and delivers e.
func (b *EventBus) Emit(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	// Event delivery must outlive a canceled job context.
	ctx = context.WithoutCancel(ctx)

	var base *eventstore.BaseEvent
	var err error
	if b.store != nil {
		base, err = eventstore.Record(ctx, b.store, e.JobID, e.Type, e.Payload, map[string]string{"status": string(e.Status)})
	} else {
		base, err = eventstore.NewEvent(e.JobID, e.Type, e.Payload)
	}
	if err != nil {
		slog.Warn("Failed to record job event", logfields.JobID(e.JobID), slog.String("event", e.Type), logfields.Error(err))
	}

	if len(b.publishers) > 0 && base != nil {
		msg := notify.Message{
			JobID:     e.JobID,
			Type:      e.Type,
			Status:    string(e.Status),
			Progress:  e.Progress,
			Timestamp: base.EventTimestamp,
			Payload:   base.EventPayload,
		}
		for _, p := range b.publishers {
			if err := p.Publish(ctx, msg); err != nil {
				slog.Warn("Failed to publish job event", logfields.JobID(e.JobID), slog.String("event", e.Type), logfields.Error(err))
			}
		}
	}

	b.mu.RLock()
	hs := append(append([]Handler(nil), b.subscribers[e.Type]...), b.subscribers[""]...)
	b.mu.RUnlock()
	for _, h := range hs {
		h(e)
	}
}

// Timeline folds the recorded events of one job.
func (b *EventBus) Timeline(ctx context.Context, jobID string) (*eventstore.JobTimeline, error) {
	if b == nil || b.store == nil {
		return &eventstore.JobTimeline{JobID: jobID}, nil
	}
	return eventstore.Timeline(ctx, b.store, jobID)
}
