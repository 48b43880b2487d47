// Package notify publishes generation job events to NATS JetStream.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
)

const publishTimeout = 5 * time.Second

// Message is the JSON document published for every job event.
type Message struct {
	JobID     string          `json:"jobId"`
	Type      string          `json:"type"`
	Status    string          `json:"status,omitempty"`
	Progress  int             `json:"progress"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NATSPublisher sends job events to a JetStream stream and keeps the most
// recent message per job in a KV bucket.
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	prefix string
}

// NewNATSPublisher connects and makes sure the stream and bucket exist.
func NewNATSPublisher(ctx context.Context, cfg config.NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is not configured")
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("sitebuilder"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &NATSPublisher{conn: conn, js: js, prefix: strings.TrimSuffix(cfg.SubjectPrefix, ".")}
	if err := p.init(ctx, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	slog.Info("NATS publisher initialized",
		logfields.URL(cfg.URL),
		slog.String("subject_prefix", p.prefix),
		slog.String("stream", cfg.Stream),
		slog.String("bucket", cfg.StatusBucket))
	return p, nil
}

func (p *NATSPublisher) init(ctx context.Context, cfg config.NATSConfig) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Website generation job events",
		Subjects:    []string{p.prefix + ".>"},
		MaxAge:      7 * 24 * time.Hour,
	}); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	kv, err := p.js.KeyValue(ctx, cfg.StatusBucket)
	if err == nil {
		p.kv = kv
		return nil
	}
	kv, err = p.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.StatusBucket,
		Description: "Latest event per generation job",
		History:     1,
		TTL:         7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create KV bucket: %w", err)
	}
	p.kv = kv
	return nil
}

// Subject returns the subject a job's events are published on.
func (p *NATSPublisher) Subject(jobID string) string { return p.prefix + "." + jobID }

// Publish sends msg to the stream and records it as the job's latest state.
func (p *NATSPublisher) Publish(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, p.Subject(msg.JobID), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if p.kv != nil {
		if _, err := p.kv.Put(ctx, msg.JobID, data); err != nil {
			return fmt.Errorf("failed to store latest event: %w", err)
		}
	}
	slog.Debug("Published job event", logfields.JobID(msg.JobID), slog.String("type", msg.Type))
	return nil
}

// Latest returns the most recent message for a job, or nil when none exists.
func (p *NATSPublisher) Latest(ctx context.Context, jobID string) (*Message, error) {
	if p.kv == nil {
		return nil, nil
	}
	entry, err := p.kv.Get(ctx, jobID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest event: %w", err)
	}
	var m Message
	if err := json.Unmarshal(entry.Value(), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest event: %w", err)
	}
	return &m, nil
}

// Ping reports connection state for health checks.
func (p *NATSPublisher) Ping(context.Context) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return errors.New("nats disconnected")
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
