// Package telemetry publishes sync session outcomes to Kafka.
//
// Every message value is framed the Confluent way: a zero magic byte, the
// big-endian Schema Registry id, then the JSON payload.
package telemetry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"example.com/learnsync/internal/domain"
	"example.com/learnsync/internal/events"
	"example.com/learnsync/internal/syncengine"
)

const defaultPublishTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Publisher is a syncengine.SessionObserver that emits events.SyncSessionCompleted.
type Publisher struct {
	writer   messageWriter
	registry schemaRegistrar
	topic    string
	deviceID string
	timeout  time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	schemaID int
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger used for publish failures.
func WithPublisherLogger(logger zerolog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithPublishTimeout bounds each publish.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewPublisher constructs a Publisher writing to topic.
func NewPublisher(writer messageWriter, registry schemaRegistrar, topic, deviceID string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		writer:   writer,
		registry: registry,
		topic:    topic,
		deviceID: deviceID,
		timeout:  defaultPublishTimeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SessionCompleted implements syncengine.SessionObserver. Failures are logged
// and never affect the session.
func (p *Publisher) SessionCompleted(ctx context.Context, report syncengine.Report) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.Publish(ctx, report); err != nil {
		publishFailures.Inc()
		p.logger.Warn().Err(err).Str("topic", p.topic).Msg("publish sync session event")
		return
	}
	published.WithLabelValues(string(report.Outcome)).Inc()
}

// Publish writes one framed event for report.
func (p *Publisher) Publish(ctx context.Context, report syncengine.Report) error {
	event := EventFromReport(report, p.deviceID)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	schemaID, err := p.ensureSchema(ctx)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, p.topic, kafka.Message{
		Key:   []byte(event.UserID),
		Value: encodeWireFormat(schemaID, payload),
		Time:  event.FinishedAt,
	})
}

func (p *Publisher) ensureSchema(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.schemaID != 0 {
		return p.schemaID, nil
	}
	id, err := p.registry.EnsureSchema(ctx, p.topic+"-value", events.SyncSessionCompletedSchema)
	if err != nil {
		return 0, fmt.Errorf("ensure schema: %w", err)
	}
	p.schemaID = id
	return id, nil
}

// EventFromReport maps a session report onto the published payload.
func EventFromReport(report syncengine.Report, deviceID string) events.SyncSessionCompleted {
	return events.SyncSessionCompleted{
		SessionID:  uuid.NewString(),
		UserID:     report.Identity,
		DeviceID:   deviceID,
		Trigger:    string(report.Trigger),
		Outcome:    string(report.Outcome),
		Pushed:     kindCounts(report.Pushed),
		Skipped:    kindCounts(report.Skipped),
		Adopted:    kindCounts(report.Adopted),
		FailedStep: report.FailedStep,
		Error:      report.Error,
		StartedAt:  report.StartedAt.UTC(),
		FinishedAt: report.FinishedAt.UTC(),
		Version:    events.SchemaVersion,
	}
}

func kindCounts(in map[domain.Kind]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		if v > 0 {
			out[string(k)] = v
		}
	}
	return out
}

func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
