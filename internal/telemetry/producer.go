package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Session events arrive at most once per sync session, so writers flush each
// message right away instead of waiting to fill a batch.
const (
	defaultFlushInterval = 50 * time.Millisecond
	defaultWriteTimeout  = 5 * time.Second
)

// TopicSettings tune the writer used for one topic.
type TopicSettings struct {
	// FlushInterval bounds how long a message waits for batch company.
	FlushInterval time.Duration
	// BatchSize is the number of messages that triggers an early flush.
	BatchSize    int
	WriteTimeout time.Duration
}

func (s TopicSettings) withDefaults() TopicSettings {
	if s.FlushInterval <= 0 {
		s.FlushInterval = defaultFlushInterval
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 1
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = defaultWriteTimeout
	}
	return s
}

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*KafkaProducer)

// WithTopicSettings overrides the writer settings for topic.
func WithTopicSettings(topic string, settings TopicSettings) ProducerOption {
	return func(p *KafkaProducer) {
		p.topics[topic] = settings.withDefaults()
	}
}

// KafkaProducer writes session events, keeping one writer per topic. Writers
// are created on first use so a device that never completes a session never
// dials the brokers.
type KafkaProducer struct {
	brokers []string
	topics  map[string]TopicSettings

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	closed  bool
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string, opts ...ProducerOption) *KafkaProducer {
	p := &KafkaProducer{
		brokers: brokers,
		topics:  make(map[string]TopicSettings),
		writers: make(map[string]*kafka.Writer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var errProducerClosed = errors.New("telemetry producer closed")

// WriteMessages writes msgs to topic.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	w, err := p.writer(topic)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writer(topic string) (*kafka.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errProducerClosed
	}
	if w, ok := p.writers[topic]; ok {
		return w, nil
	}
	settings := p.topics[topic].withDefaults()
	// Keyed by identity so one learner's sessions stay ordered.
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
		BatchSize:    settings.BatchSize,
		BatchTimeout: settings.FlushInterval,
		WriteTimeout: settings.WriteTimeout,
	}
	p.writers[topic] = w
	return w, nil
}

// Close flushes and closes every writer. Later writes fail.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var errs []error
	for topic, w := range p.writers {
		errs = append(errs, w.Close())
		delete(p.writers, topic)
	}
	return errors.Join(errs...)
}
