// Package bus publishes the decision feed to Kafka/RedPanda.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is a record to publish.
type Message struct {
	Topic     string
	Key       string // partition key
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Producer publishes messages to Kafka/RedPanda.
// Implementations: KafkaProducer (franz-go), StubProducer (in-memory).
type Producer interface {
	// Publish sends a Message synchronously, waiting for broker acknowledgement.
	Publish(ctx context.Context, msg Message) error
	// PublishJSON marshals value as JSON and publishes synchronously.
	PublishJSON(ctx context.Context, topic, key string, value any) error
	// Flush waits for buffered records. Returns 0 on success.
	Flush(timeout time.Duration) int
	// Close flushes pending records and shuts down the producer.
	Close()
}

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	instanceID         string
	schemaVersion      string
	maxBufferedRecords int
	linger             time.Duration
}

// WithInstanceID sets the client ID and the producer header.
func WithInstanceID(id string) ProducerOption {
	return func(c *producerConfig) { c.instanceID = id }
}

// WithSchemaVersion sets the schema_version header.
func WithSchemaVersion(v string) ProducerOption {
	return func(c *producerConfig) { c.schemaVersion = v }
}

// WithMaxBufferedRecords sets the maximum number of records buffered before blocking.
func WithMaxBufferedRecords(n int) ProducerOption {
	return func(c *producerConfig) { c.maxBufferedRecords = n }
}

// WithLinger sets the time to wait for batching before sending.
func WithLinger(d time.Duration) ProducerOption {
	return func(c *producerConfig) { c.linger = d }
}

// KafkaProducer is a Kafka producer backed by franz-go.
type KafkaProducer struct {
	client         *kgo.Client
	defaultHeaders map[string]string
	mu             sync.RWMutex
	closed         bool
}

// NewProducer creates a franz-go producer with Snappy compression and
// all-ISR acknowledgements.
func NewProducer(brokers []string, opts ...ProducerOption) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: no brokers")
	}
	cfg := &producerConfig{
		instanceID:         "forkwatch",
		schemaVersion:      SchemaVersion,
		maxBufferedRecords: 10000,
		linger:             5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.instanceID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.linger),
		kgo.MaxBufferedRecords(cfg.maxBufferedRecords),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	log.Info().
		Strs("brokers", brokers).
		Str("instance_id", cfg.instanceID).
		Msg("bus: kafka producer created")

	return &KafkaProducer{
		client: client,
		defaultHeaders: map[string]string{
			"producer":       cfg.instanceID,
			"schema_version": cfg.schemaVersion,
		},
	}, nil
}

// toRecord converts a Message to a kgo.Record, adding default headers and an
// event_id when missing.
func (p *KafkaProducer) toRecord(msg Message) *kgo.Record {
	headers := make(map[string]string, len(msg.Headers)+len(p.defaultHeaders)+1)
	for k, v := range p.defaultHeaders {
		headers[k] = v
	}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if _, ok := headers["event_id"]; !ok {
		headers["event_id"] = uuid.New().String()
	}

	rh := make([]kgo.RecordHeader, 0, len(headers))
	for k, v := range headers {
		rh = append(rh, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &kgo.Record{
		Topic:     msg.Topic,
		Key:       []byte(msg.Key),
		Value:     msg.Value,
		Headers:   rh,
		Timestamp: ts,
	}
}

// Publish implements Producer.
func (p *KafkaProducer) Publish(ctx context.Context, msg Message) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return fmt.Errorf("producer is closed")
	}

	results := p.client.ProduceSync(ctx, p.toRecord(msg))
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}

	r := results[0].Record
	log.Debug().
		Str("topic", r.Topic).
		Int32("partition", r.Partition).
		Int64("offset", r.Offset).
		Msg("bus: message published")
	return nil
}

// PublishJSON implements Producer.
func (p *KafkaProducer) PublishJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: data})
}

// Flush implements Producer.
func (p *KafkaProducer) Flush(timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("bus: flush failed")
		return 1
	}
	return 0
}

// Close implements Producer.
func (p *KafkaProducer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.client.Close()
	log.Info().Msg("bus: kafka producer closed")
}

// --- Stub producer for development/testing ---

// StubProducer captures messages in memory.
type StubProducer struct {
	mu       sync.Mutex
	messages []Message
	failWith error
}

// NewStubProducer creates an in-memory producer.
func NewStubProducer() *StubProducer {
	return &StubProducer{}
}

// FailWith makes every later publish fail with err. Pass nil to reset.
func (p *StubProducer) FailWith(err error) {
	p.mu.Lock()
	p.failWith = err
	p.mu.Unlock()
}

// Messages returns a copy of the captured messages.
func (p *StubProducer) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Publish implements Producer.
func (p *StubProducer) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.messages = append(p.messages, msg)
	log.Debug().Str("topic", msg.Topic).Int("bytes", len(msg.Value)).Msg("stub: publish")
	return nil
}

// PublishJSON implements Producer.
func (p *StubProducer) PublishJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: data})
}

// Flush implements Producer.
func (p *StubProducer) Flush(time.Duration) int { return 0 }

// Close implements Producer.
func (p *StubProducer) Close() {
	log.Info().Msg("stub: producer closed")
}
