// Package queue adapts the bid pipeline's AMQP-flavored work-queue
// contract (exchange, routing key, per-message TTL, dead-letter
// exchange, prefetch, ack/nack-without-requeue) onto a Kafka
// transport, following the mapping recorded in SPEC_FULL.md §11.1:
// topic = exchange+routing-key, a published_at header stands in for
// per-message TTL, "<topic>.dlq" stands in for the dead-letter
// exchange, and manual offset commits stand in for ack/nack.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
)

// Well-known topics. TopicPrefix from config is prepended by
// Adapter.Topic so a single cluster can host several environments.
const (
	TopicAuctionEvents = "auction-events"
	TopicNotifications = "notifications"
	TopicAudit         = "audit"
)

const publishedAtHeader = "published_at"

// Message is a single unit of work delivered to a Consume handler.
type Message struct {
	Topic       string
	Key         []byte
	Value       []byte
	PublishedAt time.Time
}

// Handler processes one Message. Returning an error nacks the message
// (it is still committed, so the partition does not replay it, then
// republished onto the topic's dead-letter topic).
type Handler func(ctx context.Context, msg Message) error

// Adapter is the Queue Adapter: a thin, topic-routed wrapper around a
// single franz-go client used for both producing and consuming.
type Adapter struct {
	client *kgo.Client
	cfg    config.QueueConfig
	logger *zap.Logger
}

// New dials the configured brokers and returns an Adapter. It returns
// a nil Adapter with no error when the queue is disabled, so callers
// can wire bid-pipeline events unconditionally and no-op when unset.
func New(cfg config.QueueConfig, logger *zap.Logger) (*Adapter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("queue: at least one broker is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.DisableAutoCommit(),
	}
	if cfg.MaxConcurrentFetch > 0 {
		opts = append(opts, kgo.MaxConcurrentFetches(cfg.MaxConcurrentFetch))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("queue: create client: %w", err)
	}

	return &Adapter{client: client, cfg: cfg, logger: logger}, nil
}

// Topic applies the configured prefix to a well-known topic name.
func (a *Adapter) Topic(name string) string {
	if a.cfg.TopicPrefix == "" {
		return name
	}
	return a.cfg.TopicPrefix + "." + name
}

func deadLetterTopic(topic string) string {
	return topic + ".dlq"
}

// Publish sends one message keyed by key (the auction or identity id,
// the nearest analogue of an AMQP routing key), stamping the
// published_at header used for TTL enforcement on consume.
func (a *Adapter) Publish(ctx context.Context, topic string, key, value []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: publishedAtHeader, Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
		},
	}
	result := a.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("queue: publish to %s: %w", topic, err)
	}
	return nil
}

// publishDeadLetter republishes value onto topic's dead-letter topic,
// tagging it with the reason it was rejected.
func (a *Adapter) publishDeadLetter(ctx context.Context, topic string, key, value []byte, reason string) error {
	record := &kgo.Record{
		Topic: deadLetterTopic(topic),
		Key:   key,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "dead_letter_reason", Value: []byte(reason)},
			{Key: "original_topic", Value: []byte(topic)},
		},
	}
	result := a.client.ProduceSync(ctx, record)
	return result.FirstErr()
}

// Consume polls topics in a loop until ctx is cancelled, dispatching
// each record to handler. A record whose published_at header is older
// than MessageTTL is dead-lettered without ever reaching handler. A
// handler error also dead-letters the record (nack-without-requeue);
// either way the offset is committed so the partition never replays
// the record.
func (a *Adapter) Consume(ctx context.Context, topics []string, handler Handler) error {
	prefixed := make([]string, len(topics))
	for i, t := range topics {
		prefixed[i] = a.Topic(t)
	}
	a.client.AddConsumeTopics(prefixed...)

	for {
		fetches := a.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			a.logger.Error("queue: fetch error", zap.String("topic", topic), zap.Int32("partition", partition), zap.Error(err))
		})

		fetches.EachRecord(func(record *kgo.Record) {
			a.handleRecord(ctx, record, handler)
		})

		if err := a.client.CommitUncommittedOffsets(ctx); err != nil {
			a.logger.Error("queue: commit offsets failed", zap.Error(err))
		}
	}
}

func (a *Adapter) handleRecord(ctx context.Context, record *kgo.Record, handler Handler) {
	msg := Message{Topic: record.Topic, Key: record.Key, Value: record.Value}
	msg.PublishedAt = publishedAtFromHeaders(record.Headers)

	if !msg.PublishedAt.IsZero() && a.cfg.MessageTTL > 0 && time.Since(msg.PublishedAt) > a.cfg.MessageTTL {
		if err := a.publishDeadLetter(ctx, record.Topic, record.Key, record.Value, "ttl_expired"); err != nil {
			a.logger.Error("queue: dead-letter (ttl) failed", zap.String("topic", record.Topic), zap.Error(err))
		}
		return
	}

	if err := handler(ctx, msg); err != nil {
		a.logger.Warn("queue: handler failed, dead-lettering", zap.String("topic", record.Topic), zap.Error(err))
		if dlErr := a.publishDeadLetter(ctx, record.Topic, record.Key, record.Value, err.Error()); dlErr != nil {
			a.logger.Error("queue: dead-letter (handler error) failed", zap.String("topic", record.Topic), zap.Error(dlErr))
		}
	}
}

func publishedAtFromHeaders(headers []kgo.RecordHeader) time.Time {
	for _, h := range headers {
		if h.Key == publishedAtHeader {
			t, err := time.Parse(time.RFC3339Nano, string(h.Value))
			if err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// Health reports whether the queue's brokers are reachable.
func (a *Adapter) Health(ctx context.Context) error {
	if a == nil || a.client == nil {
		return errors.New("queue: adapter not configured")
	}
	return a.client.Ping(ctx)
}

// Close releases the underlying client's connections.
func (a *Adapter) Close() {
	if a == nil || a.client == nil {
		return
	}
	a.client.Close()
}
