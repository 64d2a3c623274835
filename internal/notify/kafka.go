package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"github.com/marcus/fieldsync/internal/engine"
)

const publisherQueueSize = 256

// KafkaConfig configures the run event publisher. Brokers empty disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Acks is the number of required acknowledgements (-1 all, 0 none, 1 leader).
	Acks int
}

// Enabled reports whether publishing is configured.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher asynchronously publishes run events to Kafka, keyed by run id so
// that the events of one run stay on one partition.
type Publisher struct {
	cfg    KafkaConfig
	log    *slog.Logger
	writer messageWriter
	queue  chan kafka.Message

	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewPublisher builds a publisher backed by a kafka.Writer.
func NewPublisher(cfg KafkaConfig, log *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
	}
	return newPublisherWithWriter(cfg, log, w), nil
}

func newPublisherWithWriter(cfg KafkaConfig, log *slog.Logger, w messageWriter) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		log:    log.With("component", "kafka_publisher", "topic", cfg.Topic),
		writer: w,
		queue:  make(chan kafka.Message, publisherQueueSize),
	}
}

// Start launches the delivery loop.
func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.runCtx, p.cancel = context.WithCancel(ctx)
		p.started.Store(true)
		p.wg.Add(1)
		go p.run()
		p.log.Info("publisher started")
	})
}

// Stop drains queued events and closes the writer.
func (p *Publisher) Stop(ctx context.Context) error {
	var stopErr error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if err := p.writer.Close(); err != nil {
			p.log.Error("close writer", "err", err)
		}
		p.log.Info("publisher stopped", "published", p.published.Load(), "failed", p.failed.Load())
	})
	return stopErr
}

// Notify implements engine.Notifier. It never blocks; events are dropped
// when the queue is full or the publisher is not running.
func (p *Publisher) Notify(_ context.Context, ev engine.Event) {
	if !p.started.Load() {
		return
	}
	value, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("encode event", "err", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(eventKey(ev)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		p.log.Warn("publish queue full, dropping event", "type", ev.Type, "run_id", ev.RunID)
	}
}

func eventKey(ev engine.Event) string {
	if ev.RunID != "" {
		return ev.RunID
	}
	return ev.Type
}

// Stats returns delivered, failed and dropped counts.
func (p *Publisher) Stats() (published, failed, dropped int64) {
	return p.published.Load(), p.failed.Load(), p.dropped.Load()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.runCtx.Done():
			p.drain()
			p.started.Store(false)
			return
		case msg := <-p.queue:
			p.deliver(p.runCtx, msg)
		}
	}
}

// drain delivers what is left in the queue after Stop, without the
// cancelled run context.
func (p *Publisher) drain() {
	for {
		select {
		case msg := <-p.queue:
			p.deliver(context.Background(), msg)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, msg kafka.Message) {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		p.log.Error("publish event", "err", err, "key", string(msg.Key))
		return
	}
	p.published.Add(1)
}

// String describes the publisher target.
func (p *Publisher) String() string {
	return fmt.Sprintf("kafka://%s/%s", strings.Join(p.cfg.Brokers, ","), p.cfg.Topic)
}
