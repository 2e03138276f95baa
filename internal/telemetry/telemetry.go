// Package telemetry publishes frame-access events to Kafka for offline
// analysis of scrub patterns and cache behavior. Publishing is lossy:
// the request path never blocks on a full queue or a slow broker.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/ckhsu/vvmviz/internal/frame"
)

type Event struct {
	Simulation string    `json:"simulation"`
	Variable   string    `json:"variable"`
	TimeIndex  int       `json:"time_index"`
	Level      int32     `json:"level"`
	Outcome    string    `json:"outcome"` // hit | miss | coalesced
	KeyDigest  uint64    `json:"key_digest"`
	DurationMS float64   `json:"duration_ms"`
	TS         time.Time `json:"ts"`
}

// FromKey fills the key-derived fields of an event.
func FromKey(key frame.SliceKey, sim, outcome string, d time.Duration) Event {
	return Event{
		Simulation: sim,
		Variable:   key.Variable,
		TimeIndex:  key.TimeIndex,
		Level:      key.Level,
		Outcome:    outcome,
		KeyDigest:  key.Digest(),
		DurationMS: float64(d) / float64(time.Millisecond),
		TS:         time.Now().UTC(),
	}
}

type Publisher struct {
	topic   string
	logger  *slog.Logger
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create async producer: %w", err)
	}

	p := &Publisher{
		topic:   topic,
		logger:  logger,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("telemetry marshal error", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("telemetry producer error", "err", err)
			}
		}
	}()

	return p, nil
}

func (p *Publisher) Publish(ev Event) {
	select {
	case p.events <- ev:
	default:
		// queue full → drop silently (do NOT block request path)
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("telemetry: close producer: %w", err)
	}
	return nil
}

var global *Publisher

func InitGlobal(p *Publisher) {
	global = p
}

func Publish(ev Event) {
	if global == nil {
		return
	}
	global.Publish(ev)
}

func CloseGlobal() error {
	if global == nil {
		return nil
	}
	return global.Close()
}
