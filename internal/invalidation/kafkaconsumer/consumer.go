// Package kafkaconsumer subscribes to dataset-update events and
// translates them into cache invalidations.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/ckhsu/vvmviz/internal/invalidation"
	mylog "github.com/ckhsu/vvmviz/internal/logger"
	"github.com/ckhsu/vvmviz/internal/observability"
)

// Target is the cache side of an invalidation: the coordinator bound
// to the active simulation.
type Target interface {
	Simulation() string
	Invalidate(reason string)
}

// CatalogPurger drops cached dataset handles and catalogs so the next
// request re-scans the archive. Appends only need this; the processed
// frames for existing time steps stay valid.
type CatalogPurger interface {
	Purge()
}

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	target   Target
	catalogs CatalogPurger
	zlog     *zerolog.Logger
	ready    atomic.Bool
}

func New(cfg Config, logger *slog.Logger, target Target, catalogs CatalogPurger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:      cfg,
		logger:   logger,
		target:   target,
		catalogs: catalogs,
	}
}

// Ready reports whether the consumer has joined its group and holds
// claims. Wired into the readiness probe.
func (c *Consumer) Ready() bool { return c.ready.Load() }

// Start runs the consume loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("kafkaconsumer: missing invalidation target")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	zl := mylog.Build(mylog.Config{
		Level:     "info",
		Component: "kafka_consumer",
	}, nil)
	c.zlog = mylog.FromContext(base, &zl)

	handler := &groupHandler{
		process: c.ProcessOne,
		joined:  func(ok bool) { c.ready.Store(ok) },
	}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.ready.Store(false)
				c.logger.Error("consumer error", "err", err)
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single dataset-update message. Decode and
// validation failures are returned so the claim loop surfaces them;
// events for other simulations are acknowledged and skipped.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		mylog.FromContext(ctx, c.zlog).Error().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	active := c.target.Simulation()
	if ev.Simulation != active {
		c.logger.Debug("dataset update for inactive simulation, skipping",
			"simulation", ev.Simulation, "active", active)
		return nil
	}

	switch ev.Op {
	case invalidation.OpRewrite:
		c.target.Invalidate("dataset-rewrite")
	case invalidation.OpAppend:
		// New time steps only; keep processed frames, rescan the catalog.
		if c.catalogs != nil {
			c.catalogs.Purge()
		}
		observability.IncInvalidation("dataset-append")
	}

	c.logger.Info("dataset update applied", "simulation", ev.Simulation, "op", ev.Op)
	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).Str("simulation", ev.Simulation).
		Msg("dataset update applied")

	return nil
}
