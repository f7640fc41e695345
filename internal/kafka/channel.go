package kafka

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-storefront-sync/internal/bus"
)

var logger = loggo.GetLogger("storefront.kafka")

type ChannelConfig struct {
	Brokers []string
	Topic   string
	// GroupPrefix names the consumer groups; each Watch joins a fresh
	// group so every context sees every write.
	GroupPrefix string
}

func (c ChannelConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.NotValidf("empty Brokers")
	}
	if c.Topic == "" {
		return errors.NotValidf("empty Topic")
	}
	return nil
}

// Channel is a bus.Channel on one Kafka topic. Watchers start from the
// latest offset: nothing written before a context opened is replayed.
type Channel struct {
	cfg      ChannelConfig
	producer *Producer
}

// NewChannel starts a producer that lives until ctx is done or Close is
// called.
func NewChannel(ctx context.Context, cfg ChannelConfig) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = "storefront"
	}
	p := NewProducer(cfg.Brokers, cfg.Topic, 256)
	p.Start(ctx)
	return &Channel{cfg: cfg, producer: p}, nil
}

func (c *Channel) Put(ctx context.Context, key string, value []byte) error {
	k, v, headers := changeMessage(bus.Change{Key: key, Value: value})
	return errors.Annotatef(c.producer.Publish(ctx, k, v, headers...), "put %s", key)
}

func (c *Channel) Watch(ctx context.Context) (<-chan bus.Change, error) {
	group := c.cfg.GroupPrefix + "-" + uuid.NewString()
	consumer := NewConsumer(ConsumerConfig{
		Brokers:     c.cfg.Brokers,
		Group:       group,
		Topic:       c.cfg.Topic,
		Workers:     1,
		StartOffset: kafka.LastOffset,
	})
	out := make(chan bus.Change)
	go func() {
		defer close(out)
		err := consumer.Start(ctx, func(ctx context.Context, m kafka.Message) error {
			ch, ok := changeOf(m)
			if !ok {
				logger.Warningf("skipping message without key at offset %d", m.Offset)
				return nil
			}
			select {
			case out <- ch:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			logger.Warningf("watch %s as %s: %v", c.cfg.Topic, group, err)
		}
	}()
	return out, nil
}

// Close flushes queued writes.
func (c *Channel) Close() {
	c.producer.Close()
	c.producer.WaitClosed()
}
