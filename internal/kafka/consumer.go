package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message is done with and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type ConsumerConfig struct {
	Brokers []string
	Group   string
	Topic   string
	Workers int
	// StartOffset applies when the group has no committed offset:
	// kafka.FirstOffset or kafka.LastOffset.
	StartOffset int64
}

type Consumer struct {
	r       *kafka.Reader
	workers int
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	start := cfg.StartOffset
	if start == 0 {
		start = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.Group,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        250 * time.Millisecond,
		StartOffset:    start,
		CommitInterval: 0, // manual commit
	})
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers}
}

// Start reads until ctx is done, then waits for the workers to finish and
// closes the reader. With more than one worker, messages are handled out
// of order.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	topic := c.r.Config().Topic
	jobs := make(chan kafka.Message, 1024)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				if err := h(ctx, m); err != nil {
					if ctx.Err() == nil {
						logger.Warningf("handling %s offset %d: %v", topic, m.Offset, err)
					}
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					logger.Warningf("commit %s offset %d: %v", topic, m.Offset, err)
				}
			}
		}()
	}
	stop := func() {
		close(jobs)
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return errors.Annotatef(err, "read %s", topic)
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}
