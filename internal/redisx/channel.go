package redisx

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-storefront-sync/internal/bus"
)

var logger = loggo.GetLogger("storefront.redisx")

// Channel is a bus.Channel on Redis. Each write SETs the last value for
// its key and PUBLISHes the key and value together, so watchers never read
// a value newer than the notification they got.
type Channel struct {
	rdb       *redis.Client
	namespace string
}

func NewChannel(rdb *redis.Client, namespace string) *Channel {
	return &Channel{rdb: rdb, namespace: namespace}
}

func (c *Channel) valueKey(key string) string { return fmt.Sprintf(KeyStockChange, c.namespace, key) }

func (c *Channel) notifyKey() string { return fmt.Sprintf(KeyStockNotify, c.namespace) }

func (c *Channel) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, c.valueKey(key), value, TTLStockChange)
		p.Publish(ctx, c.notifyKey(), encodeChange(key, value))
		return nil
	})
	return errors.Annotatef(err, "put %s", key)
}

// Get returns the last value written under key.
func (c *Channel) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, c.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Annotatef(err, "get %s", key)
	}
	return b, true, nil
}

// Watch subscribes to the notify channel. It returns once the subscription
// is confirmed, so no write made after Watch returns is missed.
func (c *Channel) Watch(ctx context.Context) (<-chan bus.Change, error) {
	sub := c.rdb.Subscribe(ctx, c.notifyKey())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.Annotatef(err, "subscribe %s", c.notifyKey())
	}
	msgs := sub.Channel()
	out := make(chan bus.Change)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				ch, err := decodeChange(m.Payload)
				if err != nil {
					logger.Warningf("skipping message on %s: %v", m.Channel, err)
					continue
				}
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Keys never contain a newline; values may.
func encodeChange(key string, value []byte) string {
	return key + "\n" + string(value)
}

func decodeChange(payload string) (bus.Change, error) {
	key, value, ok := strings.Cut(payload, "\n")
	if !ok || key == "" {
		return bus.Change{}, errors.NotValidf("payload without key")
	}
	return bus.Change{Key: key, Value: []byte(value)}, nil
}
