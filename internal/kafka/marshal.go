package kafka

import (
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-storefront-sync/internal/bus"
)

const headerContentType = "content-type"

// changeMessage keys the message by channel key, so every write to one
// key lands on one partition and keeps its order.
func changeMessage(ch bus.Change) (key, value []byte, headers []kafka.Header) {
	return []byte(ch.Key), ch.Value, []kafka.Header{{Key: headerContentType, Value: []byte("application/json")}}
}

func changeOf(m kafka.Message) (bus.Change, bool) {
	if len(m.Key) == 0 {
		return bus.Change{}, false
	}
	return bus.Change{Key: string(m.Key), Value: m.Value}, true
}
