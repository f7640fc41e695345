package redisx

import (
	"context"
	"os"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"

	"github.com/ariefcatur/go-storefront-sync/internal/bus"
)

func TestChangeCodec(t *testing.T) {
	c := qt.New(t)
	ch, err := decodeChange(encodeChange(bus.KeyOne, []byte("{\"a\":\n1}")))
	c.Assert(err, qt.IsNil)
	c.Assert(ch, qt.DeepEquals, bus.Change{Key: bus.KeyOne, Value: []byte("{\"a\":\n1}")})

	_, err = decodeChange("no separator")
	c.Assert(err, qt.ErrorMatches, "payload without key not valid")
	_, err = decodeChange("\nvalue")
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestChannel(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c := qt.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb := New(addr)
	defer rdb.Close()
	c.Assert(Ping(ctx, rdb), qt.IsNil)

	ns := "test-" + uuid.NewString()
	writer := NewChannel(rdb, ns)
	watcher := NewChannel(rdb, ns)

	watchCtx, stop := context.WithCancel(ctx)
	changes, err := watcher.Watch(watchCtx)
	c.Assert(err, qt.IsNil)

	c.Assert(writer.Put(ctx, bus.KeyAll, []byte(`{"all":true}`)), qt.IsNil)
	select {
	case got := <-changes:
		c.Assert(got, qt.DeepEquals, bus.Change{Key: bus.KeyAll, Value: []byte(`{"all":true}`)})
	case <-ctx.Done():
		c.Fatalf("no change received")
	}

	v, ok, err := watcher.Get(ctx, bus.KeyAll)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(string(v), qt.Equals, `{"all":true}`)
	n, err := rdb.Exists(ctx, writer.valueKey(bus.KeyAll)).Result()
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(1))

	_, ok, err = watcher.Get(ctx, bus.KeyMany)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	stop()
	for range changes {
	}
}
