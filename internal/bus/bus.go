// Package bus propagates "stock changed" notifications between client
// contexts that share a Channel, and to listeners inside the publishing
// context.
//
// Every Bus carries a random origin token. Envelopes read back from the
// channel with the bus's own token are dropped; the publisher already
// delivered them in-process. Without that filter a context would refresh
// twice for each of its own updates.
package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/tomb.v2"

	"github.com/ariefcatur/go-storefront-sync/internal/metrics"
)

var logger = loggo.GetLogger("storefront.bus")

// Change is one write observed on a Channel.
type Change struct {
	Key   string
	Value []byte
}

// Channel is a key/value store shared by every context, with change
// notification. Writes overwrite by key; watchers see every write made
// while they are watching, in per-key FIFO order. Nothing is queued for
// watchers that are not running.
type Channel interface {
	Put(ctx context.Context, key string, value []byte) error
	// Watch streams changes until ctx is done, then closes the channel.
	Watch(ctx context.Context) (<-chan Change, error)
}

// Store is a Channel that also keeps the last value written per key.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// Handler receives envelopes. It runs on the bus goroutine for remote
// envelopes and on the caller's goroutine for local ones.
type Handler func(ctx context.Context, env Envelope)

type Config struct {
	Channel Channel
	Clock   clock.Clock
	Metrics *metrics.Registry
}

func (c Config) Validate() error {
	if c.Channel == nil {
		return errors.NotValidf("nil Channel")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

type Bus struct {
	origin  string
	ch      Channel
	clock   clock.Clock
	metrics *metrics.Registry

	tomb    tomb.Tomb
	started bool

	mu     sync.Mutex
	next   uint64
	remote map[uint64]Handler
	local  map[uint64]Handler
}

func New(cfg Config) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Bus{
		origin:  uuid.NewString(),
		ch:      cfg.Channel,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		remote:  make(map[uint64]Handler),
		local:   make(map[uint64]Handler),
	}, nil
}

// Origin returns the session-unique token stamped on every publish.
func (b *Bus) Origin() string { return b.origin }

// Publish delivers ev to in-process listeners and writes it to the shared
// channel. Empty events are ignored.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.Empty() {
		return nil
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		Timestamp:  b.clock.Now().UTC(),
		Origin:     b.origin,
		All:        ev.All,
		ProductIDs: ev.ProductIDs,
	}
	if env.All {
		env.ProductIDs = nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Annotate(err, "encode envelope")
	}

	for _, h := range b.handlers(b.local) {
		h(ctx, env)
	}

	if err := b.ch.Put(ctx, ev.Key(), data); err != nil {
		return errors.Annotatef(err, "publish %s", ev.Key())
	}
	b.metrics.IncPublished()
	logger.Debugf("published %s all=%v products=%v", ev.Key(), env.All, env.ProductIDs)
	return nil
}

// Last returns the newest envelope any context has written, read from the
// channel's stored values. ok is false when nothing was written or the
// channel keeps no values.
func (b *Bus) Last(ctx context.Context) (env Envelope, ok bool, err error) {
	st, isStore := b.ch.(Store)
	if !isStore {
		return Envelope{}, false, nil
	}
	for _, key := range []string{KeyAll, KeyOne, KeyMany} {
		raw, found, err := st.Get(ctx, key)
		if err != nil {
			return Envelope{}, false, errors.Annotatef(err, "read %s", key)
		}
		if !found {
			continue
		}
		var e Envelope
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.Debugf("skipping undecodable %s value: %v", key, err)
			continue
		}
		if !ok || e.Timestamp.After(env.Timestamp) {
			env, ok = e, true
		}
	}
	return env, ok, nil
}

// Subscribe registers h for envelopes written by other contexts.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	return b.add(b.remote, h)
}

// OnLocal registers h for envelopes this bus publishes itself.
func (b *Bus) OnLocal(h Handler) (unsubscribe func()) {
	return b.add(b.local, h)
}

func (b *Bus) add(set map[uint64]Handler, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	set[id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(set, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) handlers(set map[uint64]Handler) []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Handler, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}

// Start begins watching the shared channel.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("bus already started")
	}
	changes, err := b.ch.Watch(b.tomb.Context(nil))
	if err != nil {
		return errors.Annotate(err, "watch channel")
	}
	b.started = true
	b.tomb.Go(func() error { return b.loop(changes) })
	return nil
}

// Stop ends the watch and waits for the bus goroutine to exit.
func (b *Bus) Stop() error {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	b.tomb.Kill(nil)
	if !started {
		return nil
	}
	return b.tomb.Wait()
}

func (b *Bus) loop(changes <-chan Change) error {
	ctx := b.tomb.Context(nil)
	for {
		select {
		case <-b.tomb.Dying():
			return nil
		case ch, ok := <-changes:
			if !ok {
				select {
				case <-b.tomb.Dying():
					return nil
				default:
					return errors.New("channel watch closed")
				}
			}
			b.receive(ctx, ch)
		}
	}
}

func (b *Bus) receive(ctx context.Context, ch Change) {
	if !IsKey(ch.Key) {
		return
	}
	var env Envelope
	if err := json.Unmarshal(ch.Value, &env); err != nil {
		b.metrics.IncUndecodable()
		logger.Warningf("dropping undecodable %s envelope: %v", ch.Key, err)
		return
	}
	if env.Origin == b.origin {
		b.metrics.IncEchoDropped()
		logger.Tracef("dropping own echo %s", env.EventID)
		return
	}
	b.metrics.IncReceived()
	for _, h := range b.handlers(b.remote) {
		h(ctx, env)
	}
}
