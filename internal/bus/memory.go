package bus

import (
	"context"
	"sync"
)

// MemoryChannel is a Channel shared by contexts living in one process.
// Unlike browser storage events, watchers also see their own writes; Bus
// drops those by origin token.
type MemoryChannel struct {
	mu       sync.Mutex
	values   map[string][]byte
	watchers map[*memWatcher]struct{}
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		values:   make(map[string][]byte),
		watchers: make(map[*memWatcher]struct{}),
	}
}

func (m *MemoryChannel) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := append([]byte(nil), value...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = v
	for w := range m.watchers {
		w.push(Change{Key: key, Value: v})
	}
	return nil
}

// Get returns the last value written under key.
func (m *MemoryChannel) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryChannel) Watch(ctx context.Context) (<-chan Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &memWatcher{
		wake: make(chan struct{}, 1),
		out:  make(chan Change),
	}
	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	go w.pump(ctx, func() {
		m.mu.Lock()
		delete(m.watchers, w)
		m.mu.Unlock()
	})
	return w.out, nil
}

// memWatcher buffers changes without bound so Put never blocks on a slow
// reader.
type memWatcher struct {
	mu    sync.Mutex
	queue []Change
	wake  chan struct{}
	out   chan Change
}

func (w *memWatcher) push(c Change) {
	w.mu.Lock()
	w.queue = append(w.queue, c)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *memWatcher) pop() (Change, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return Change{}, false
	}
	c := w.queue[0]
	w.queue = w.queue[1:]
	return c, true
}

func (w *memWatcher) pump(ctx context.Context, done func()) {
	defer close(w.out)
	defer done()
	for {
		c, ok := w.pop()
		if !ok {
			select {
			case <-w.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case w.out <- c:
		case <-ctx.Done():
			return
		}
	}
}
