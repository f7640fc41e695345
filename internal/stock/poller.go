package stock

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"
)

// Poller bounds staleness by running a quiet full refresh on a fixed
// interval. Its timer lives only between Start and Stop.
type Poller struct {
	tomb     tomb.Tomb
	started  sync.Once
	running  bool
	clock    clock.Clock
	interval time.Duration
	refresh  func(ctx context.Context) error
}

func NewPoller(c *Cache, clk clock.Clock, interval time.Duration) (*Poller, error) {
	if c == nil {
		return nil, errors.NotValidf("nil Cache")
	}
	if clk == nil {
		return nil, errors.NotValidf("nil Clock")
	}
	if interval <= 0 {
		return nil, errors.NotValidf("interval %v", interval)
	}
	return &Poller{
		clock:    clk,
		interval: interval,
		refresh:  func(ctx context.Context) error { return c.refreshAll(ctx, true) },
	}, nil
}

func (p *Poller) Start() {
	p.started.Do(func() {
		p.running = true
		p.tomb.Go(p.loop)
	})
}

// Stop cancels the timer and any refresh in progress and waits for the
// loop to exit.
func (p *Poller) Stop() error {
	p.started.Do(func() {})
	p.tomb.Kill(nil)
	if !p.running {
		return nil
	}
	return p.tomb.Wait()
}

func (p *Poller) loop() error {
	ctx := p.tomb.Context(nil)
	for {
		select {
		case <-p.tomb.Dying():
			return nil
		case <-p.clock.After(p.interval):
			if err := p.refresh(ctx); err != nil {
				logger.Warningf("periodic stock refresh: %v", err)
			}
		}
	}
}
