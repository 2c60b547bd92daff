package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"bankrails/internal/state"

	"github.com/labstack/gommon/log"
)

// Poller drives the periodic reconciliation pass over every connected token.
// It is a cancellable background task: Start launches it, Stop cancels and
// drains before returning.
type Poller struct {
	engine   *Engine
	interval time.Duration
	timeout  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(e *Engine, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Poller{engine: e, interval: interval, timeout: timeout}
}

func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick refreshes backing and reconciles every connected token. Tokens run in
// parallel; the engine's keyed lock keeps per-token passes serialized with
// any concurrent webhook-triggered runs. Each pass has its own deadline so a
// stuck confirmation cannot wedge the loop; expiry is just a retryable
// failure.
func (p *Poller) tick(ctx context.Context) {
	conns, err := p.engine.stores.Connections.List(ctx)
	if err != nil {
		log.Errorf("[Poller] Listing connections failed: %v", err)
		return
	}

	var wg sync.WaitGroup
	for token, conn := range conns {
		if conn.Status != state.StatusConnected {
			continue
		}
		wg.Add(1)
		go func(token, itemID string) {
			defer wg.Done()

			runCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			if err := p.engine.refreshBacking(runCtx, itemID); err != nil {
				log.Errorf("[Poller] Backing refresh for token %s failed: %v", token, err)
			}
			if err := p.engine.Reconcile(runCtx, token); err != nil && !errors.Is(err, ErrNotConnected) {
				log.Errorf("[Poller] Reconcile for token %s failed: %v", token, err)
			}
		}(token, conn.ItemID)
	}
	wg.Wait()
}
