// Package browser leases isolated browsers from a Launcher under a hard cap
// on concurrent instances.
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Pool bounds how many browsers run at once. Each Acquire launches a fresh
// browser; closing the returned Handle frees the slot.
type Pool struct {
	launcher scrape.Launcher
	slots    chan struct{}
	logger   *zap.Logger

	closeMu sync.RWMutex
	closed  bool
	inUse   atomic.Int32
}

// NewPool constructs a Pool allowing maxInstances concurrent browsers.
func NewPool(launcher scrape.Launcher, maxInstances int, logger *zap.Logger) (*Pool, error) {
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if maxInstances <= 0 {
		return nil, fmt.Errorf("max instances must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		launcher: launcher,
		slots:    make(chan struct{}, maxInstances),
		logger:   logger,
	}, nil
}

// Acquire waits for a free slot and launches a browser for owner. owner is a
// label (worker or session name) carried into logs.
func (p *Pool) Acquire(ctx context.Context, owner string) (*Handle, error) {
	p.closeMu.RLock()
	closed := p.closed
	p.closeMu.RUnlock()
	if closed {
		return nil, scrape.ErrPoolClosed
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}

	start := time.Now()
	b, err := p.launcher.Launch(ctx)
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	p.inUse.Add(1)
	p.logger.Debug("browser acquired",
		zap.String("owner", owner),
		zap.Duration("launch", time.Since(start)),
		zap.Int32("in_use", p.inUse.Load()),
	)
	return newHandle(b, owner, func() {
		p.inUse.Add(-1)
		<-p.slots
		p.logger.Debug("browser released", zap.String("owner", owner))
	}), nil
}

// InUse returns the number of live handles.
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// Close rejects further acquisitions. Live handles stay valid until closed.
func (p *Pool) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	p.closed = true
}
