package worker

import (
	"context"
	"errors"
	"time"

	"fintelligence/internal/models"
)

// ErrDispatcherBusy is returned when no worker slot frees up in time.
var ErrDispatcherBusy = errors.New("dispatcher busy")

// Completer is the call the pool bounds.
type Completer interface {
	Complete(ctx context.Context, messages []*models.Message, format models.OutputFormat) (string, error)
}

// Pool caps concurrent completion calls. Callers wait up to queueTimeout for
// a slot, then give up with ErrDispatcherBusy.
type Pool struct {
	next         Completer
	slots        chan struct{}
	queueTimeout time.Duration
}

func NewPool(next Completer, maxWorkers int, queueTimeout time.Duration) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Pool{
		next:         next,
		slots:        make(chan struct{}, maxWorkers),
		queueTimeout: queueTimeout,
	}
}

func (p *Pool) Complete(ctx context.Context, messages []*models.Message, format models.OutputFormat) (string, error) {
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.release()
	return p.next.Complete(ctx, messages, format)
}

// InFlight reports how many calls currently hold a slot.
func (p *Pool) InFlight() int {
	return len(p.slots)
}

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}
	if p.queueTimeout <= 0 {
		return ErrDispatcherBusy
	}
	timer := time.NewTimer(p.queueTimeout)
	defer timer.Stop()
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrDispatcherBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release() {
	<-p.slots
}
