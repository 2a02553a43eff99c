package erp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// Gate admits outbound requests. Wait blocks until the caller may send one
// request, or fails with an error that must be returned to the caller unsent.
// Used reports how many requests were admitted in the current UTC day.
type Gate interface {
	Wait(ctx context.Context) error
	Used(ctx context.Context) (int, error)
}

var errDailyBudgetSpent = errors.New("daily request budget spent")

var _ Gate = (*Pacer)(nil)

// Pacer is the in-process Gate. It releases at most one request per interval
// across every goroutine sharing it and caps the number of requests per UTC day.
type Pacer struct {
	interval   time.Duration
	dailyLimit int // Zero disables the daily cap.

	// slot serializes callers; a channel instead of a mutex so waiting honours ctx.
	slot chan struct{}

	mu       sync.Mutex
	last     time.Time
	day      string
	dayCount int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a Pacer with the given minimum interval and daily limit.
func NewPacer(interval time.Duration, dailyLimit int) *Pacer {
	return &Pacer{
		interval:   interval,
		dailyLimit: dailyLimit,
		slot:       make(chan struct{}, 1),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Wait blocks until at least interval has passed since the previous request
// was released.
func (p *Pacer) Wait(ctx context.Context) error {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slot }()

	if err := p.spend(); err != nil {
		return err
	}

	p.mu.Lock()
	wait := p.interval - p.now().Sub(p.last)
	p.mu.Unlock()

	if wait > 0 {
		if err := p.sleep(ctx, wait); err != nil {
			p.refund()
			return err
		}
	}

	p.mu.Lock()
	p.last = p.now()
	p.mu.Unlock()

	return nil
}

// Used returns how many requests were released today (UTC).
func (p *Pacer) Used(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.day != p.now().UTC().Format(time.DateOnly) {
		return 0, nil
	}
	return p.dayCount, nil
}

func (p *Pacer) spend() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	today := p.now().UTC().Format(time.DateOnly)
	if today != p.day {
		p.day = today
		p.dayCount = 0
	}

	if p.dailyLimit > 0 && p.dayCount >= p.dailyLimit {
		return &driven.APIError{Kind: driven.ErrRateLimited, Err: errDailyBudgetSpent}
	}

	p.dayCount++
	return nil
}

func (p *Pacer) refund() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dayCount > 0 {
		p.dayCount--
	}
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
