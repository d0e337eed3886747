package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalPlatform delivers notifications in-process using timers.
type LocalPlatform struct {
	grant   func(ctx context.Context) (bool, error)
	deliver func(Delivery)
	clock   func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewLocalPlatform grants permission when grant is nil.
func NewLocalPlatform(grant func(ctx context.Context) (bool, error), deliver func(Delivery)) *LocalPlatform {
	if grant == nil {
		grant = func(context.Context) (bool, error) { return true, nil }
	}
	if deliver == nil {
		deliver = func(Delivery) {}
	}
	return &LocalPlatform{
		grant:   grant,
		deliver: deliver,
		clock:   time.Now,
		timers:  map[string]*time.Timer{},
	}
}

func (p *LocalPlatform) RequestPermission(ctx context.Context) (bool, error) {
	return p.grant(ctx)
}

func (p *LocalPlatform) Present(_ context.Context, n Notification) (string, error) {
	id := uuid.NewString()
	p.deliver(Delivery{ID: id, Notification: n, At: p.clock()})
	return id, nil
}

func (p *LocalPlatform) Schedule(_ context.Context, n Notification, at time.Time) (string, error) {
	id := uuid.NewString()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timers[id] = time.AfterFunc(time.Until(at), func() {
		p.mu.Lock()
		_, pending := p.timers[id]
		delete(p.timers, id)
		p.mu.Unlock()
		if pending {
			p.deliver(Delivery{ID: id, Notification: n, At: at})
		}
	})
	return id, nil
}

func (p *LocalPlatform) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	timer, ok := p.timers[id]
	if !ok {
		return ErrUnknownNotification
	}
	timer.Stop()
	delete(p.timers, id)
	return nil
}

func (p *LocalPlatform) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Close stops every pending timer.
func (p *LocalPlatform) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, timer := range p.timers {
		timer.Stop()
		delete(p.timers, id)
	}
}
