package memory

import (
	"context"
	"sync"
	"time"
)

// EmailLocker is a keyed mutex for single-process deployments. Waiting
// callers give up when ctx is done; ttl is ignored since holders cannot die
// without the process.
type EmailLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewEmailLocker() *EmailLocker {
	return &EmailLocker{slots: make(map[string]*slot)}
}

func (l *EmailLocker) Lock(ctx context.Context, email string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[email]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[email] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(email, s, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(email, s, true) })
	}, nil
}

func (l *EmailLocker) release(email string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, email)
	}
}
