// Package installlock serializes installations within a process and, when a
// lock file is configured, across processes on the same host.
package installlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const DefaultPoll = 250 * time.Millisecond

type Lock struct {
	sem  chan struct{}
	path string
	// Poll is how often a lock file held by another process is retried.
	Poll time.Duration
}

// New returns a lock guarded additionally by an advisory lock on path. An
// empty path keeps the lock process-local.
func New(path string) *Lock {
	return &Lock{sem: make(chan struct{}, 1), path: path, Poll: DefaultPoll}
}

// Acquire blocks until the lock is held or ctx is done. The returned release
// func is safe to call more than once.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	unlockFile := func() {}
	if l.path != "" {
		u, err := l.lockFile(ctx)
		if err != nil {
			<-l.sem
			return nil, err
		}
		unlockFile = u
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			unlockFile()
			<-l.sem
		})
	}, nil
}

// Busy reports whether an installation in this process holds the lock.
func (l *Lock) Busy() bool { return len(l.sem) > 0 }

func (l *Lock) lockFile(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	poll := l.Poll
	if poll <= 0 {
		poll = DefaultPoll
	}
	for {
		unlock, ok, err := tryFlock(l.path)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", l.path, err)
		}
		if ok {
			return unlock, nil
		}
		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
