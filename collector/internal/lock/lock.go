// Package lock provides per-device mutual exclusion for collection cycles.
//
// A cycle must hold its device's lock for its whole duration. Acquisition
// never blocks: a busy device is skipped, not queued.
package lock

import (
	"context"
	"sync"
)

// Locker acquires named locks without waiting.
type Locker interface {
	// TryLock returns ok=false when key is already held. The returned
	// release function is safe to call more than once.
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Keyed is an in-process Locker.
type Keyed struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyed creates an empty in-process locker.
func NewKeyed() *Keyed {
	return &Keyed{held: make(map[string]struct{})}
}

func (k *Keyed) TryLock(_ context.Context, key string) (func(), bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, busy := k.held[key]; busy {
		return nil, false, nil
	}
	k.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, key)
			k.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently locked.
func (k *Keyed) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.held[key]
	return ok
}

// Chain acquires every locker in order and releases in reverse. If a later
// locker refuses or fails, the earlier ones are released.
type Chain []Locker

func (c Chain) TryLock(ctx context.Context, key string) (func(), bool, error) {
	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, l := range c {
		release, ok, err := l.TryLock(ctx, key)
		if err != nil || !ok {
			releaseAll()
			return nil, false, err
		}
		releases = append(releases, release)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, true, nil
}
