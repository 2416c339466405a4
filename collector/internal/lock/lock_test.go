package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/routerwatch/collector/internal/testutil"
)

func TestKeyed_Exclusive(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	release, ok, err := k.TryLock(ctx, "dev-1")
	if err != nil || !ok {
		t.Fatalf("first TryLock = %v, %v", ok, err)
	}
	if _, ok, _ := k.TryLock(ctx, "dev-1"); ok {
		t.Error("second TryLock on held key succeeded")
	}
	if _, ok, _ := k.TryLock(ctx, "dev-2"); !ok {
		t.Error("TryLock on a different key failed")
	}

	release()
	release()
	if k.Held("dev-1") {
		t.Error("key still held after release")
	}
	if _, ok, _ := k.TryLock(ctx, "dev-1"); !ok {
		t.Error("TryLock after release failed")
	}
}

func TestKeyed_Concurrent(t *testing.T) {
	k := NewKeyed()
	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
		wins    int32
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, ok, _ := k.TryLock(context.Background(), "dev")
			if !ok {
				return
			}
			atomic.AddInt32(&wins, 1)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if wins == 0 {
		t.Error("no goroutine acquired the lock")
	}
}

type mockLocker struct {
	TryLockFunc func(ctx context.Context, key string) (func(), bool, error)
}

func (m *mockLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	return m.TryLockFunc(ctx, key)
}

func TestChain(t *testing.T) {
	tests := []struct {
		name      string
		second    func(ctx context.Context, key string) (func(), bool, error)
		wantOK    bool
		wantErr   bool
		firstHeld bool
	}{
		{
			name:      "both acquire",
			second:    func(context.Context, string) (func(), bool, error) { return func() {}, true, nil },
			wantOK:    true,
			firstHeld: true,
		},
		{
			name:   "second busy releases first",
			second: func(context.Context, string) (func(), bool, error) { return nil, false, nil },
		},
		{
			name:    "second errors releases first",
			second:  func(context.Context, string) (func(), bool, error) { return nil, false, errors.New("redis down") },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := NewKeyed()
			c := Chain{first, &mockLocker{TryLockFunc: tt.second}}

			release, ok, err := c.TryLock(context.Background(), "dev")
			if ok != tt.wantOK || (err != nil) != tt.wantErr {
				t.Fatalf("TryLock = %v, %v", ok, err)
			}
			if first.Held("dev") != tt.firstHeld {
				t.Errorf("first held = %v, want %v", first.Held("dev"), tt.firstHeld)
			}
			if ok {
				release()
				if first.Held("dev") {
					t.Error("first still held after chain release")
				}
			}
		})
	}
}

// TestRedis runs against a real server when ROUTERWATCH_TEST_REDIS_URL is set.
func TestRedis(t *testing.T) {
	url := os.Getenv("ROUTERWATCH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ROUTERWATCH_TEST_REDIS_URL not set")
	}

	r, err := NewRedis(url, 2*time.Second, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	key := "test-" + uuid.New().String()

	release, ok, err := r.TryLock(ctx, key)
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	if _, ok, _ := r.TryLock(ctx, key); ok {
		t.Error("second TryLock succeeded")
	}

	release()
	release2, ok, err := r.TryLock(ctx, key)
	if err != nil || !ok {
		t.Fatalf("TryLock after release = %v, %v", ok, err)
	}
	defer release2()

	// A stale release must not drop the new holder's lock.
	release()
	if _, ok, _ := r.TryLock(ctx, key); ok {
		t.Error("stale release freed another holder's lock")
	}
}
