package coverage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	lockKeyPrefix   = "rvcampaign:lock:merge:"
	defaultLockTTL  = 30 * time.Minute
	defaultLockWait = 10 * time.Second
	lockPollEvery   = 200 * time.Millisecond
)

// Locker is a distributed lock, satisfied by the redis cache.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// leaseExtender is implemented by lockers whose locks can be refreshed while
// a long merge is still running.
type leaseExtender interface {
	ExtendLock(ctx context.Context, key string, ttl time.Duration) error
}

// pathLocks serializes merges that write the same output directory inside
// one process.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (p *pathLocks) get(path string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locks == nil {
		p.locks = make(map[string]*sync.Mutex)
	}
	m, ok := p.locks[path]
	if !ok {
		m = &sync.Mutex{}
		p.locks[path] = m
	}
	return m
}

// LockKey is the distributed lock key guarding merges into outDir.
func LockKey(outDir string) string {
	sum := sha1.Sum([]byte(outDir))
	return lockKeyPrefix + hex.EncodeToString(sum[:])
}

// acquire takes the process-local lock for outDir and, when a distributed
// locker is configured, the fleet-wide one. The returned context is
// canceled with a LockFailed cause if the fleet lock's lease is lost.
func (e *Engine) acquire(ctx context.Context, outDir string) (context.Context, func(), error) {
	local := e.locks.get(outDir)
	local.Lock()
	if e.locker == nil {
		return ctx, local.Unlock, nil
	}

	key := LockKey(outDir)
	deadline := time.Now().Add(e.lockWait)
	for {
		ok, err := e.locker.TryLock(ctx, key, e.lockTTL)
		if err != nil {
			local.Unlock()
			return nil, nil, appErr.Wrapf(err, appErr.LockFailed, "acquire merge lock for %s", outDir)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			local.Unlock()
			return nil, nil, appErr.Newf(appErr.MergeInProgress, "another merge is writing %s", outDir)
		}
		select {
		case <-ctx.Done():
			local.Unlock()
			return nil, nil, ctx.Err()
		case <-time.After(lockPollEvery):
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	stop := e.keepLease(leaseCtx, key, cancel)
	return leaseCtx, func() {
		stop()
		cancel(nil)
		_ = e.locker.Unlock(context.WithoutCancel(ctx), key)
		local.Unlock()
	}, nil
}

// keepLease refreshes the distributed lock every half TTL until the returned
// stop function is called. A failed refresh cancels the merge.
func (e *Engine) keepLease(ctx context.Context, key string, cancel context.CancelCauseFunc) func() {
	ext, ok := e.locker.(leaseExtender)
	if !ok || e.lockTTL <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(e.lockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ext.ExtendLock(ctx, key, e.lockTTL); err != nil {
					logger.Error(ctx, "merge lock lease lost", zap.String("key", key), zap.Error(err))
					cancel(appErr.Wrapf(err, appErr.LockFailed, "merge lock %s lost", key))
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// leaseLost returns the LockFailed cause when ctx was canceled because the
// merge lock lease could not be refreshed.
func leaseLost(ctx context.Context) error {
	if cause := context.Cause(ctx); appErr.Is(cause, appErr.LockFailed) {
		return cause
	}
	return nil
}
