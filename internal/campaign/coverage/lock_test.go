package coverage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	appErr "rvcampaign/pkg/errors"
)

type leaseLocker struct {
	mu        sync.Mutex
	extends   int
	unlocked  bool
	extendErr error
}

func (l *leaseLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (l *leaseLocker) Unlock(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked = true
	return nil
}

func (l *leaseLocker) ExtendLock(context.Context, string, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	return l.extendErr
}

func TestAcquireKeepsLeaseUntilRelease(t *testing.T) {
	locker := &leaseLocker{}
	e := &Engine{locker: locker, lockTTL: 20 * time.Millisecond, lockWait: time.Second}

	_, release, err := e.acquire(context.Background(), "/tmp/out")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	release()

	locker.mu.Lock()
	extends, unlocked := locker.extends, locker.unlocked
	locker.mu.Unlock()
	if extends == 0 {
		t.Fatal("lease was never extended")
	}
	if !unlocked {
		t.Fatal("lock not released")
	}

	time.Sleep(30 * time.Millisecond)
	locker.mu.Lock()
	defer locker.mu.Unlock()
	if locker.extends != extends {
		t.Fatalf("lease extended after release: %d -> %d", extends, locker.extends)
	}
}

// slowTool holds the merge open long enough for the lease to need a refresh.
type slowTool struct {
	NativeTool
	hold time.Duration
}

func (t slowTool) Merge(ctx context.Context, inputs []Input, out string) (Merged, error) {
	select {
	case <-time.After(t.hold):
	case <-ctx.Done():
	}
	return t.NativeTool.Merge(ctx, inputs, out)
}

func TestMergeStopsWhenLeaseIsLost(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "a.dat")
	f, err := os.Create(db)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key := EncodeKey(PointInfo{Kind: "v_line", File: "x.v", Line: "1", Hierarchy: "top"})
	if _, err := (&Database{Points: map[string]uint64{key: 1}}).WriteTo(f); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()
	locker := &leaseLocker{extendErr: errors.New("lock is not held")}
	e, err := NewEngine(Config{
		Tool:     slowTool{hold: 200 * time.Millisecond},
		Locker:   locker,
		LockTTL:  20 * time.Millisecond,
		LockWait: time.Second,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	_, err = e.Merge(context.Background(), InputsFromPaths([]string{db}), filepath.Join(dir, "out"))
	if !appErr.Is(err, appErr.LockFailed) {
		t.Fatalf("Merge error = %v, want LockFailed", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "out", HTMLDir)); statErr == nil {
		t.Fatal("report written after the lease was lost")
	}
	locker.mu.Lock()
	defer locker.mu.Unlock()
	if locker.extends != 1 || !locker.unlocked {
		t.Fatalf("extends = %d unlocked = %v", locker.extends, locker.unlocked)
	}
}
