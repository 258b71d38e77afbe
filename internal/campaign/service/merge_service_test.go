package service_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"rvcampaign/internal/campaign/coverage"
	"rvcampaign/internal/campaign/repository"
	"rvcampaign/internal/campaign/service"
	"rvcampaign/internal/common/storage"
	appErr "rvcampaign/pkg/errors"
)

type bucketStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *bucketStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[bucket+"/"+key] = data
	return nil
}

func (b *bucketStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[bucket+"/"+key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *bucketStore) StatObject(ctx context.Context, bucket, key string) (storage.ObjectStat, error) {
	return storage.ObjectStat{}, nil
}

func (b *bucketStore) ListObjects(ctx context.Context, bucket, prefix string) <-chan storage.ObjectInfo {
	ch := make(chan storage.ObjectInfo)
	close(ch)
	return ch
}

func (b *bucketStore) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	return nil
}

func writeDatabase(t *testing.T, path string, lines ...string) string {
	t.Helper()
	points := make(map[string]uint64)
	for _, l := range lines {
		points[coverage.EncodeKey(coverage.PointInfo{Kind: "v_line", File: "core.v", Line: l, Hierarchy: "top"})] = 1
	}
	var buf bytes.Buffer
	if _, err := (&coverage.Database{Points: points}).WriteTo(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func newMerger(t *testing.T) *service.Merger {
	t.Helper()
	engine, err := coverage.NewEngine(coverage.Config{Tool: coverage.NativeTool{}})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	m, err := service.NewMerger(engine, nil)
	if err != nil {
		t.Fatalf("NewMerger: %v", err)
	}
	return m
}

func TestMergeAcrossCampaigns(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	html, rank, err := newMerger(t).Merge(context.Background(), service.MergeRequest{
		Databases: []string{
			writeDatabase(t, filepath.Join(src, "run1.dat"), "1", "2"),
			writeDatabase(t, filepath.Join(src, "run2.dat"), "2", "3"),
		},
		OutDir: out,
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	for _, p := range []string{html, rank} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("missing %s: %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, coverage.MergedDir)); err != nil {
		t.Fatalf("merged dir missing: %v", err)
	}
}

func TestMergeArchivesWithoutStorage(t *testing.T) {
	_, _, err := newMerger(t).Merge(context.Background(), service.MergeRequest{
		Archives: []string{"campaigns/c-1.tar.zst"},
		OutDir:   t.TempDir(),
	})
	if !appErr.Is(err, appErr.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid, got %v", err)
	}
}

func TestMergeNothing(t *testing.T) {
	_, _, err := newMerger(t).Merge(context.Background(), service.MergeRequest{OutDir: t.TempDir()})
	if !appErr.Is(err, appErr.MergeInputEmpty) {
		t.Fatalf("expected MergeInputEmpty, got %v", err)
	}
}

func TestMergeRanksArchivesByCampaign(t *testing.T) {
	ctx := context.Background()
	archive := repository.NewArchive(&bucketStore{objects: make(map[string][]byte)}, "rv", "campaigns")

	var keys []string
	for id, lines := range map[string][]string{"c-1": {"1", "2"}, "c-2": {"3"}} {
		dir := t.TempDir()
		mergedDir := filepath.Join(dir, coverage.MergedDir)
		if err := os.MkdirAll(mergedDir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		writeDatabase(t, filepath.Join(mergedDir, "merged.dat"), lines...)
		key, err := archive.Upload(ctx, id, []repository.ArchiveEntry{{Source: mergedDir, Name: coverage.MergedDir}})
		if err != nil {
			t.Fatalf("Upload %s: %v", id, err)
		}
		keys = append(keys, key)
	}

	engine, err := coverage.NewEngine(coverage.Config{Tool: coverage.NativeTool{}})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	m, err := service.NewMerger(engine, archive)
	if err != nil {
		t.Fatalf("NewMerger: %v", err)
	}
	out := t.TempDir()
	if _, _, err := m.Merge(ctx, service.MergeRequest{Archives: keys, OutDir: out}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(out, coverage.RankDir, coverage.RankFileName))
	if err != nil {
		t.Fatalf("read rank: %v", err)
	}
	rank := string(data)
	if !strings.Contains(rank, "\t2\tc-1\t") || !strings.Contains(rank, "\t1\tc-2\t") {
		t.Fatalf("rank file does not name campaigns:\n%s", rank)
	}
	if strings.Contains(rank, "\tmerged\t") {
		t.Fatalf("rank file uses the bundle file name:\n%s", rank)
	}
}

func TestBundleID(t *testing.T) {
	for key, want := range map[string]string{
		"campaigns/c-1.tar.zst": "c-1",
		"c-2.tar.zst":           "c-2",
		"a/b/c-3":               "c-3",
	} {
		if got := service.BundleID(key); got != want {
			t.Errorf("BundleID(%q) = %q, want %q", key, got, want)
		}
	}
}
