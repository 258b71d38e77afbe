// Package reclaim deletes bulky intermediate artifacts of passed tests.
// Cleanup is best effort and never fails a campaign.
package reclaim

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"rvcampaign/internal/campaign/model"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"go.uber.org/zap"
)

// Artifacts removed from a passed test's work dir.
var Artifacts = []string{
	model.LogFile,
	model.MemImageFile,
	model.DisassFile,
	model.DumpFile,
	model.SignatureFile,
}

// DefaultDatabaseExts are the coverage database extensions kept in the
// coverage dir.
var DefaultDatabaseExts = []string{".ucdb", ".dat"}

// Stats summarizes one reclaim pass.
type Stats struct {
	Tests    int `json:"tests"`
	Removed  int `json:"removed"`
	Warnings int `json:"warnings"`
}

// Reclaimer removes artifacts while keeping coverage databases.
type Reclaimer struct {
	keep []string
}

// New creates a reclaimer keeping files with the given extensions in each
// coverage dir. No extensions selects DefaultDatabaseExts.
func New(databaseExts ...string) *Reclaimer {
	if len(databaseExts) == 0 {
		databaseExts = DefaultDatabaseExts
	}
	return &Reclaimer{keep: databaseExts}
}

// Reclaim cleans up with the default database extensions.
func Reclaim(ctx context.Context, results map[string]model.ExecutionResult, enabled bool) Stats {
	return New().Reclaim(ctx, results, enabled)
}

// Reclaim cleans every passed result when enabled.
func (r *Reclaimer) Reclaim(ctx context.Context, results map[string]model.ExecutionResult, enabled bool) Stats {
	var stats Stats
	if !enabled {
		return stats
	}
	for _, name := range model.SortedNames(results) {
		res := results[name]
		if !res.Passed() || res.WorkDir == "" {
			continue
		}
		stats.Tests++
		tctx := logger.WithTarget(ctx, name)

		for _, artifact := range Artifacts {
			r.remove(tctx, filepath.Join(res.WorkDir, artifact), &stats)
		}

		covDir := filepath.Join(res.WorkDir, model.CoverageDir)
		entries, err := os.ReadDir(covDir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				r.warn(tctx, covDir, err, &stats)
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() && r.isDatabase(entry.Name()) {
				continue
			}
			r.remove(tctx, filepath.Join(covDir, entry.Name()), &stats)
		}
	}
	logger.Info(ctx, "reclaimed artifacts",
		zap.Int("tests", stats.Tests),
		zap.Int("removed", stats.Removed),
		zap.Int("warnings", stats.Warnings),
	)
	return stats
}

func (r *Reclaimer) isDatabase(name string) bool {
	for _, ext := range r.keep {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (r *Reclaimer) remove(ctx context.Context, path string, stats *Stats) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug(ctx, "artifact already removed", zap.String("path", path))
			return
		}
		r.warn(ctx, path, err, stats)
		return
	}
	if info.IsDir() {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		r.warn(ctx, path, err, stats)
		return
	}
	stats.Removed++
}

func (r *Reclaimer) warn(ctx context.Context, path string, err error, stats *Stats) {
	stats.Warnings++
	logger.Warn(ctx, "artifact cleanup failed",
		zap.Int("code", int(appErr.ReclaimWarning)),
		zap.String("path", path),
		zap.Error(err),
	)
}
