package service

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"rvcampaign/internal/campaign/coverage"
	"rvcampaign/internal/campaign/repository"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"go.uber.org/zap"
)

// MergeRequest merges databases from any number of campaigns.
type MergeRequest struct {
	Databases []string
	// Archives are object keys of campaign bundles whose merged database
	// takes part in the merge.
	Archives []string
	OutDir   string
}

// Merger runs cross-campaign merges.
type Merger struct {
	engine  *coverage.Engine
	archive *repository.Archive
}

// NewMerger creates a merger. archive may be nil when no archives are used.
func NewMerger(engine *coverage.Engine, archive *repository.Archive) (*Merger, error) {
	if engine == nil {
		return nil, appErr.ValidationError("engine", "coverage engine is required")
	}
	return &Merger{engine: engine, archive: archive}, nil
}

// Merge fetches any archived bundles below OutDir and merges every input.
// It returns the final coverage report and the rank report. Databases from
// a bundle are ranked under the bundle's campaign id.
func (m *Merger) Merge(ctx context.Context, req MergeRequest) (string, string, error) {
	if req.OutDir == "" {
		return "", "", appErr.ConfigError(appErr.ConfigInvalid, "merge output directory is required")
	}
	inputs := coverage.InputsFromPaths(req.Databases)
	if len(req.Archives) > 0 {
		fetched, err := m.fetch(ctx, req.Archives, filepath.Join(req.OutDir, "archives"))
		if err != nil {
			return "", "", err
		}
		for _, in := range fetched {
			in.Order = len(inputs)
			inputs = append(inputs, in)
		}
	}
	paths := make([]string, 0, len(inputs))
	for _, in := range inputs {
		paths = append(paths, in.Path)
	}
	logger.Info(ctx, "merging coverage", zap.String("inputs", describe(paths)), zap.String("out", req.OutDir))

	summary, err := m.engine.Merge(ctx, inputs, req.OutDir)
	if err != nil {
		return "", "", err
	}
	return summary.ReportPath, summary.RankReport, nil
}

// BundleID is the campaign id an archive key was uploaded under.
func BundleID(key string) string {
	return strings.TrimSuffix(path.Base(key), bundleExt)
}

const bundleExt = ".tar.zst"

func (m *Merger) fetch(ctx context.Context, keys []string, root string) ([]coverage.Input, error) {
	if m.archive == nil {
		return nil, appErr.ConfigError(appErr.ConfigInvalid, "archives requested but object storage is not configured")
	}
	ext := m.engine.Tool().Ext()
	var inputs []coverage.Input
	for _, key := range keys {
		bundle := BundleID(key)
		dst := filepath.Join(root, bundle)
		if err := m.archive.Download(ctx, key, dst); err != nil {
			return nil, err
		}
		found, err := databasesIn(filepath.Join(dst, coverage.MergedDir), ext)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.ArchiveFailed, "scan bundle %s", key)
		}
		if len(found) == 0 {
			logger.Warn(ctx, "archive holds no coverage database",
				zap.Int("code", int(appErr.MergeWarning)),
				zap.String("key", key),
			)
		}
		for _, p := range found {
			id := bundle
			if len(found) > 1 {
				id = bundle + "/" + strings.TrimSuffix(filepath.Base(p), ext)
			}
			inputs = append(inputs, coverage.Input{ID: id, Path: p})
		}
	}
	return inputs, nil
}

func databasesIn(dir, ext string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ext {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
