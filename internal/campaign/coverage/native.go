package coverage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rvcampaign/internal/campaign/model"
)

const (
	nativeName       = "native"
	nativeSourceFile = "coverage.dat"
	nativeMerged     = "merged.dat"
	attributionExt   = ".tests.json"
)

// NativeTool merges and ranks Verilator coverage.dat databases in process.
type NativeTool struct{}

func (NativeTool) Name() string                  { return nativeName }
func (NativeTool) Ext() string                   { return ".dat" }
func (NativeTool) SourceFile(test string) string { return nativeSourceFile }
func (NativeTool) MergedFile() string            { return nativeMerged }

func (NativeTool) Validate(ctx context.Context, path string) error {
	_, err := ParseDatFile(path)
	return err
}

// attribution records which inputs hit each point of a merged database.
type attribution struct {
	Inputs []Input           `json:"inputs"`
	Points map[string][]int  `json:"points"`
	Counts map[string]uint64 `json:"-"`
}

func loadAttribution(inputs []Input) (*attribution, error) {
	attr := &attribution{
		Inputs: inputs,
		Points: make(map[string][]int),
		Counts: make(map[string]uint64),
	}
	for i, in := range inputs {
		db, err := ParseDatFile(in.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Path, err)
		}
		for key, count := range db.Points {
			attr.Counts[key] += count
			if _, ok := attr.Points[key]; !ok {
				attr.Points[key] = nil
			}
			if count > 0 {
				attr.Points[key] = append(attr.Points[key], i)
			}
		}
	}
	return attr, nil
}

// Merge sums hit counts per point. Which inputs hit each point is written
// next to the merged database so ranking can be redone later.
func (t NativeTool) Merge(ctx context.Context, inputs []Input, out string) (Merged, error) {
	attr, err := loadAttribution(inputs)
	if err != nil {
		return Merged{}, err
	}
	merged := &Database{Points: attr.Counts}
	if err := writeFileAtomic(out, func(f *os.File) error {
		_, err := merged.WriteTo(f)
		return err
	}); err != nil {
		return Merged{}, err
	}
	if err := writeFileAtomic(out+attributionExt, func(f *os.File) error {
		enc := json.NewEncoder(f)
		return enc.Encode(attr)
	}); err != nil {
		return Merged{}, err
	}

	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.ID)
	}
	return Merged{
		Path:          out,
		Inputs:        ids,
		TotalPoints:   len(merged.Points),
		CoveredPoints: merged.Covered(),
	}, nil
}

func (t NativeTool) Report(ctx context.Context, merged Merged, htmlDir string) (string, error) {
	db, err := ParseDatFile(merged.Path)
	if err != nil {
		return "", err
	}
	page := buildCoveragePage("Merged coverage", db, merged.Inputs)
	return writeHTML(filepath.Join(htmlDir, "index.html"), coverageTemplate, page)
}

func (t NativeTool) TestReport(ctx context.Context, dbPath string, htmlDir string) error {
	db, err := ParseDatFile(dbPath)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
	page := buildCoveragePage("Coverage for "+name, db, []string{name})
	_, err = writeHTML(filepath.Join(htmlDir, "index.html"), coverageTemplate, page)
	return err
}

// Rank computes each input's incremental contribution: the points only it
// covers, which is what the total loses when it is removed.
func (t NativeTool) Rank(ctx context.Context, inputs []Input, merged Merged, rankFile string) ([]model.RankEntry, error) {
	attr, err := loadAttribution(inputs)
	if err != nil {
		return nil, err
	}
	unique := make([]int, len(inputs))
	for _, hitters := range attr.Points {
		if len(hitters) == 1 {
			unique[hitters[0]]++
		}
	}

	entries := make([]model.RankEntry, len(inputs))
	for i, in := range inputs {
		entries[i] = model.RankEntry{Database: in.ID, Path: in.Path, Contribution: unique[i], Order: in.Order}
	}
	SortRank(entries)

	if err := writeRankFile(rankFile, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (t NativeTool) RankReport(ctx context.Context, rankFile string, entries []model.RankEntry, htmlDir string) (string, error) {
	return writeHTML(filepath.Join(htmlDir, "rank.html"), rankTemplate, buildRankPage(rankFile, entries))
}

// SortRank orders entries by descending contribution. Equal contributions
// keep their input order.
func SortRank(entries []model.RankEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Contribution != entries[j].Contribution {
			return entries[i].Contribution > entries[j].Contribution
		}
		return entries[i].Order < entries[j].Order
	})
}

func writeRankFile(path string, entries []model.RankEntry) error {
	return writeFileAtomic(path, func(f *os.File) error {
		if _, err := fmt.Fprintln(f, "# rank\tcontribution\tdatabase\tpath"); err != nil {
			return err
		}
		for i, e := range entries {
			if _, err := fmt.Fprintf(f, "%d\t%d\t%s\t%s\n", i+1, e.Contribution, e.Database, e.Path); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeFileAtomic(dest string, fill func(*os.File) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}
