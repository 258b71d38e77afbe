// Package coverage collects per-test coverage databases, merges them into a
// cumulative database, renders reports and ranks every input by the
// coverage it adds when merged last.
package coverage

import (
	"context"

	"rvcampaign/internal/campaign/model"
)

// Input is one coverage database taking part in a merge.
type Input struct {
	ID    string
	Path  string
	Order int
}

// Merged describes the cumulative database a tool produced.
type Merged struct {
	Path          string
	Inputs        []string
	TotalPoints   int
	CoveredPoints int
}

// Tool is a coverage database format together with its merge, report and
// rank operations. Inputs are never modified.
type Tool interface {
	Name() string
	// Ext is the database file extension, including the dot.
	Ext() string
	// SourceFile is the file a simulation leaves in the test work dir.
	SourceFile(test string) string
	// MergedFile is the cumulative database name inside final_coverage.
	MergedFile() string
	Validate(ctx context.Context, path string) error
	Merge(ctx context.Context, inputs []Input, out string) (Merged, error)
	Report(ctx context.Context, merged Merged, htmlDir string) (string, error)
	Rank(ctx context.Context, inputs []Input, merged Merged, rankFile string) ([]model.RankEntry, error)
	RankReport(ctx context.Context, rankFile string, entries []model.RankEntry, htmlDir string) (string, error)
	// TestReport renders one test's database into htmlDir.
	TestReport(ctx context.Context, db string, htmlDir string) error
}
