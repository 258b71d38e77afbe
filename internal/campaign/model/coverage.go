package model

import "time"

// RankEntry is one database's incremental contribution to total coverage.
type RankEntry struct {
	Database     string `json:"database"`
	Path         string `json:"path"`
	Contribution int    `json:"contribution"`
	Order        int    `json:"order"`
}

// CoverageSummary describes the outcome of a merge and rank pass.
type CoverageSummary struct {
	Tool          string      `json:"tool"`
	Inputs        int         `json:"inputs"`
	Skipped       []string    `json:"skipped,omitempty"`
	Duplicates    []string    `json:"duplicates,omitempty"`
	MergedPath    string      `json:"merged_path"`
	ReportPath    string      `json:"report_path"`
	RankFile      string      `json:"rank_file"`
	RankReport    string      `json:"rank_report"`
	TotalPoints   int         `json:"total_points"`
	CoveredPoints int         `json:"covered_points"`
	Ranking       []RankEntry `json:"ranking,omitempty"`
}

// Percent returns covered points as a percentage of total points.
func (s CoverageSummary) Percent() float64 {
	if s.TotalPoints == 0 {
		return 0
	}
	return float64(s.CoveredPoints) * 100 / float64(s.TotalPoints)
}

// CampaignReport is written once per campaign invocation.
type CampaignReport struct {
	ID            string           `json:"id"`
	Backend       string           `json:"backend"`
	Timestamp     time.Time        `json:"timestamp"`
	ReportPath    string           `json:"report_path"`
	ResultLogPath string           `json:"result_log_path"`
	Counts        Counts           `json:"counts"`
	Reclaimed     int              `json:"reclaimed"`
	Coverage      *CoverageSummary `json:"coverage,omitempty"`
	ArchiveKey    string           `json:"archive_key,omitempty"`
}
