package model

import "time"

// Campaign lifecycle states as seen by the status API.
const (
	StateRunning  = "running"
	StateFinished = "finished"
	StateFailed   = "failed"
)

// CampaignStatus is the live view of a campaign.
type CampaignStatus struct {
	ID              string    `json:"id"`
	Backend         string    `json:"backend"`
	State           string    `json:"state"`
	Targets         int       `json:"targets"`
	Counts          Counts    `json:"counts"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
	ReportPath      string    `json:"report_path,omitempty"`
	CoveragePercent float64   `json:"coverage_percent,omitempty"`
	ArchiveKey      string    `json:"archive_key,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// StatusFromReport builds the terminal status of a finished campaign.
func StatusFromReport(rep CampaignReport, finishedAt time.Time) CampaignStatus {
	st := CampaignStatus{
		ID:         rep.ID,
		Backend:    rep.Backend,
		State:      StateFinished,
		Targets:    rep.Counts.Total,
		Counts:     rep.Counts,
		StartedAt:  rep.Timestamp,
		FinishedAt: finishedAt,
		ReportPath: rep.ReportPath,
		ArchiveKey: rep.ArchiveKey,
	}
	if rep.Coverage != nil {
		st.CoveragePercent = rep.Coverage.Percent()
	}
	return st
}
