package repository

import (
	"context"
	"database/sql"
	"time"

	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/common/db"
	appErr "rvcampaign/pkg/errors"
)

// Schema creates the campaign history tables.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS campaign_runs (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	backend VARCHAR(32) NOT NULL,
	started_at DATETIME(3) NOT NULL,
	total INT NOT NULL,
	passed INT NOT NULL,
	failed INT NOT NULL,
	errors INT NOT NULL,
	coverage_percent DOUBLE NULL,
	report_path VARCHAR(1024) NOT NULL,
	archive_key VARCHAR(512) NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS campaign_results (
	campaign_id VARCHAR(64) NOT NULL,
	target VARCHAR(255) NOT NULL,
	status VARCHAR(16) NOT NULL,
	failed_stage VARCHAR(32) NOT NULL DEFAULT '',
	exit_code INT NOT NULL,
	reason VARCHAR(64) NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	PRIMARY KEY (campaign_id, target)
)`,
}

const (
	insertRunSQL = `INSERT INTO campaign_runs
(id, backend, started_at, total, passed, failed, errors, coverage_percent, report_path, archive_key)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertResultSQL = `INSERT INTO campaign_results
(campaign_id, target, status, failed_stage, exit_code, reason, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	listRunsSQL = `SELECT id, backend, started_at, total, passed, failed, errors, coverage_percent, report_path, archive_key
FROM campaign_runs ORDER BY started_at DESC LIMIT ?`
	listResultsSQL = `SELECT target, status, failed_stage, exit_code, reason, duration_ms
FROM campaign_results WHERE campaign_id = ? ORDER BY target`
)

// HistoryRepository records finished campaigns in SQL.
type HistoryRepository struct {
	db db.Database
}

// NewHistoryRepository creates a new repository.
func NewHistoryRepository(database db.Database) *HistoryRepository {
	return &HistoryRepository{db: database}
}

// EnsureSchema creates missing tables.
func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "create schema failed")
		}
	}
	return nil
}

// Save stores a campaign and all its results in one transaction.
func (r *HistoryRepository) Save(ctx context.Context, rep model.CampaignReport, results map[string]model.ExecutionResult) error {
	if rep.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	var coverage sql.NullFloat64
	if rep.Coverage != nil {
		coverage = sql.NullFloat64{Float64: rep.Coverage.Percent(), Valid: true}
	}

	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		if _, err := tx.Exec(ctx, insertRunSQL,
			rep.ID, rep.Backend, rep.Timestamp.UTC(),
			rep.Counts.Total, rep.Counts.Passed, rep.Counts.Failed, rep.Counts.Error,
			coverage, rep.ReportPath, rep.ArchiveKey,
		); err != nil {
			return err
		}
		for _, name := range model.SortedNames(results) {
			res := results[name]
			if _, err := tx.Exec(ctx, insertResultSQL,
				rep.ID, name, string(res.Status), res.FailedStage, res.ExitCode, res.Reason, res.Duration.Milliseconds(),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if key, ok := db.UniqueViolation(err); ok {
		return appErr.Wrapf(err, appErr.DatabaseError, "campaign %s already recorded", rep.ID).WithDetail("key", key)
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "save campaign %s failed", rep.ID)
}

// List returns the newest campaigns first.
func (r *HistoryRepository) List(ctx context.Context, limit int) ([]model.CampaignStatus, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list campaigns failed")
	}
	defer rows.Close()

	var out []model.CampaignStatus
	for rows.Next() {
		var (
			st       = model.CampaignStatus{State: model.StateFinished}
			coverage sql.NullFloat64
		)
		if err := rows.Scan(&st.ID, &st.Backend, &st.StartedAt,
			&st.Counts.Total, &st.Counts.Passed, &st.Counts.Failed, &st.Counts.Error,
			&coverage, &st.ReportPath, &st.ArchiveKey); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan campaign failed")
		}
		st.Targets = st.Counts.Total
		st.CoveragePercent = coverage.Float64
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate campaigns failed")
	}
	return out, nil
}

// Results returns the recorded results of one campaign.
func (r *HistoryRepository) Results(ctx context.Context, id string) (map[string]model.ExecutionResult, error) {
	rows, err := r.db.Query(ctx, listResultsSQL, id)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list results failed")
	}
	defer rows.Close()

	out := make(map[string]model.ExecutionResult)
	for rows.Next() {
		var (
			res    model.ExecutionResult
			status string
			ms     int64
		)
		if err := rows.Scan(&res.Target, &status, &res.FailedStage, &res.ExitCode, &res.Reason, &ms); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan result failed")
		}
		res.Status = model.Status(status)
		res.Duration = time.Duration(ms) * time.Millisecond
		out[res.Target] = res
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate results failed")
	}
	if len(out) == 0 {
		return nil, appErr.NotFoundError("campaign " + id)
	}
	return out, nil
}
