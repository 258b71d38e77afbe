package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/repository"
	"rvcampaign/internal/common/db"
	appErr "rvcampaign/pkg/errors"

	"github.com/go-sql-driver/mysql"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeDB struct {
	execs    []execCall
	failOn   string
	execErr  error
	rows     [][]interface{}
	commits  int
	rollback int
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return &fakeRows{rows: f.rows, pos: -1}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return nil
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, f.execErr
	}
	f.execs = append(f.execs, execCall{query: query, args: args})
	return nil, nil
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	if err := fn(&fakeTx{db: f}); err != nil {
		f.rollback++
		return err
	}
	f.commits++
	return nil
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

type fakeTx struct{ db *fakeDB }

func (t *fakeTx) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return t.db.Query(ctx, query, args...)
}
func (t *fakeTx) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return t.db.QueryRow(ctx, query, args...)
}
func (t *fakeTx) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return t.db.Exec(ctx, query, args...)
}
func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeRows struct {
	rows [][]interface{}
	pos  int
}

func (r *fakeRows) Next() bool   { r.pos++; return r.pos < len(r.rows) }
func (r *fakeRows) Close() error { return nil }
func (r *fakeRows) Err() error   { return nil }

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.rows[r.pos]
	if len(row) != len(dest) {
		return fmt.Errorf("scan: %d columns into %d targets", len(row), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *int:
			*p = row[i].(int)
		case *int64:
			*p = row[i].(int64)
		case *time.Time:
			*p = row[i].(time.Time)
		case *sql.NullFloat64:
			if row[i] != nil {
				*p = sql.NullFloat64{Float64: row[i].(float64), Valid: true}
			}
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}

func TestHistorySaveInOneTransaction(t *testing.T) {
	fake := &fakeDB{}
	repo := repository.NewHistoryRepository(fake)
	rep := model.CampaignReport{
		ID:        "c-1",
		Backend:   "verilator",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Counts:    model.Counts{Total: 2, Passed: 1, Failed: 1},
		Coverage:  &model.CoverageSummary{TotalPoints: 4, CoveredPoints: 2},
	}
	results := map[string]model.ExecutionResult{
		"b": {Target: "b", Status: model.StatusFailed, FailedStage: "compile", ExitCode: 1, Duration: 1500 * time.Millisecond},
		"a": {Target: "a", Status: model.StatusPassed},
	}
	if err := repo.Save(context.Background(), rep, results); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if fake.commits != 1 || len(fake.execs) != 3 {
		t.Fatalf("commits=%d execs=%d", fake.commits, len(fake.execs))
	}
	if cov := fake.execs[0].args[7].(sql.NullFloat64); !cov.Valid || cov.Float64 != 50 {
		t.Fatalf("coverage arg = %+v", cov)
	}
	if fake.execs[1].args[1] != "a" || fake.execs[2].args[6] != int64(1500) {
		t.Fatalf("result rows = %+v", fake.execs[1:])
	}
}

func TestHistorySaveDuplicate(t *testing.T) {
	fake := &fakeDB{failOn: "campaign_runs", execErr: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'c-1' for key 'PRIMARY'"}}
	repo := repository.NewHistoryRepository(fake)
	err := repo.Save(context.Background(), model.CampaignReport{ID: "c-1"}, nil)
	if !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
	if appErr.GetError(err).Details["key"] != "PRIMARY" || fake.rollback != 1 {
		t.Fatalf("details = %v rollback = %d", appErr.GetError(err).Details, fake.rollback)
	}
}

func TestHistoryList(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fake := &fakeDB{rows: [][]interface{}{
		{"c-2", "questa", started, 3, 3, 0, 0, 81.5, "/w/reports/questa.html", "campaigns/c-2.tar.zst"},
		{"c-1", "verilator", started, 1, 0, 1, 0, nil, "/w/reports/verilator.html", ""},
	}}
	repo := repository.NewHistoryRepository(fake)
	list, err := repo.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].CoveragePercent != 81.5 || list[1].CoveragePercent != 0 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].ArchiveKey != "campaigns/c-2.tar.zst" || list[0].State != model.StateFinished {
		t.Fatalf("first = %+v", list[0])
	}
}

func TestHistoryEnsureSchema(t *testing.T) {
	fake := &fakeDB{}
	if err := repository.NewHistoryRepository(fake).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(fake.execs) != len(repository.Schema) {
		t.Fatalf("execs = %d", len(fake.execs))
	}
}
