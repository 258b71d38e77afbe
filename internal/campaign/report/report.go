// Package report writes the per-campaign result log and HTML report and
// renders the terminal summary.
package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rvcampaign/internal/campaign/model"
	appErr "rvcampaign/pkg/errors"
)

// Dir is the report directory below the campaign work dir.
const Dir = "reports"

// TimestampLayout formats report file names (YYYYMMDD-HHMM).
const TimestampLayout = "20060102-1504"

const (
	lineResult  = "result"
	lineSummary = "summary"
)

// Line is one record of the result log. Every result is followed by a
// single summary line.
type Line struct {
	Kind    string                 `json:"kind"`
	Result  *model.ExecutionResult `json:"result,omitempty"`
	Summary *model.CampaignReport  `json:"summary,omitempty"`
}

// Paths returns the result log and HTML report paths of a campaign.
func Paths(workDir, backend string, ts time.Time) (string, string) {
	base := filepath.Join(workDir, Dir, backend+"_"+ts.Format(TimestampLayout))
	return base + ".json", base + ".html"
}

// Write stores both report files and records their paths on rep. A
// name already taken by another campaign in the same minute gets the short
// campaign id appended, then a counter.
func Write(workDir string, rep *model.CampaignReport, results map[string]model.ExecutionResult) error {
	jsonPath, _ := Paths(workDir, rep.Backend, rep.Timestamp)
	if err := os.MkdirAll(filepath.Dir(jsonPath), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.ReportFailed, "create %s", filepath.Dir(jsonPath))
	}
	jsonFile, htmlFile, err := reserve(workDir, rep)
	if err != nil {
		return appErr.Wrapf(err, appErr.ReportFailed, "reserve report name for %s", rep.ID)
	}
	rep.ResultLogPath = jsonFile.Name()
	rep.ReportPath = htmlFile.Name()

	if err := writeFile(jsonFile, func(w io.Writer) error { return WriteResultLog(w, rep, results) }); err != nil {
		htmlFile.Close()
		return appErr.Wrapf(err, appErr.ReportFailed, "write %s", rep.ResultLogPath)
	}
	if err := writeFile(htmlFile, func(w io.Writer) error { return WriteHTML(w, rep, results) }); err != nil {
		return appErr.Wrapf(err, appErr.ReportFailed, "write %s", rep.ReportPath)
	}
	return nil
}

const maxNameAttempts = 100

// reserve exclusively creates the first free pair of report files.
func reserve(workDir string, rep *model.CampaignReport) (*os.File, *os.File, error) {
	jsonPath, _ := Paths(workDir, rep.Backend, rep.Timestamp)
	base := strings.TrimSuffix(jsonPath, ".json")
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := candidate(base, shortID(rep.ID), attempt)
		jsonPath, htmlPath := name+".json", name+".html"
		jsonFile, err := createExclusive(jsonPath)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		htmlFile, err := createExclusive(htmlPath)
		if err != nil {
			jsonFile.Close()
			os.Remove(jsonPath)
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return nil, nil, err
		}
		return jsonFile, htmlFile, nil
	}
	return nil, nil, fmt.Errorf("no free report name after %d attempts", maxNameAttempts)
}

// candidate returns base, then base-<id>, then base-<id>-<n>.
func candidate(base, id string, attempt int) string {
	parts := []string{base}
	if attempt > 0 && id != "" {
		parts = append(parts, id)
	}
	if attempt > 1 || (attempt == 1 && id == "") {
		parts = append(parts, strconv.Itoa(attempt))
	}
	return strings.Join(parts, "-")
}

func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// WriteResultLog writes one JSON object per result in name order and a
// final summary line.
func WriteResultLog(w io.Writer, rep *model.CampaignReport, results map[string]model.ExecutionResult) error {
	enc := json.NewEncoder(w)
	for _, name := range model.SortedNames(results) {
		res := results[name]
		if err := enc.Encode(Line{Kind: lineResult, Result: &res}); err != nil {
			return err
		}
	}
	return enc.Encode(Line{Kind: lineSummary, Summary: rep})
}

// ReadResultLog parses a result log written by WriteResultLog.
func ReadResultLog(r io.Reader) (*model.CampaignReport, map[string]model.ExecutionResult, error) {
	results := make(map[string]model.ExecutionResult)
	var summary *model.CampaignReport

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var line Line
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.InvalidFormat, "parse result log")
		}
		switch {
		case line.Kind == lineResult && line.Result != nil:
			results[line.Result.Target] = *line.Result
		case line.Kind == lineSummary && line.Summary != nil:
			summary = line.Summary
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.InvalidFormat, "read result log")
	}
	if summary == nil {
		return nil, nil, appErr.Newf(appErr.InvalidFormat, "result log has no summary line")
	}
	return summary, results, nil
}

// LoadResultLog reads a result log from disk.
func LoadResultLog(path string) (*model.CampaignReport, map[string]model.ExecutionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, appErr.NotFoundError(path)
		}
		return nil, nil, appErr.InternalError(err)
	}
	defer f.Close()
	return ReadResultLog(f)
}

func writeFile(f *os.File, fill func(io.Writer) error) error {
	bw := bufio.NewWriter(f)
	if err := fill(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
