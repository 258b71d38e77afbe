package report

import (
	"html/template"
	"io"
	"time"

	"rvcampaign/internal/campaign/model"
)

var pageTmpl = template.Must(template.New("campaign").Funcs(template.FuncMap{
	"seconds": func(d time.Duration) string { return d.Round(time.Millisecond).String() },
	"pct":     func(s *model.CoverageSummary) float64 { return s.Percent() },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Report.Backend}} campaign {{.Report.ID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
.Passed { color: #1a7f37; } .Failed { color: #cf222e; } .Error { color: #9a6700; }
</style>
</head>
<body>
<h1>{{.Report.Backend}} campaign</h1>
<p>ID {{.Report.ID}} at {{.Report.Timestamp.Format "2006-01-02 15:04:05"}}</p>
<p>{{.Report.Counts.Total}} tests: {{.Report.Counts.Passed}} passed, {{.Report.Counts.Failed}} failed, {{.Report.Counts.Error}} errors</p>
{{with .Report.Coverage}}
<h2>Coverage</h2>
<p>{{.Inputs}} databases merged with {{.Tool}}{{if .TotalPoints}}, {{.CoveredPoints}}/{{.TotalPoints}} points ({{printf "%.2f" (pct .)}}%){{end}}.</p>
<p><a href="{{.ReportPath}}">coverage report</a> | <a href="{{.RankReport}}">rank report</a></p>
{{end}}
<h2>Results</h2>
<table>
<tr><th>Test</th><th>Status</th><th>Stage</th><th>Exit</th><th>Reason</th><th>Duration</th><th>Log</th></tr>
{{range .Rows}}<tr>
<td>{{.Target}}</td><td class="{{.Status}}">{{.Status}}</td><td>{{.FailedStage}}</td><td>{{.ExitCode}}</td><td>{{.Reason}}</td><td>{{seconds .Duration}}</td><td>{{.LogPath}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

type page struct {
	Report *model.CampaignReport
	Rows   []model.ExecutionResult
}

// WriteHTML renders the campaign report page.
func WriteHTML(w io.Writer, rep *model.CampaignReport, results map[string]model.ExecutionResult) error {
	p := page{Report: rep}
	for _, name := range model.SortedNames(results) {
		p.Rows = append(p.Rows, results[name])
	}
	return pageTmpl.Execute(w, p)
}
