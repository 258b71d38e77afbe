package coverage

import (
	"html/template"
	"os"
	"sort"

	"rvcampaign/internal/campaign/model"
)

type coverageRow struct {
	Kind    string
	File    string
	Total   int
	Covered int
}

func (r coverageRow) Percent() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Covered) * 100 / float64(r.Total)
}

type coveragePage struct {
	Title   string
	Inputs  []string
	Summary coverageRow
	Rows    []coverageRow
	Missed  []PointInfo
}

type rankRow struct {
	Rank       int
	Entry      model.RankEntry
	Cumulative int
}

type rankPage struct {
	RankFile string
	Rows     []rankRow
}

const maxMissedRows = 200

func buildCoveragePage(title string, db *Database, inputs []string) coveragePage {
	byGroup := make(map[[2]string]*coverageRow)
	page := coveragePage{Title: title, Inputs: inputs, Summary: coverageRow{Kind: "all"}}

	for _, key := range db.Keys() {
		info := DecodeKey(key)
		group := [2]string{info.Kind, info.File}
		row, ok := byGroup[group]
		if !ok {
			row = &coverageRow{Kind: info.Kind, File: info.File}
			byGroup[group] = row
		}
		row.Total++
		page.Summary.Total++
		if db.Points[key] > 0 {
			row.Covered++
			page.Summary.Covered++
		} else if len(page.Missed) < maxMissedRows {
			page.Missed = append(page.Missed, info)
		}
	}

	for _, row := range byGroup {
		page.Rows = append(page.Rows, *row)
	}
	sort.Slice(page.Rows, func(i, j int) bool {
		if page.Rows[i].Kind != page.Rows[j].Kind {
			return page.Rows[i].Kind < page.Rows[j].Kind
		}
		return page.Rows[i].File < page.Rows[j].File
	})
	return page
}

func buildRankPage(rankFile string, entries []model.RankEntry) rankPage {
	page := rankPage{RankFile: rankFile}
	total := 0
	for i, e := range entries {
		total += e.Contribution
		page.Rows = append(page.Rows, rankRow{Rank: i + 1, Entry: e, Cumulative: total})
	}
	return page
}

func writeHTML(dest string, tmpl *template.Template, data interface{}) (string, error) {
	err := writeFileAtomic(dest, func(f *os.File) error {
		return tmpl.Execute(f, data)
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

var coverageTemplate = template.Must(template.New("coverage").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Summary.Covered}} of {{.Summary.Total}} points covered ({{printf "%.2f" .Summary.Percent}}%)</p>
<h2>Inputs</h2>
<ul>{{range .Inputs}}<li>{{.}}</li>{{end}}</ul>
<h2>By kind and file</h2>
<table>
<tr><th>Kind</th><th>File</th><th>Covered</th><th>Total</th><th>%</th></tr>
{{range .Rows}}<tr><td>{{.Kind}}</td><td>{{.File}}</td><td>{{.Covered}}</td><td>{{.Total}}</td><td>{{printf "%.2f" .Percent}}</td></tr>
{{end}}</table>
{{if .Missed}}<h2>Uncovered points</h2>
<table>
<tr><th>Kind</th><th>File</th><th>Line</th><th>Hierarchy</th><th>Comment</th></tr>
{{range .Missed}}<tr><td>{{.Kind}}</td><td>{{.File}}</td><td>{{.Line}}</td><td>{{.Hierarchy}}</td><td>{{.Comment}}</td></tr>
{{end}}</table>{{end}}
</body>
</html>
`))

var rankTemplate = template.Must(template.New("rank").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Coverage rank</title></head>
<body>
<h1>Coverage rank</h1>
<p>Rank file: {{.RankFile}}</p>
<table>
<tr><th>Rank</th><th>Database</th><th>Contribution</th><th>Cumulative</th><th>Path</th></tr>
{{range .Rows}}<tr><td>{{.Rank}}</td><td>{{.Entry.Database}}</td><td>{{.Entry.Contribution}}</td><td>{{.Cumulative}}</td><td>{{.Entry.Path}}</td></tr>
{{end}}</table>
</body>
</html>
`))
