package report

import (
	"fmt"
	"strings"

	"rvcampaign/internal/campaign/model"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const maxListRows = 20

func statusStyle(s model.Status) lipgloss.Style {
	switch s {
	case model.StatusPassed:
		return passStyle
	case model.StatusFailed:
		return failStyle
	default:
		return errorStyle
	}
}

// Summary renders the campaign outcome for a terminal. Only non-passing
// tests are listed.
func Summary(rep *model.CampaignReport, results map[string]model.ExecutionResult) string {
	var lines []string
	lines = append(lines, titleStyle.Render(fmt.Sprintf("%s campaign %s", rep.Backend, rep.ID)))
	lines = append(lines, fmt.Sprintf("%s  %s  %s  %s",
		fmt.Sprintf("total %d", rep.Counts.Total),
		passStyle.Render(fmt.Sprintf("passed %d", rep.Counts.Passed)),
		failStyle.Render(fmt.Sprintf("failed %d", rep.Counts.Failed)),
		errorStyle.Render(fmt.Sprintf("error %d", rep.Counts.Error)),
	))

	width := 0
	var bad []model.ExecutionResult
	for _, name := range model.SortedNames(results) {
		res := results[name]
		if res.Passed() {
			continue
		}
		bad = append(bad, res)
		if w := lipgloss.Width(name); w > width {
			width = w
		}
	}
	for i, res := range bad {
		if i == maxListRows {
			lines = append(lines, mutedStyle.Render(fmt.Sprintf("... %d more", len(bad)-maxListRows)))
			break
		}
		detail := res.Reason
		if res.FailedStage != "" {
			detail = fmt.Sprintf("%s (exit %d)", res.FailedStage, res.ExitCode)
		}
		lines = append(lines, fmt.Sprintf("%-*s %s %s",
			width, res.Target, statusStyle(res.Status).Render(string(res.Status)), mutedStyle.Render(detail)))
	}

	if cov := rep.Coverage; cov != nil {
		line := fmt.Sprintf("coverage: %d databases", cov.Inputs)
		if cov.TotalPoints > 0 {
			line += fmt.Sprintf(", %.2f%% of %d points", cov.Percent(), cov.TotalPoints)
		}
		if len(cov.Skipped) > 0 {
			line += fmt.Sprintf(", %d skipped", len(cov.Skipped))
		}
		lines = append(lines, line)
	}
	if rep.ReportPath != "" {
		lines = append(lines, mutedStyle.Render("report: "+rep.ReportPath))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
