// cmd/forkgraph/render.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github-fork-graph/internal/analysis"
	"github-fork-graph/internal/model"
	"github-fork-graph/internal/patch"
	"github-fork-graph/internal/runlog"
	"github-fork-graph/internal/syncer"
)

var (
	colorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}

	passStyle   = lipgloss.NewStyle().Foreground(colorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(colorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// renderer writes either styled tables or JSON.
type renderer struct {
	w    io.Writer
	json bool
}

func (r renderer) encode(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r renderer) title(format string, args ...any) {
	fmt.Fprintln(r.w, titleStyle.Render(fmt.Sprintf(format, args...)))
}

func (r renderer) table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(r.w, mutedStyle.Render("(none)"))
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(r.w, t.String())
}

func (r renderer) syncResult(res syncer.Result) error {
	if r.json {
		return r.encode(res)
	}
	var rows [][]string
	for p := &res; p != nil; p = p.Parent {
		rows = append(rows, []string{
			p.Repository.Ref().String(),
			strconv.Itoa(p.Rounds),
			strconv.Itoa(p.Counts.Stargazers),
			strconv.Itoa(p.Counts.Watchers),
			strconv.Itoa(p.Counts.Forks),
			strconv.Itoa(p.Merged),
			skipped(p.Skipped),
		})
	}
	r.title("Synced %s", res.Repository.Ref())
	r.table([]string{"Repository", "Rounds", "Stargazers", "Watchers", "Forks", "Merged", "Skipped"}, rows)
	return nil
}

func skipped(n int) string {
	if n == 0 {
		return "0"
	}
	return warnStyle.Render(strconv.Itoa(n))
}

func (r renderer) info(info analysis.Info) error {
	if r.json {
		return r.encode(info)
	}
	r.title("%s", info.Repo)
	fmt.Fprintf(r.w, "id: %s\n", info.ID)
	if info.URL != "" {
		fmt.Fprintf(r.w, "url: %s\n", info.URL)
	}
	if info.Parent != nil {
		fmt.Fprintf(r.w, "fork of: %s\n", info.Parent)
	}

	var rows [][]string
	for _, kind := range model.EdgeKinds {
		row := []string{string(kind), strconv.Itoa(info.Local.Get(kind)), "-", "-"}
		if info.Remote != nil {
			row[2] = strconv.Itoa(info.Remote.Get(kind))
		}
		if ratio, ok := info.Ratio(kind); ok {
			row[3] = coverage(ratio)
		}
		rows = append(rows, row)
	}
	r.table([]string{"Kind", "Database", "GitHub", "Coverage"}, rows)
	return nil
}

func coverage(ratio float64) string {
	s := fmt.Sprintf("%.1f%%", ratio*100)
	switch {
	case ratio >= 0.99:
		return passStyle.Render(s)
	case ratio >= 0.5:
		return warnStyle.Render(s)
	}
	return failStyle.Render(s)
}

func (r renderer) forks(title string, forks []analysis.Fork) error {
	if r.json {
		if forks == nil {
			forks = []analysis.Fork{}
		}
		return r.encode(forks)
	}
	rows := make([][]string, 0, len(forks))
	for _, f := range forks {
		patched := f.PatchDate
		if patched == "" {
			patched = mutedStyle.Render("unresolved")
		}
		rows = append(rows, []string{f.Repo.String(), string(f.OwnerType), strconv.Itoa(f.Forks), patched})
	}
	r.title("%s", title)
	r.table([]string{"Fork", "Owner", "Forks", "Patched"}, rows)
	return nil
}

func (r renderer) report(rep patch.Report) error {
	if r.json {
		return r.encode(rep)
	}
	target := rep.Target.Format(time.DateOnly)
	if rep.CVE != "" {
		target = fmt.Sprintf("%s (%s)", rep.CVE, target)
	}
	unpatched := rep.Unpatched()
	r.title("%d of %d forks of %s unpatched as of %s", len(unpatched), len(rep.Forks), rep.Upstream, target)

	rows := make([][]string, 0, len(unpatched))
	for _, f := range unpatched {
		date := f.PatchDate.String()
		if f.PatchDate.IsNever() {
			date = failStyle.Render(date)
		}
		rows = append(rows, []string{f.Repo.String(), f.Parent.String(), strconv.Itoa(f.Depth), date})
	}
	r.table([]string{"Fork", "Parent", "Depth", "Patched"}, rows)

	if len(rep.Failed) > 0 {
		fmt.Fprintln(r.w, failStyle.Render(fmt.Sprintf("%d forks could not be resolved", len(rep.Failed))))
		failed := make([][]string, 0, len(rep.Failed))
		for _, f := range rep.Failed {
			failed = append(failed, []string{f.Repo.String(), f.Error})
		}
		r.table([]string{"Fork", "Error"}, failed)
	}
	return nil
}

func (r renderer) runs(runs []runlog.Run) error {
	if r.json {
		if runs == nil {
			runs = []runlog.Run{}
		}
		return r.encode(runs)
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		status := string(run.Status)
		switch run.Status {
		case runlog.StatusSucceeded:
			status = passStyle.Render(status)
		case runlog.StatusFailed:
			status = failStyle.Render(status)
		}
		finished := "-"
		if run.FinishedAt != nil {
			finished = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			run.StartedAt.Local().Format(time.DateTime),
			run.Repo,
			string(run.Kind),
			status,
			strconv.Itoa(run.Rounds),
			finished,
			run.Error,
		})
	}
	r.table([]string{"Started", "Repository", "Kind", "Status", "Rounds", "Took", "Error"}, rows)
	return nil
}
