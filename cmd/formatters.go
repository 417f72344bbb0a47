package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"evtxhound/core"
	"evtxhound/detect"
	"evtxhound/pipeline"
	"evtxhound/rules"
	"evtxhound/stats"

	"github.com/fatih/color"
)

type summaryMode int

const (
	summaryFull summaryMode = iota
	summaryStatistics
	summaryLogon
)

// topEventIDs is how many event IDs the full summary lists.
const topEventIDs = 10

var levelColors = map[core.Level]*color.Color{
	core.LevelCritical:      color.New(color.FgRed, color.Bold),
	core.LevelHigh:          color.New(color.FgRed),
	core.LevelMedium:        color.New(color.FgYellow),
	core.LevelLow:           color.New(color.FgGreen),
	core.LevelInformational: color.New(color.FgCyan),
}

func levelColor(l core.Level) *color.Color {
	if c, ok := levelColors[l]; ok {
		return c
	}
	return color.New(color.Reset)
}

// renderScanSummary prints the end-of-scan report.
func renderScanSummary(w io.Writer, res *pipeline.Result, mode summaryMode) {
	fmt.Fprintln(w)
	headerColor.Fprintln(w, "Results Summary")
	headerColor.Fprintln(w, strings.Repeat("=", 60))

	printField(w, "Elapsed", res.Elapsed.Round(time.Millisecond).String())
	printField(w, "Containers", fmt.Sprintf("%d (%d skipped)", res.Containers, res.SkippedContainers))
	printField(w, "Records", fmt.Sprintf("%d (%d filtered, %d undecodable)", res.Records, res.Filtered, res.DecodeErrors))
	if first, last := stats.Range(res.Timeline); !first.IsZero() {
		printField(w, "First event", first.Format(time.RFC3339))
		printField(w, "Last event", last.Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	switch mode {
	case summaryStatistics:
		renderCounts(w, "Event IDs", res.Stats.Categories[stats.CategoryEventID], res.Stats.TotalRecords, 0)
		return
	case summaryLogon:
		renderCounts(w, "Successful logons", res.Stats.Categories[stats.CategoryLogonSuccess], 0, 0)
		renderCounts(w, "Failed logons", res.Stats.Categories[stats.CategoryLogonFailure], 0, 0)
		return
	}

	renderLevelCounts(w, res.LevelCounts, res.Findings+res.AggregatedFindings)
	renderCounts(w, "Top event IDs", res.Stats.Categories[stats.CategoryEventID], res.Stats.TotalRecords, topEventIDs)
	renderPivots(w, res.Pivots)
}

func renderLevelCounts(w io.Writer, counts map[core.Level]int64, total int64) {
	printSection(w, "Findings by level")
	levels := core.Levels()
	for i := len(levels) - 1; i >= 0; i-- {
		l := levels[i]
		levelColor(l).Fprintf(w, "  %-15s", l.String())
		fmt.Fprintf(w, " %d\n", counts[l])
	}
	if total == 0 {
		successColor.Fprintln(w, "  No findings")
	} else {
		fmt.Fprintf(w, "  %-15s %d\n", "total", total)
	}
	fmt.Fprintln(w)
}

// renderCounts prints one statistics category. A positive limit truncates
// the list; a positive total adds percentages.
func renderCounts(w io.Writer, title string, entries []core.CountEntry, total int64, limit int) {
	printSection(w, title)
	if len(entries) == 0 {
		warningColor.Fprintln(w, "  none")
		fmt.Fprintln(w)
		return
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for _, e := range entries {
		if total > 0 {
			fmt.Fprintf(w, "  %-30s %10d  %5.1f%%\n", e.Key, e.Count, float64(e.Count)*100/float64(total))
		} else {
			fmt.Fprintf(w, "  %-30s %10d\n", e.Key, e.Count)
		}
	}
	fmt.Fprintln(w)
}

func renderPivots(w io.Writer, pivots map[string][]string) {
	if len(pivots) == 0 {
		return
	}
	printSection(w, "Pivot keywords")
	categories := make([]string, 0, len(pivots))
	for c := range pivots {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		infoColor.Fprintf(w, "  %s:", c)
		fmt.Fprintf(w, " %s\n", strings.Join(pivots[c], ", "))
	}
	fmt.Fprintln(w)
}

// renderRulesTable lists the corpus in load order.
func renderRulesTable(w io.Writer, corpus []*detect.Rule) {
	if len(corpus) == 0 {
		warningColor.Fprintln(w, "No rules were loaded")
		return
	}

	headerColor.Fprintln(w, "RULES")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-38s %-14s %-12s %s\n", "ID", "Level", "Status", "Title")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, r := range corpus {
		status := r.Status
		if status == "" {
			status = "-"
		}
		if !r.Enabled {
			status += " (off)"
		}
		title := r.Title
		if r.Aggregation != nil {
			title += " [" + r.Aggregation.String() + "]"
		}
		fmt.Fprintf(w, "%-38s ", r.ID)
		levelColor(r.Level).Fprintf(w, "%-14s", r.Level.String())
		fmt.Fprintf(w, " %-12s %s\n", status, title)
	}
	fmt.Fprintln(w, strings.Repeat("=", 100))
}

func renderRuleSummary(w io.Writer, s rules.Summary) {
	fmt.Fprintln(w)
	printSection(w, "Rule summary")
	levels := core.Levels()
	for i := len(levels) - 1; i >= 0; i-- {
		l := levels[i]
		levelColor(l).Fprintf(w, "  %-15s", l.String())
		fmt.Fprintf(w, " %d\n", s.LevelCounts[l])
	}
	printField(w, "Loaded", fmt.Sprint(s.Loaded))
	printField(w, "Disabled", fmt.Sprint(s.Disabled))
	printField(w, "Below min level", fmt.Sprint(s.Filtered))
	printField(w, "Excluded", fmt.Sprint(s.Excluded))
	if s.Invalid > 0 {
		errorColor.Fprintf(w, "  %-20s %d\n", "Invalid:", s.Invalid)
	}
}

func printSection(w io.Writer, title string) {
	infoColor.Fprintln(w, title)
}

func printField(w io.Writer, name, value string) {
	fmt.Fprintf(w, "  %-20s %s\n", name+":", value)
}
