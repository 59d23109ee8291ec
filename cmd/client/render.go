package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/poller"
	"ozzus/client-aeza/internal/probe"

	"github.com/fatih/color"
)

var (
	colorOK      = color.New(color.FgGreen, color.Bold)
	colorPending = color.New(color.FgYellow)
	colorRunning = color.New(color.FgCyan)
	colorError   = color.New(color.FgRed, color.Bold)
	colorMuted   = color.New(color.FgHiBlack)
)

func statusColor(status string) *color.Color {
	switch status {
	case string(domain.StatusCompleted), domain.AgentStatusOnline:
		return colorOK
	case string(domain.StatusRunning):
		return colorRunning
	case string(domain.StatusError), "offline":
		return colorError
	default:
		return colorPending
	}
}

func formatTime(ts domain.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func joinChecks(checks []domain.CheckType) string {
	parts := make([]string, len(checks))
	for i, c := range checks {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func renderHistory(w io.Writer, records []domain.CheckRecord) {
	if len(records) == 0 {
		colorMuted.Fprintln(w, "History is empty")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tCHECKS\tSTATUS\tCREATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Target, joinChecks(r.Checks),
			statusColor(string(r.Status)).Sprint(r.Status),
			formatTime(r.CreatedAt))
	}
	tw.Flush()
}

func renderRecord(w io.Writer, r domain.CheckRecord) {
	fmt.Fprintf(w, "Check %s  %s\n", r.ID, statusColor(string(r.Status)).Sprint(r.Status))
	fmt.Fprintf(w, "  target:  %s\n", r.Target)
	fmt.Fprintf(w, "  checks:  %s\n", joinChecks(r.Checks))
	fmt.Fprintf(w, "  created: %s\n", formatTime(r.CreatedAt))
	if !r.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "  updated: %s\n", formatTime(r.UpdatedAt))
	}
	renderResults(w, r.Results)
}

func renderResults(w io.Writer, results []domain.AgentResult) {
	if len(results) == 0 {
		colorMuted.Fprintln(w, "  no agent results yet")
		return
	}

	for _, res := range results {
		fmt.Fprintf(w, "  [%s] %s\n", statusColor(string(res.Status)).Sprint(res.Status), res.AgentID)
		if res.Log != "" {
			colorMuted.Fprintf(w, "    %s\n", strings.ReplaceAll(strings.TrimSpace(res.Log), "\n", "\n    "))
		}
		if len(res.Result) > 0 {
			fmt.Fprintf(w, "    %s\n", indentJSON(res.Result, "    "))
		}
	}
}

func renderProgress(w io.Writer, result domain.CheckResult) {
	done := 0
	for _, r := range result.Results {
		if r.Status.Terminal() {
			done++
		}
	}
	colorMuted.Fprintf(w, "%s  %d/%d agents finished\n", time.Now().Format("15:04:05"), done, len(result.Results))
}

func renderReport(w io.Writer, report poller.Report) {
	switch report.Outcome {
	case poller.OutcomeCompleted:
		colorOK.Fprintln(w, report.String())
	case poller.OutcomeTimedOut, poller.OutcomeCanceled:
		colorPending.Fprintln(w, report.String())
	default:
		colorError.Fprintln(w, report.String())
	}
}

func renderAgents(w io.Writer, agents []domain.Agent) {
	stats := domain.ComputeAgentStats(agents)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLOCATION\tSTATUS\tACTIVE")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", a.Name, a.Location, statusColor(a.Status).Sprint(a.Status), a.ActiveChecks)
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d agents, %s online, %d active checks\n",
		stats.Total, colorOK.Sprint(stats.Online), stats.ActiveChecks)
}

func renderProbe(w io.Writer, target string, outcomes []probe.Outcome) {
	fmt.Fprintf(w, "Local baseline for %s\n", target)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tRESULT\tTIME\tIP\tDETAIL")
	for _, o := range outcomes {
		result := colorOK.Sprint("ok")
		detail := o.Detail
		if !o.OK {
			result = colorError.Sprint("failed")
			if o.Error != "" {
				detail = o.Error
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.Type, result, o.Duration.Round(time.Microsecond), o.IP, detail)
	}
	tw.Flush()
}

func indentJSON(raw json.RawMessage, prefix string) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, prefix, "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
