// Package console renders the engine state for terminals.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/semmidev/vigil/internal/domain"
	"github.com/semmidev/vigil/internal/eventbus"
	"github.com/semmidev/vigil/internal/status"
)

const timeLayout = "2006-01-02 15:04:05"

var jobHeader = table.Row{
	"Job",
	"Target",
	"Databases",
	"Schedule",
	"State",
	"Last Run",
	"Next Run",
}

var runHeader = table.Row{
	"Job",
	"Trigger",
	"Started At",
	"Duration",
	"Outcome",
	"Size",
	"Error",
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// FormatSize renders a byte count in binary units.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// RenderSnapshot renders the summary and the job table.
func RenderSnapshot(snap status.Snapshot) string {
	var b strings.Builder

	state := "stopped"
	if snap.SchedulerRunning {
		state = "running"
	}
	fmt.Fprintf(&b, "Scheduler: %s   Runs: %d (%d ok, %d failed, %.1f%% success)   Dumped: %s\n",
		state, snap.Counters.TotalRuns, snap.Counters.Successes, snap.Counters.Failures,
		snap.SuccessRate(), FormatSize(snap.Counters.Bytes))
	fmt.Fprintf(&b, "Uploads: %d delivered, %d failed   Next run: %s\n",
		snap.Uploads.Delivered, snap.Uploads.Failed, formatTime(snap.NextRun))

	jobs := table.NewWriter()
	jobs.AppendHeader(jobHeader)
	for _, j := range snap.Jobs {
		state := "idle"
		if j.InFlight {
			state = "running"
		}
		last := "-"
		if j.LastRun != nil {
			last = fmt.Sprintf("%s (%s)", j.LastRun.Outcome, j.LastRun.Finished.Local().Format(timeLayout))
		}
		jobs.AppendRow(table.Row{
			j.Name,
			j.Target,
			strings.Join(j.Databases, ", "),
			j.Schedule,
			state,
			last,
			formatTime(j.NextDue),
		})
	}
	b.WriteString(jobs.Render())
	b.WriteString("\n")
	return b.String()
}

// RenderRuns renders runs in the given order.
func RenderRuns(runs []domain.JobRun) string {
	t := table.NewWriter()
	t.AppendHeader(runHeader)
	for _, r := range runs {
		errMsg := r.Error
		if r.Kind != "" {
			errMsg = fmt.Sprintf("[%s] %s", r.Kind, r.Error)
		}
		t.AppendRow(table.Row{
			r.Job,
			r.Trigger,
			r.Started.Local().Format(timeLayout),
			r.Duration().Round(time.Second),
			r.Outcome,
			FormatSize(r.Bytes),
			errMsg,
		})
	}
	return t.Render()
}

func severityColors(sev domain.Severity) text.Colors {
	switch sev {
	case domain.SeverityDebug:
		return text.Colors{text.FgHiBlack}
	case domain.SeverityWarn:
		return text.Colors{text.FgYellow}
	case domain.SeverityError:
		return text.Colors{text.FgRed, text.Bold}
	default:
		return text.Colors{text.FgGreen}
	}
}

// FormatEvent renders one event as a log line.
func FormatEvent(e domain.Event, color bool) string {
	if e.IsGap() {
		line := fmt.Sprintf("... %d event(s) dropped", e.Dropped)
		if color {
			line = text.Colors{text.FgYellow, text.Italic}.Sprint(line)
		}
		return line
	}

	sev := fmt.Sprintf("%-5s", e.Severity)
	if color {
		sev = severityColors(e.Severity).Sprint(sev)
	}
	return fmt.Sprintf("%s %s [%s] %s", e.Time.Local().Format(timeLayout), sev, e.Origin, e.Message)
}

// Follow writes events from sub to w until ctx ends or the subscription
// closes.
func Follow(ctx context.Context, sub *eventbus.Subscription, w io.Writer, color bool) error {
	for {
		e, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, eventbus.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintln(w, FormatEvent(e, color)); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
}
