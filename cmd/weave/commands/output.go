package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/planner"
	"github.com/hostweave/hostweave/pkg/policy"
	"github.com/hostweave/hostweave/pkg/stores"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runOutput is the JSON document plan and apply print.
type runOutput struct {
	Warnings []planner.Warning `json:"warnings,omitempty"`
	Policy   *policy.Result    `json:"policy,omitempty"`
	Report   *engine.Report    `json:"report,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func newRunOutput(plan *planner.Plan, report *engine.Report, err error) runOutput {
	out := runOutput{Report: report}
	if plan != nil {
		out.Warnings = plan.Warnings
		out.Policy = plan.Policy
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// printFindings prints skipped actions and policy findings.
func printFindings(w io.Writer, plan *planner.Plan) {
	if plan == nil {
		return
	}
	for _, warn := range plan.Warnings {
		fmt.Fprintf(w, "skipped action %d (%s): %s\n", warn.Index, warn.Summary, warn.Message)
	}
	if plan.Policy == nil {
		return
	}
	for _, v := range plan.Policy.Warnings {
		fmt.Fprintf(w, "policy %s: %s%s\n", v.Policy, v.Message, stepSuffix(v.Step))
	}
	for _, v := range plan.Policy.Violations {
		fmt.Fprintf(w, "policy %s DENIED: %s%s\n", v.Policy, v.Message, stepSuffix(v.Step))
	}
	for _, e := range plan.Policy.Errors {
		fmt.Fprintf(w, "policy error: %s\n", e)
	}
}

func stepSuffix(step int) string {
	if step < 0 {
		return ""
	}
	return fmt.Sprintf(" (step %d)", step)
}

// printReport prints one line per step with its predicted or actual change.
func printReport(w io.Writer, r *engine.Report) {
	mode := "apply"
	if r.DryRun {
		mode = "plan"
	}
	fmt.Fprintf(w, "%s %s on %s: %s\n\n", mode, r.RunID, r.Target, r.Status)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tACTION\tSTATE\tCHANGE\tATOM")
	for _, s := range r.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Index, s.Action, s.State, change(s.Outcome), s.Atom)
	}
	_ = tw.Flush()

	for _, s := range r.Steps {
		var lines []string
		if s.Outcome != nil && s.Outcome.ShouldRun {
			for _, e := range s.Outcome.SideEffects {
				lines = append(lines, fmt.Sprintf("%s %s: %s", e.Kind, e.Target, e.Description))
			}
		}
		if s.Error != "" {
			lines = append(lines, "error: "+s.Error)
		}
		for _, h := range s.HookErrors {
			lines = append(lines, "finalizer: "+h)
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nstep %d %s\n", s.Index, s.Summary)
		for _, l := range lines {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}

	sum := r.Summary()
	fmt.Fprintf(w, "\n%d steps: %d done, %d planned, %d skipped, %d failed, %d cancelled in %s\n",
		sum.Total, sum.Done, sum.Planned, sum.Skipped, sum.Failed, sum.Cancelled, r.Duration.Round(time.Millisecond))
}

func change(o *engine.Outcome) string {
	switch {
	case o == nil:
		return "-"
	case o.ShouldRun:
		return "change"
	default:
		return "none"
	}
}

// printRuns prints journal runs, newest first.
func printRuns(w io.Writer, runs []*stores.Run, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tTARGET\tSTATUS\tSTEPS\tMANIFEST")
	for _, r := range runs {
		status := string(r.Status)
		if r.DryRun {
			status += " (plan)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, humanize.RelTime(r.StartedAt, now, "ago", "from now"), r.Target, status, r.Steps, r.Manifest)
	}
	_ = tw.Flush()
}

// printRun prints one journal run with its steps and timeline.
func printRun(w io.Writer, run *stores.Run, steps []*stores.StepRecord, events []*stores.Event) {
	fmt.Fprintf(w, "run %s on %s: %s\n", run.ID, run.Target, run.Status)
	fmt.Fprintf(w, "manifest: %s\n", run.Manifest)
	fmt.Fprintf(w, "started:  %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "finished: %s (%s)\n", run.CompletedAt.Format(time.RFC3339), run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != nil {
		fmt.Fprintf(w, "error:    %s\n", *run.Error)
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tACTION\tSTATE\tDURATION\tATOM")
	for _, s := range steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Index, s.Action, s.State, s.Duration.Round(time.Millisecond), s.Atom)
	}
	_ = tw.Flush()

	if len(events) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, e := range events {
		fmt.Fprintf(w, "%s  %-7s %s\n", e.Timestamp.Format("15:04:05.000"), strings.ToUpper(e.Level), e.Message)
	}
}
