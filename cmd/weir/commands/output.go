package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/job"
	"github.com/teranos/weir/result"
)

// report is the outcome of a run as printed by weir run.
type report struct {
	Kind          string        `json:"kind"`
	Name          string        `json:"name"`
	RunID         string        `json:"run_id"`
	Success       bool          `json:"success"`
	Stopped       bool          `json:"stopped"`
	ExitStatus    int           `json:"exit_status"`
	Errors        int64         `json:"errors"`
	LinesRead     int64         `json:"lines_read"`
	LinesWritten  int64         `json:"lines_written"`
	LinesRejected int64         `json:"lines_rejected"`
	Rows          int           `json:"rows"`
	Elapsed       string        `json:"elapsed"`
	Entries       []entryReport `json:"entries,omitempty"`
	Error         string        `json:"error,omitempty"`
}

type entryReport struct {
	Entry    string `json:"entry"`
	Type     string `json:"type"`
	Nr       int    `json:"nr"`
	Success  bool   `json:"success"`
	Errors   int64  `json:"errors"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

func newReport(kind, name, runID string, res *result.Result, elapsed time.Duration) *report {
	return &report{
		Kind:          kind,
		Name:          name,
		RunID:         runID,
		Success:       res.Success,
		Stopped:       res.Stopped,
		ExitStatus:    res.ExitStatus,
		Errors:        res.NrErrors,
		LinesRead:     res.LinesRead,
		LinesWritten:  res.LinesWritten,
		LinesRejected: res.LinesRejected,
		Rows:          len(res.Rows),
		Elapsed:       elapsed.Round(time.Millisecond).String(),
	}
}

func (r *report) addEntries(trail []job.EntryResult) {
	for _, er := range trail {
		e := entryReport{
			Entry:    er.Entry,
			Type:     er.Type,
			Nr:       er.Nr,
			Success:  er.Success,
			Errors:   er.NrErrors,
			Duration: er.Duration.Round(time.Millisecond).String(),
		}
		if er.Err != nil {
			e.Error = er.Err.Error()
		}
		r.Entries = append(r.Entries, e)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func printReport(cmd *cobra.Command, rep *report, res *result.Result, showRows bool) error {
	if jsonOutput(cmd) {
		if showRows {
			return printJSON(cmd, struct {
				*report
				Records []map[string]any `json:"records"`
			}{rep, rowMaps(res)})
		}
		return printJSON(cmd, rep)
	}

	out := cmd.OutOrStdout()
	status := pterm.Green("success")
	switch {
	case rep.Stopped:
		status = pterm.Yellow("stopped")
	case !rep.Success:
		status = pterm.Red("failed")
	}

	summary := pterm.TableData{
		{"Run", rep.Kind + " " + rep.Name},
		{"Run ID", rep.RunID},
		{"Status", status},
		{"Errors", strconv.FormatInt(rep.Errors, 10)},
		{"Read / written / rejected", fmt.Sprintf("%d / %d / %d", rep.LinesRead, rep.LinesWritten, rep.LinesRejected)},
		{"Result rows", strconv.Itoa(rep.Rows)},
		{"Elapsed", rep.Elapsed},
	}
	if err := render(out, pterm.DefaultTable.WithData(summary)); err != nil {
		return err
	}

	if len(rep.Entries) > 0 {
		fmt.Fprintln(out)
		data := pterm.TableData{{"#", "Entry", "Type", "Nr", "Result", "Errors", "Duration"}}
		for i, e := range rep.Entries {
			outcome := pterm.Green("ok")
			if !e.Success {
				outcome = pterm.Red("failed")
			}
			data = append(data, []string{
				strconv.Itoa(i + 1), e.Entry, e.Type, strconv.Itoa(e.Nr), outcome,
				strconv.FormatInt(e.Errors, 10), e.Duration,
			})
		}
		if err := render(out, pterm.DefaultTable.WithHasHeader().WithData(data)); err != nil {
			return err
		}
	}

	if showRows && len(res.Rows) > 0 {
		fmt.Fprintln(out)
		if err := renderRows(out, res); err != nil {
			return err
		}
	}

	if rep.Error != "" {
		fmt.Fprintln(out)
		fmt.Fprint(out, pterm.Error.Sprintln(rep.Error))
	}
	return nil
}

// rowMaps turns result rows into field/value maps.
func rowMaps(res *result.Result) []map[string]any {
	out := make([]map[string]any, 0, len(res.Rows))
	for _, rw := range res.Rows {
		m := make(map[string]any)
		if rw.Schema != nil {
			for _, name := range rw.Schema.Names() {
				m[name] = rw.Get(name)
			}
		}
		out = append(out, m)
	}
	return out
}

// renderRows prints result rows under the schema of the first row.
func renderRows(out io.Writer, res *result.Result) error {
	schema := res.Rows[0].Schema
	if schema == nil {
		return nil
	}
	names := schema.Names()
	data := pterm.TableData{names}
	for _, rw := range res.Rows {
		line := make([]string, len(names))
		for i, name := range names {
			line[i] = fmt.Sprint(rw.Get(name))
		}
		data = append(data, line)
	}
	return render(out, pterm.DefaultTable.WithHasHeader().WithData(data))
}

func render(out io.Writer, table *pterm.TablePrinter) error {
	s, err := table.Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, s)
	return err
}
