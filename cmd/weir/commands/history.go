package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/weir/am"
	"github.com/teranos/weir/db"
	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/history"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/sym"
)

func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: sym.History + " Inspect recorded runs",
		Long: sym.History + ` history - runs recorded in the history database (database.path).

Every transformation and job run is recorded while database.history_enabled
is true. Nested runs point at the job entry run that started them.

Examples:
  weir history ls                    # latest top-level runs
  weir history ls --all --name load  # every run of "load", nested ones too
  weir history show <run-id>         # one run with its entries and children
  weir history prune --older-than 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList,
	}
	lsCmd.Flags().Int("limit", 20, "Maximum number of runs")
	lsCmd.Flags().Bool("all", false, "Include nested runs")
	lsCmd.Flags().String("name", "", "Only runs of this transformation or job")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its entries and nested runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than a cutoff",
		Args:  cobra.NoArgs,
		RunE:  runHistoryPrune,
	}
	pruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Age of the oldest run to keep")

	historyCmd.AddCommand(lsCmd, showCmd, pruneCmd)
	return historyCmd
}

// openHistory opens the history database of cfg. Unlike a run, reading
// history with history disabled is an error.
func openHistory(cmd *cobra.Command) (*history.Store, func() error, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return openHistoryStore(cfg)
}

func openHistoryStore(cfg *am.Config) (*history.Store, func() error, error) {
	if !cfg.Database.HistoryEnabled {
		return nil, nil, errors.WithHint(
			errors.New("run history is disabled"),
			"set database.history_enabled = true, for example with weir am set database.history_enabled true")
	}
	conn, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open history database")
	}
	return history.NewStore(conn, logger.Logger), conn.Close, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	limit, _ := cmd.Flags().GetInt("limit")
	all, _ := cmd.Flags().GetBool("all")
	name, _ := cmd.Flags().GetString("name")

	runs, err := store.List(cmd.Context(), history.ListOptions{Limit: limit, TopLevel: !all, Name: name})
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return printJSON(cmd, runViews(runs))
	}
	if len(runs) == 0 {
		fmt.Fprint(cmd.OutOrStdout(), pterm.Info.Sprintln("No runs recorded"))
		return nil
	}
	data := pterm.TableData{{"Run ID", "Kind", "Name", "Status", "Started", "Duration", "Errors", "Written"}}
	for _, r := range runs {
		data = append(data, []string{
			r.ID, r.Kind, r.Name, colorStatus(r.Status),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration(r), strconv.FormatInt(r.NrErrors, 10), strconv.FormatInt(r.LinesWritten, 10),
		})
	}
	return render(cmd.OutOrStdout(), pterm.DefaultTable.WithHasHeader().WithData(data))
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	children, err := store.Children(cmd.Context(), run.ID)
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		view := newRunView(*run)
		view.Children = runViews(children)
		return printJSON(cmd, view)
	}

	out := cmd.OutOrStdout()
	rss := "-"
	if run.RSSBytes > 0 {
		rss = fmt.Sprintf("%.1f MiB", float64(run.RSSBytes)/(1<<20))
	}
	parent := run.ParentRunID
	if parent == "" {
		parent = "-"
	}
	summary := pterm.TableData{
		{"Run ID", run.ID},
		{"Parent", parent},
		{"Run", run.Kind + " " + run.Name},
		{"Status", colorStatus(run.Status)},
		{"Started", run.StartedAt.Local().Format(time.RFC3339)},
		{"Duration", duration(*run)},
		{"Errors", strconv.FormatInt(run.NrErrors, 10)},
		{"Read / written / rejected", fmt.Sprintf("%d / %d / %d", run.LinesRead, run.LinesWritten, run.LinesRejected)},
		{"Resident memory", rss},
	}
	if err := render(out, pterm.DefaultTable.WithData(summary)); err != nil {
		return err
	}

	if len(run.Entries) > 0 {
		data := pterm.TableData{{"#", "Entry", "Nr", "Result", "Errors", "Duration"}}
		for _, e := range run.Entries {
			outcome := pterm.Green("ok")
			if !e.Success {
				outcome = pterm.Red("failed")
			}
			data = append(data, []string{
				strconv.Itoa(e.Seq), e.Entry, strconv.Itoa(e.Nr), outcome,
				strconv.FormatInt(e.NrErrors, 10), e.Duration.Round(time.Millisecond).String(),
			})
		}
		fmt.Fprintln(out)
		if err := render(out, pterm.DefaultTable.WithHasHeader().WithData(data)); err != nil {
			return err
		}
	}

	if len(children) > 0 {
		data := pterm.TableData{{"Nested run", "Kind", "Name", "Status", "Duration"}}
		for _, c := range children {
			data = append(data, []string{c.ID, c.Kind, c.Name, colorStatus(c.Status), duration(c)})
		}
		fmt.Fprintln(out)
		if err := render(out, pterm.DefaultTable.WithHasHeader().WithData(data)); err != nil {
			return err
		}
	}
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	age, _ := cmd.Flags().GetDuration("older-than")
	if age <= 0 {
		return errors.Newf("--older-than must be positive, got %s", age)
	}
	n, err := store.Prune(cmd.Context(), time.Now().Add(-age))
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return printJSON(cmd, map[string]int64{"pruned": n})
	}
	fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("Pruned %s", plural(n, "run")))
	return nil
}

// runView is the JSON shape of a recorded run.
type runView struct {
	ID            string      `json:"id"`
	ParentRunID   string      `json:"parent_run_id,omitempty"`
	Kind          string      `json:"kind"`
	Name          string      `json:"name"`
	Status        string      `json:"status"`
	Errors        int64       `json:"errors"`
	ExitStatus    int         `json:"exit_status"`
	LinesRead     int64       `json:"lines_read"`
	LinesWritten  int64       `json:"lines_written"`
	LinesRejected int64       `json:"lines_rejected"`
	RSSBytes      uint64      `json:"rss_bytes,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    *time.Time  `json:"finished_at,omitempty"`
	DurationMS    int64       `json:"duration_ms"`
	Entries       []entryView `json:"entries,omitempty"`
	Children      []runView   `json:"children,omitempty"`
}

type entryView struct {
	Seq        int    `json:"seq"`
	Entry      string `json:"entry"`
	Nr         int    `json:"nr"`
	Success    bool   `json:"success"`
	Errors     int64  `json:"errors"`
	DurationMS int64  `json:"duration_ms"`
}

func newRunView(r history.Run) runView {
	v := runView{
		ID:            r.ID,
		ParentRunID:   r.ParentRunID,
		Kind:          r.Kind,
		Name:          r.Name,
		Status:        string(r.Status),
		Errors:        r.NrErrors,
		ExitStatus:    r.ExitStatus,
		LinesRead:     r.LinesRead,
		LinesWritten:  r.LinesWritten,
		LinesRejected: r.LinesRejected,
		RSSBytes:      r.RSSBytes,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		DurationMS:    r.Duration.Milliseconds(),
	}
	for _, e := range r.Entries {
		v.Entries = append(v.Entries, entryView{
			Seq: e.Seq, Entry: e.Entry, Nr: e.Nr, Success: e.Success,
			Errors: e.NrErrors, DurationMS: e.Duration.Milliseconds(),
		})
	}
	return v
}

func runViews(runs []history.Run) []runView {
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		views = append(views, newRunView(r))
	}
	return views
}

func colorStatus(s history.Status) string {
	switch s {
	case history.StatusFinished:
		return pterm.Green(string(s))
	case history.StatusFailed:
		return pterm.Red(string(s))
	case history.StatusStopped:
		return pterm.Yellow(string(s))
	}
	return pterm.Cyan(string(s))
}

func duration(r history.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.Duration.Round(time.Millisecond).String()
}
