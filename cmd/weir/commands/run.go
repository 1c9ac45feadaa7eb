package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/weir/definition"
	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/job"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/result"
	"github.com/teranos/weir/sym"
	"github.com/teranos/weir/trans"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a transformation or a job",
		Long: `Run a transformation or a job from a YAML or TOML definition file.

Ctrl+C stops the run gracefully: steps finish the row in hand, the job
finishes its current entry. A second Ctrl+C, or engine.stop_timeout_seconds
passing, cancels it outright. The command exits non-zero when the run fails.

A job whose start entry repeats runs until stopped. With --watch it rereads
its file between walks, so edits take effect from the next walk on.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	transCmd := &cobra.Command{
		Use:   "trans <file>",
		Short: sym.Trans + " Run a transformation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDefinition(cmd, args[0], definition.KindTransformation)
		},
	}
	jobCmd := &cobra.Command{
		Use:   "job <file>",
		Short: sym.Job + " Run a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDefinition(cmd, args[0], definition.KindJob)
		},
	}
	for _, c := range []*cobra.Command{transCmd, jobCmd} {
		c.Flags().Bool("rows", false, "Print the result rows")
		runCmd.AddCommand(c)
	}
	jobCmd.Flags().Bool("watch", false, "Reload the job file between repeated walks when it changes")
	return runCmd
}

// runnable is a transformation or job run driven from the command line.
type runnable interface {
	RunID() string
	Execute(ctx context.Context) (*result.Result, error)
	Stop()
	Done() <-chan struct{}
}

func runDefinition(cmd *cobra.Command, path string, want definition.Kind) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	def, err := definition.LoadFile(path)
	if err != nil {
		return err
	}
	if def.Kind != want {
		return errors.WithHintf(
			errors.Newf("%s defines a %s, not a %s", path, def.Kind, want),
			"use weir run %s %s", shortKind(def.Kind), path)
	}

	log := logger.Logger
	eng, err := newEngine(cfg, path, log, true)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := definition.Validate(def, eng.steps, eng.entries); err != nil {
		return err
	}

	var (
		r          runnable
		entryTrail func() []job.EntryResult
	)
	switch def.Kind {
	case definition.KindTransformation:
		r = trans.NewGraph(def.Trans, eng.steps, eng.transOptions())
	case definition.KindJob:
		opts := eng.jobOptions()
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			w, err := definition.NewWatcher(path, log)
			if err != nil {
				return err
			}
			defer w.Close()
			opts.Source = w
		}
		j := job.New(def.Job, eng.entries, opts)
		r, entryTrail = j, j.EntryResults
	}

	started := time.Now()
	res, runErr := execute(cmd.Context(), r, cfg.Engine.StopTimeout(), !jsonOutput(cmd))
	if res == nil {
		res = result.Failed(1)
	}

	rep := newReport(string(def.Kind), def.Name(), r.RunID(), res, time.Since(started))
	if entryTrail != nil {
		rep.addEntries(entryTrail())
	}
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	showRows, _ := cmd.Flags().GetBool("rows")
	if err := printReport(cmd, rep, res, showRows); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if !res.Success {
		if res.Stopped {
			return errors.Newf("%s %s was stopped", def.Kind, def.Name())
		}
		return errors.Newf("%s %s failed with %d error(s)", def.Kind, def.Name(), res.NrErrors)
	}
	return nil
}

// execute runs r until it ends. The first interrupt stops r gracefully; a
// second one, or stopTimeout passing after the first, cancels its context.
func execute(parent context.Context, r runnable, stopTimeout time.Duration, interactive bool) (*result.Result, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		select {
		case <-sigs:
		case <-r.Done():
			return
		case <-ctx.Done():
			return
		}
		if interactive {
			pterm.Warning.Println("Stopping, press Ctrl+C again to abort")
		}
		logger.Logger.Infow("Interrupt received, stopping run", logger.FieldRunID, r.RunID())
		r.Stop()

		var deadline <-chan time.Time
		if stopTimeout > 0 {
			timer := time.NewTimer(stopTimeout)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-sigs:
		case <-deadline:
			logger.Logger.Warnw("Run did not stop in time, cancelling", logger.FieldRunID, r.RunID(), "timeout", stopTimeout)
		case <-r.Done():
			return
		case <-ctx.Done():
			return
		}
		cancel()
	}()

	return r.Execute(ctx)
}

func shortKind(k definition.Kind) string {
	if k == definition.KindTransformation {
		return "trans"
	}
	return string(k)
}

func plural(n int64, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
