package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/weir/am"
	"github.com/teranos/weir/definition"
	"github.com/teranos/weir/logger"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check definition files without running them",
		Long: `Parse each definition file and check its topology: unique names,
known step and entry types, hops and edges between existing nodes, and no
cycles except through loop edges. Nothing is executed and no database is opened.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			type verdict struct {
				File  string `json:"file"`
				Kind  string `json:"kind,omitempty"`
				Name  string `json:"name,omitempty"`
				Valid bool   `json:"valid"`
				Error string `json:"error,omitempty"`
			}
			var (
				verdicts []verdict
				firstErr error
			)
			for _, path := range args {
				v := verdict{File: path}
				def, err := validateFile(cfg, path)
				if def != nil {
					v.Kind, v.Name = string(def.Kind), def.Name()
				}
				if err != nil {
					v.Error = err.Error()
					if firstErr == nil {
						firstErr = err
					}
				}
				v.Valid = err == nil
				verdicts = append(verdicts, v)
			}

			if jsonOutput(cmd) {
				if err := printJSON(cmd, verdicts); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, v := range verdicts {
					if v.Valid {
						fmt.Fprint(out, pterm.Success.Sprintfln("%s: %s %s is valid", v.File, v.Kind, v.Name))
					} else {
						fmt.Fprint(out, pterm.Error.Sprintfln("%s: %s", v.File, v.Error))
					}
				}
			}
			return firstErr
		},
	}
}

// validateFile parses path and checks it against the built-in kinds. The
// definition is returned whenever it parsed, valid or not.
func validateFile(cfg *am.Config, path string) (*definition.Definition, error) {
	def, err := definition.LoadFile(path)
	if err != nil {
		return nil, err
	}
	eng, err := newEngine(cfg, path, logger.Logger, false)
	if err != nil {
		return def, err
	}
	defer eng.Close()
	return def, definition.Validate(def, eng.steps, eng.entries)
}
