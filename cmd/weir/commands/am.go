package commands

import (
	"fmt"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/weir/am"
	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/sym"
)

func newAmCmd() *cobra.Command {
	amCmd := &cobra.Command{
		Use:   "am",
		Short: sym.AM + " Show and change configuration",
		Long: sym.AM + ` am - weir configuration

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/weir/am.toml)
3. User config (~/.weir/am.toml)
4. Project config (am.toml, searched from the working directory upwards)
5. Environment variables (WEIR_* prefix, e.g. WEIR_ENGINE_CHANNEL_CAPACITY)

--config replaces 2-4 with a single file.

Examples:
  weir am show                              # current configuration as TOML
  weir am show --format json                # ... as JSON
  weir am where                             # where each setting came from
  weir am set engine.failure_policy isolated
  weir am validate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE:  runAmShow,
	}
	showCmd.Flags().String("format", "toml", "Output format: toml, json, yaml")

	whereCmd := &cobra.Command{
		Use:   "where",
		Short: "Show where each setting comes from",
		Args:  cobra.NoArgs,
		RunE:  runAmWhere,
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return errors.Wrap(err, "configuration validation failed")
			}
			if jsonOutput(cmd) {
				return printJSON(cmd, map[string]bool{"valid": true})
			}
			fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("Configuration is valid"))
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting in the user config file",
		Long: `Change one setting using dot notation, e.g. engine.channel_capacity.

The user config file (~/.weir/am.toml) is written, or the --config file when
given. The previous three versions are kept as .back1 to .back3.`,
		Args: cobra.ExactArgs(2),
		RunE: runAmSet,
	}

	amCmd.AddCommand(showCmd, whereCmd, validateCmd, setCmd)
	return amCmd
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if jsonOutput(cmd) {
		format = "json"
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		return printJSON(cmd, cfg)
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# weir configuration\n%s", data)
	case "toml":
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "# weir configuration\n%s", data)
	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}

	var (
		intro *am.ConfigIntrospection
		err   error
	)
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		intro, err = am.FileIntrospection(path)
	} else {
		intro, err = am.GetConfigIntrospection()
	}
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return printJSON(cmd, intro)
	}

	sort.SliceStable(intro.Settings, func(i, j int) bool { return intro.Settings[i].Key < intro.Settings[j].Key })
	data := pterm.TableData{{"Setting", "Value", "Source", "From"}}
	for _, s := range intro.Settings {
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return render(cmd.OutOrStdout(), pterm.DefaultTable.WithHasHeader().WithData(data))
}

func runAmSet(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = am.UserConfigPath()
	}
	if path == "" {
		return errors.New("cannot locate the user config file: no home directory")
	}

	cfg, err := am.Set(path, args[0], args[1])
	if err != nil {
		return err
	}
	am.Reset()

	if jsonOutput(cmd) {
		return printJSON(cmd, map[string]any{"file": path, "key": args[0], "config": cfg})
	}
	fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("%s = %s written to %s", args[0], args[1], path))
	return nil
}
