package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/quill/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify quill configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/quill/config.yaml
Project-specific overrides can be placed in .quill.yaml
Any key can be overridden with QUILL_<KEY>, e.g. QUILL_QUEUE_MAX_CONCURRENT=4`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			fmt.Fprintf(out, "# user config:    %s\n", config.GetUserConfigPath())
			if project := config.GetProjectConfigPath(); project != "" {
				fmt.Fprintf(out, "# project config: %s\n", project)
			}
			fmt.Fprintf(out, "# api key source: %s\n", config.GetAPIKeySource(cfg))
			settings := cfg.Settings()
			keys := make([]string, 0, len(settings))
			for k := range settings {
				keys = append(keys, k)
			}
			for _, k := range sortedStrings(keys) {
				fmt.Fprintf(out, "%s: %v\n", k, settings[k])
			}
		case 1:
			value, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
		default:
			updated, err := cfg.Set(args[0], args[1])
			if err != nil {
				return err
			}
			if err := config.Save(updated); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			printStatus(out, "✓", fmt.Sprintf("Set %s = %s", args[0], args[1]), color.FgGreen)
		}
		return nil
	},
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}
