package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/quill/internal/schedule"
)

var rulesNext int

var rulesCmd = &cobra.Command{
	Use:   "rules <file>",
	Short: "Validate a schedule rules file and show upcoming runs",
	Long: `Validate a YAML schedule rules file and print when each rule fires next.

File format:

  rules:
    - kind: SUMMARIZE
      schedule: "0 9 * * 1"     # minute hour day month day-of-week
      params:
        path: posts/weekly.md
    - kind: PUBLISH_POST
      schedule: "*/30 * * * *"
      enabled: false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := schedule.LoadRulesFile(args[0])
		if err != nil {
			return err
		}
		printRules(cmd.OutOrStdout(), rules, time.Now(), rulesNext)
		return nil
	},
}

func init() {
	rulesCmd.Flags().IntVarP(&rulesNext, "next", "n", 3, "Number of upcoming runs to show per rule")
}

func printRules(w io.Writer, rules []schedule.Rule, now time.Time, next int) {
	printStatus(w, "✓", fmt.Sprintf("%d rule(s) valid", len(rules)), color.FgGreen)
	for _, r := range rules {
		state := color.GreenString("enabled")
		if !r.Enabled {
			state = color.YellowString("disabled")
		}
		fmt.Fprintf(w, "\n%s  %q  %s\n", r.Kind, r.Expr.String(), state)
		if len(r.Params) > 0 {
			var parts []string
			for k, v := range r.Params {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			fmt.Fprintf(w, "  params: %s\n", strings.Join(sortedStrings(parts), ", "))
		}

		from := now
		for i := 0; i < next; i++ {
			at, ok := r.Expr.Next(from)
			if !ok {
				if i == 0 {
					fmt.Fprintln(w, "  never fires within a year")
				}
				break
			}
			fmt.Fprintf(w, "  next: %s\n", at.Format("Mon 2006-01-02 15:04"))
			from = at
		}
	}
}
