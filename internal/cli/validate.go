package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cronkeeper/internal/task/cron"
)

var (
	validateTZ    string
	validateCount int
)

var validateCmd = &cobra.Command{
	Use:   "validate <expression>",
	Short: "Check a cron expression and preview its next triggers",
	Long: `Check a 5-field cron expression (minute hour day-of-month month day-of-week).

Quote the expression so the shell does not expand "*":

  cronkeeper validate "*/15 9-17 * * 1-5"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateTZ, "tz", "", "timezone for the preview (default: local)")
	validateCmd.Flags().IntVarP(&validateCount, "count", "n", 5, "number of upcoming triggers to show")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	expr := strings.Join(args, " ")
	loc := time.Local
	if validateTZ != "" {
		l, err := time.LoadLocation(validateTZ)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", validateTZ, err)
		}
		loc = l
	}

	eng := cron.New(loc)
	v := eng.Validate(expr)
	if !v.Valid {
		return fmt.Errorf("invalid expression %q: %s", expr, v.Error)
	}
	cmd.Printf("valid: %s\n", expr)
	if v.Description != "" {
		cmd.Printf("  %s\n", v.Description)
	}
	next, err := eng.Preview(expr, time.Now().In(loc), validateCount)
	if err != nil {
		return err
	}
	for _, t := range next {
		cmd.Printf("  %s\n", t.Format(time.RFC3339))
	}
	return nil
}
