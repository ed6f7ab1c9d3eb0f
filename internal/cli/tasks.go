package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cronkeeper/internal/task"
	"cronkeeper/internal/task/stats"
)

var (
	tasksJSON    bool
	historyLimit int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List stored tasks",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

var historyCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "Show recent executions, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	tasksCmd.Flags().BoolVar(&tasksJSON, "json", false, "print tasks as JSON")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum records to show (0 = all)")
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(historyCmd)
}

func runTasks(cmd *cobra.Command, _ []string) error {
	st, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	list := st.List()
	if tasksJSON {
		b, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		return writeAll(cmd.OutOrStdout(), append(b, '\n'))
	}
	if len(list) == 0 {
		cmd.Println("no tasks")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSCHEDULE\tSTATUS\tNEXT RUN\tRUNS")
	for _, t := range list {
		sched := t.CronExpression
		if sched == "" {
			sched = "after " + fmt.Sprint(t.DependsOn())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			t.ID, t.Name, t.Type, sched, stats.StatusOf(t, nil), formatTime(t.NextRun), t.RunCount)
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	var recs []task.ExecutionRecord
	if len(args) == 1 {
		recs = st.TaskHistory(args[0], historyLimit)
	} else {
		recs = st.History(historyLimit)
	}
	if len(recs) == 0 {
		cmd.Println("no executions")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXECUTED AT\tTASK\tTRIGGER\tOK\tDURATION\tERROR")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			r.ExecutedAt.Format(time.RFC3339), r.TaskID, r.Trigger, r.Success,
			time.Duration(r.DurationMS)*time.Millisecond, r.Error)
	}
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
