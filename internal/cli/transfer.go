package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	exportOutput string
	importMerge  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the task set as JSON",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load tasks from an export",
	Long: `Load tasks from a file produced by "cronkeeper export".

Without --merge the stored task set is replaced. Execution history is kept.
Entries that fail validation are reported and skipped. Stop the daemon first;
a running instance does not see offline imports.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	importCmd.Flags().BoolVar(&importMerge, "merge", false, "merge with existing tasks instead of replacing them")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	st, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	b, err := st.Export()
	if err != nil {
		return err
	}
	if exportOutput == "" {
		return writeAll(cmd.OutOrStdout(), append(b, '\n'))
	}
	if err := os.WriteFile(exportOutput, b, 0o600); err != nil {
		return err
	}
	cmd.Printf("exported %d tasks to %s\n", st.Len(), exportOutput)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	st, closeFn, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := st.Import(data, importMerge)
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}
	if err := st.Flush(context.Background()); err != nil {
		return err
	}
	for _, e := range res.Errors {
		cmd.PrintErrf("skipped: %s\n", e)
	}
	cmd.Printf("imported %d tasks (%d skipped)\n", res.Imported, len(res.Errors))
	return nil
}
