package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/mcpipe/internal/display"
	"github.com/ChuLiYu/mcpipe/internal/journal"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
)

func buildLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect persisted workflow logs",
	}
	cmd.AddCommand(buildLogShowCommand())
	cmd.AddCommand(buildLogRecoverCommand())
	return cmd
}

func buildLogShowCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "show [PROD_ID]",
		Short: "Print every job recorded for a production",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				if len(args) == 0 {
					return fmt.Errorf("give a production id or --file")
				}
				dir, err := resolveLogDir("")
				if err != nil {
					return err
				}
				path = filepath.Join(dir, workflowlog.FileName(args[0]))
			}
			return showLog(cmd, path)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "workflow log file")
	return cmd
}

func showLog(cmd *cobra.Command, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to read workflow log: %w", err)
	}
	doc, err := workflowlog.NewStore(path, "").Load()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Workflow log: %s\n", path)
	display.Document(cmd.OutOrStdout(), doc)
	return nil
}

func buildLogRecoverCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "recover PROD_ID",
		Short: "Rebuild missing workflow log stages from the submission journal",
		Long: `Replay the submission journal of a production and persist every stage the
workflow log is missing, such as a stage cut short by a crash. Stages already
in the log are left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logDir, err := resolveLogDir(dir)
			if err != nil {
				return err
			}
			prodID := args[0]

			logs, err := journal.Rebuild(filepath.Join(logDir, journal.FileName(prodID)))
			if err != nil {
				return fmt.Errorf("failed to replay journal: %w", err)
			}
			store := workflowlog.NewStore(filepath.Join(logDir, workflowlog.FileName(prodID)), prodID)
			restored, err := store.Restore(logs...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(restored) == 0 {
				fmt.Fprintf(out, "Workflow log %s is complete\n", store.Path())
				return nil
			}
			for _, name := range restored {
				fmt.Fprintf(out, "Restored %s\n", name)
			}
			fmt.Fprintf(out, "Workflow log: %s\n", store.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "log_dir", "", "directory holding the log and journal (default $"+EnvProdLogs+")")
	return cmd
}
