package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logsLines int

var logsCmd = &cobra.Command{
	Use:   "logs <project>",
	Short: "Show recent container logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "number of lines to fetch")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out, err := a.orch.GetLogs(cmd.Context(), p.ID, logsLines)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
