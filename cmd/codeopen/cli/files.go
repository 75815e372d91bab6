package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fileCmd = &cobra.Command{
	Use:   "file <project> <path>",
	Short: "Read a workspace file through the assistant",
	Args:  cobra.ExactArgs(2),
	RunE:  runFile,
}

var findCmd = &cobra.Command{
	Use:   "find <project> <pattern>",
	Short: "Search the workspace through the assistant",
	Args:  cobra.ExactArgs(2),
	RunE:  runFind,
}

func init() {
	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(findCmd)
}

func runFile(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fc, err := a.proxy.ReadFile(cmd.Context(), p.ID, args[1])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(fc)
	}
	fmt.Print(fc.Content)
	return nil
}

func runFind(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out, err := a.proxy.Find(cmd.Context(), p.ID, args[1])
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
