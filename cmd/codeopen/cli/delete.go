package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeopen/codeopen/internal/orchestrator"
)

var deleteKeepRepo bool

var deleteCmd = &cobra.Command{
	Use:   "delete <project>",
	Short: "Delete a project, its container and (by default) its repository",
	Long: `Delete a project. The container application is always removed; the forge
repository too unless --keep-repo is given. Remote cleanup failures are
reported as warnings and never block removing the local record.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteKeepRepo, "keep-repo", false, "leave the forge repository in place")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	warnings, err := a.orch.DeleteProject(cmd.Context(), p.ID, orchestrator.DeleteOptions{
		DeleteRepo: !deleteKeepRepo,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{"deleted": p.ID, "warnings": warnings})
	}
	fmt.Printf("Project %s deleted\n", p.Slug)
	for _, w := range warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	return nil
}
