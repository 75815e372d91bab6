package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <project>",
	Short: "Start a project's container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycle(cmd, args[0], "started", func(ctx context.Context, a *app, id string) error {
			return a.orch.StartProject(ctx, id)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <project>",
	Short: "Stop a project's container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycle(cmd, args[0], "stopped", func(ctx context.Context, a *app, id string) error {
			return a.orch.StopProject(ctx, id)
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <project>",
	Short: "Restart a project's container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycle(cmd, args[0], "restarted", func(ctx context.Context, a *app, id string) error {
			return a.orch.RestartProject(ctx, id)
		})
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
}

func lifecycle(cmd *cobra.Command, ref, verb string, fn func(context.Context, *app, string) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), ref)
	if err != nil {
		return err
	}
	if err := fn(cmd.Context(), a, p.ID); err != nil {
		return err
	}
	fmt.Printf("Project %s %s\n", p.Slug, verb)
	return nil
}
