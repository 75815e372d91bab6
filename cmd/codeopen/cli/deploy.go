package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deployForce bool

var deployCmd = &cobra.Command{
	Use:   "deploy <project>",
	Short: "Trigger a rebuild of a project's container image",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployForce, "force", false, "rebuild without cache")
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	d, err := a.orch.DeployProject(cmd.Context(), p.ID, deployForce)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(d)
	}
	fmt.Printf("Deployment %s triggered for %s\n", d.DeploymentUUID, p.Slug)
	if d.Message != "" {
		fmt.Printf("  %s\n", d.Message)
	}
	return nil
}
