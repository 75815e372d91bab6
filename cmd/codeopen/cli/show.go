package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <project>",
	Short: "Show a project with its live container status",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	view, err := a.orch.GetProjectWithStatus(cmd.Context(), p.ID)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(view)
	}
	fmt.Printf("%s (%s)\n", p.Slug, p.ID)
	fmt.Printf("  name:       %s\n", p.Name)
	if p.Description != "" {
		fmt.Printf("  about:      %s\n", p.Description)
	}
	fmt.Printf("  status:     %s", p.Status)
	if p.StatusDetail != "" {
		fmt.Printf(" (%s)", p.StatusDetail)
	}
	fmt.Println()
	fmt.Printf("  container:  %s\n", view.ContainerStatus)
	fmt.Printf("  repository: %s/%s\n", p.ForgeOwner, p.Slug)
	fmt.Printf("  clone url:  %s\n", p.CloneURLPublic)
	fmt.Printf("  port:       %d\n", p.ContainerPort)
	if view.FQDN != "" {
		fmt.Printf("  url:        %s\n", view.FQDN)
	}
	if p.LLMProviderID != "" {
		fmt.Printf("  provider:   %s\n", p.LLMProviderID)
	}
	fmt.Printf("  created:    %s ago\n", formatAge(p.CreatedAt))
	return nil
}
