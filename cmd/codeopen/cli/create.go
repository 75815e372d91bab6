package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codeopen/codeopen/internal/orchestrator"
)

var (
	createDescription string
	createTemplate    string
	createFlavor      string
	createAddons      []string
	createTier        string
	createProvider    string
	createModel       string
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Long: `Create a project: a repository on the forge, a container application on
the platform with the assistant image, injected credentials, and a local
record. The container is created stopped; use codeopen start to boot it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVarP(&createDescription, "description", "d", "", "project description")
	createCmd.Flags().StringVar(&createTemplate, "template", "", "git URL to import instead of an empty repository")
	createCmd.Flags().StringVar(&createFlavor, "flavor", "", "image flavor (default: catalog default)")
	createCmd.Flags().StringArrayVar(&createAddons, "addon", nil, "image addon (repeatable)")
	createCmd.Flags().StringVar(&createTier, "tier", "", "resource tier (default: catalog default)")
	createCmd.Flags().StringVar(&createProvider, "provider", "", "LLM provider id (default: configured default)")
	createCmd.Flags().StringVar(&createModel, "model", "", "model override")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.orch.CreateProject(cmd.Context(), orchestrator.CreateProjectInput{
		Name:        strings.Join(args, " "),
		Description: createDescription,
		TemplateURL: createTemplate,
		FlavorID:    createFlavor,
		AddonIDs:    createAddons,
		TierID:      createTier,
		ProviderID:  createProvider,
		ModelID:     createModel,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(result)
	}
	p := result.Project
	fmt.Printf("Created project %s (%s)\n", p.Slug, p.ID)
	fmt.Printf("  repository: %s/%s\n", p.ForgeOwner, p.Slug)
	fmt.Printf("  clone url:  %s\n", p.CloneURLPublic)
	fmt.Printf("  app uuid:   %s\n", p.PlatformAppUUID)
	fmt.Printf("  port:       %d\n", p.ContainerPort)
	for _, w := range result.Warnings {
		fmt.Printf("  warning:    %s\n", w)
	}
	fmt.Printf("\nRun codeopen start %s to boot the container.\n", p.Slug)
	return nil
}
