package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeopen/codeopen/internal/apperr"
	"github.com/codeopen/codeopen/internal/store"
	"github.com/codeopen/codeopen/internal/vault"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage LLM credentials and push them into containers",
}

var credUpdateProvider string

var credentialsUpdateCmd = &cobra.Command{
	Use:   "update <project>",
	Short: "Push credentials into one project's container",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialsUpdate,
}

var credentialsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push current credentials into every running project",
	RunE:  runCredentialsSync,
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage configured LLM providers",
}

var (
	providerKind         string
	providerModel        string
	providerMaterialFile string
	providerDefault      bool
)

var providersAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add or update an LLM provider",
	Long: `Add or update an LLM provider. The credential material is JSON read from
--material-file or, when the flag is absent, from stdin, never from argv,
so secrets stay out of shell history and process listings.`,
	Args: cobra.ExactArgs(1),
	RunE: runProvidersAdd,
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers",
	RunE:  runProvidersList,
}

var providersDefaultCmd = &cobra.Command{
	Use:   "default <id>",
	Short: "Set the default provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersDefault,
}

func init() {
	credentialsUpdateCmd.Flags().StringVar(&credUpdateProvider, "provider", "", "switch the project to this provider")
	credentialsCmd.AddCommand(credentialsUpdateCmd)
	credentialsCmd.AddCommand(credentialsSyncCmd)
	rootCmd.AddCommand(credentialsCmd)

	providersAddCmd.Flags().StringVar(&providerKind, "kind", "", "provider kind, e.g. anthropic or openai (required)")
	providersAddCmd.Flags().StringVar(&providerModel, "model", "", "default model for this provider")
	providersAddCmd.Flags().StringVar(&providerMaterialFile, "material-file", "", "file holding the credential JSON (default: stdin)")
	providersAddCmd.Flags().BoolVar(&providerDefault, "default", false, "make this the default provider")
	providersCmd.AddCommand(providersAddCmd)
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersDefaultCmd)
	rootCmd.AddCommand(providersCmd)
}

func runCredentialsUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := a.orch.UpdateCredentials(cmd.Context(), p.ID, credUpdateProvider); err != nil {
		return err
	}
	fmt.Printf("Credentials updated for %s\n", p.Slug)
	return nil
}

func runCredentialsSync(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.orch.SyncCredentialsToAllProjects(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(res)
	}
	fmt.Printf("Synced credentials: %d updated, %d failed\n", res.Updated, res.Failed)
	return nil
}

func runProvidersAdd(cmd *cobra.Command, args []string) error {
	if providerKind == "" {
		return apperr.New(apperr.KindValidation, "missing_kind", "--kind is required")
	}

	material, err := readMaterial()
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id := args[0]
	if err := a.store.PutProvider(cmd.Context(), &store.Provider{
		ID:                 id,
		Kind:               providerKind,
		CredentialMaterial: material,
		DefaultModel:       providerModel,
		IsDefault:          providerDefault,
	}); err != nil {
		return err
	}
	if providerDefault {
		if err := a.store.PutSetting(cmd.Context(), vault.DefaultProviderSetting, id); err != nil {
			return err
		}
	}
	fmt.Printf("Provider %s stored\n", id)
	return nil
}

func readMaterial() (string, error) {
	var data []byte
	var err error
	if providerMaterialFile != "" {
		data, err = os.ReadFile(providerMaterialFile)
	} else {
		data, err = os.ReadFile("/dev/stdin")
	}
	if err != nil {
		return "", fmt.Errorf("reading credential material: %w", err)
	}
	return string(data), nil
}

func runProvidersList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	providers, err := a.store.ListProviders(cmd.Context())
	if err != nil {
		return err
	}
	// Credential material is never printed, in either output mode.
	type view struct {
		ID        string `json:"id"`
		Kind      string `json:"kind"`
		Model     string `json:"default_model,omitempty"`
		IsDefault bool   `json:"is_default"`
	}
	views := make([]view, 0, len(providers))
	for _, p := range providers {
		views = append(views, view{ID: p.ID, Kind: p.Kind, Model: p.DefaultModel, IsDefault: p.IsDefault})
	}

	if jsonOut {
		return printJSON(views)
	}
	if len(views) == 0 {
		fmt.Println("No providers configured")
		return nil
	}
	for _, v := range views {
		marker := " "
		if v.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %s (%s)", marker, v.ID, v.Kind)
		if v.Model != "" {
			fmt.Printf(" model=%s", v.Model)
		}
		fmt.Println()
	}
	return nil
}

func runProvidersDefault(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// Verify it exists before pointing the default at it.
	if _, err := a.store.GetProvider(cmd.Context(), args[0]); err != nil {
		return err
	}
	if err := a.store.PutSetting(cmd.Context(), vault.DefaultProviderSetting, args[0]); err != nil {
		return err
	}
	fmt.Printf("Default provider set to %s\n", args[0])
	return nil
}
