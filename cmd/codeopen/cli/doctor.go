package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeopen/codeopen/internal/apperr"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and upstream connectivity",
	Long: `Validate the configuration, then verify the forge and platform answer with
the configured tokens. Exits 2 on invalid configuration and 3 when an
upstream is unreachable.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		fmt.Printf("✗ configuration: %v\n", err)
		return err
	}
	fmt.Println("✓ configuration valid")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	var failed error

	user, err := a.forge.CurrentUser(ctx)
	if err != nil {
		fmt.Printf("✗ forge %s: %v\n", cfg.Forge.BaseURL, err)
		failed = err
	} else {
		fmt.Printf("✓ forge %s (authenticated as %s)\n", cfg.Forge.BaseURL, user.Login)
	}

	servers, err := a.plat.ListServers(ctx)
	if err != nil {
		fmt.Printf("✗ platform %s: %v\n", cfg.Platform.BaseURL, err)
		failed = err
	} else {
		fmt.Printf("✓ platform %s (%d servers)\n", cfg.Platform.BaseURL, len(servers))
		found := false
		for _, s := range servers {
			if s.UUID == cfg.Platform.ServerUUID {
				found = true
				break
			}
		}
		if !found {
			fmt.Printf("✗ configured server %s not visible to this token\n", cfg.Platform.ServerUUID)
			failed = apperr.New(apperr.KindConfig, "server_not_found",
				"server %s not found on platform", cfg.Platform.ServerUUID)
		}
	}

	cat, err := a.store.Catalog(ctx)
	if err != nil {
		fmt.Printf("✗ catalog: %v\n", err)
		failed = err
	} else {
		fmt.Printf("✓ catalog: %d flavors, %d addons, %d tiers\n",
			len(cat.Flavors), len(cat.Addons), len(cat.Tiers))
	}

	if failed != nil {
		return failed
	}
	fmt.Println("All checks passed")
	return nil
}
