// Package cli implements the codeopen command-line interface using Cobra.
// It provides commands for creating and managing assistant-backed projects,
// credentials, and the streaming assistant proxy.
package cli

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/codeopen/codeopen/internal/apperr"
	"github.com/codeopen/codeopen/internal/config"
	"github.com/codeopen/codeopen/internal/log"
)

var (
	verbose    bool
	jsonOut    bool
	configPath string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "codeopen",
	Short: "Codeopen - per-project assistant containers on your own infrastructure",
	Long: `Codeopen turns a project name into a running development assistant:
a git repository on your forge, a container on your platform with the
assistant preinstalled, credentials injected, and a public URL.

codeopen create "My Project" provisions everything; codeopen prompt talks
to the assistant inside the container.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Options{
			Verbose:    verbose,
			JSONFormat: jsonOut || !isatty.IsTerminal(os.Stderr.Fd()),
		})

		if configPath == "" {
			configPath = os.Getenv("CODEOPEN_CONFIG")
		}
		if configPath == "" {
			configPath = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(configPath)
		return err
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// Exit codes: 2 configuration invalid, 3 upstream unreachable, 4 database
// migration required, 1 anything else. Scripts depend on these staying
// stable.
const (
	exitFailure     = 1
	exitConfig      = 2
	exitUnreachable = 3
	exitMigration   = 4
)

// ExitCode maps an error onto the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if apperr.CodeOf(err) == "db_migration_required" {
		return exitMigration
	}
	switch apperr.KindOf(err) {
	case apperr.KindConfig:
		return exitConfig
	case apperr.KindTransport:
		return exitUnreachable
	default:
		return exitFailure
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (env: CODEOPEN_CONFIG)")
}
