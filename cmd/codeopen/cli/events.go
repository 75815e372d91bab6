package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var eventsURLOnly bool

var eventsCmd = &cobra.Command{
	Use:   "events <project>",
	Short: "Stream assistant events from a project",
	Long: `Stream the assistant's server-sent events as JSON lines until interrupted.
With --url, print the event stream URL instead so another tool can connect
directly, bypassing this process.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().BoolVar(&eventsURLOnly, "url", false, "print the stream URL and exit")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if eventsURLOnly {
		u, err := a.proxy.EventStreamURL(cmd.Context(), p.ID)
		if err != nil {
			return err
		}
		fmt.Println(u)
		return nil
	}

	stream, err := a.proxy.SubscribeEvents(cmd.Context(), p.ID)
	if err != nil {
		return err
	}
	defer stream.Close()

	enc := json.NewEncoder(os.Stdout)
	for ev := range stream.Events() {
		line := map[string]any{"type": ev.Type, "properties": json.RawMessage(ev.Properties)}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return stream.Err()
}
