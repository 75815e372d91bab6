package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeopen/codeopen/internal/assistant"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions <project>",
	Short: "List assistant sessions in a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessions,
}

var (
	promptSession string
	promptTitle   string
)

var promptCmd = &cobra.Command{
	Use:   "prompt <project> <text>...",
	Short: "Send a prompt to a project's assistant",
	Long: `Send a prompt to the assistant running inside a project's container.
Without --session a new session is created first.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPrompt,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)

	promptCmd.Flags().StringVarP(&promptSession, "session", "s", "", "existing session id")
	promptCmd.Flags().StringVar(&promptTitle, "title", "", "title for the new session")
	rootCmd.AddCommand(promptCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	sessions, err := a.proxy.ListSessions(cmd.Context(), p.ID)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  %s\n", s.ID, s.Title)
	}
	return nil
}

func runPrompt(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.orch.ResolveProject(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	sessionID := promptSession
	if sessionID == "" {
		s, err := a.proxy.CreateSession(cmd.Context(), p.ID, promptTitle)
		if err != nil {
			return err
		}
		sessionID = s.ID
		fmt.Fprintf(cmd.ErrOrStderr(), "session %s\n", sessionID)
	}

	parts := make([]assistant.MessagePart, 0, len(args)-1)
	for _, text := range args[1:] {
		parts = append(parts, assistant.MessagePart{Type: "text", Text: text})
	}
	reply, err := a.proxy.SendMessage(cmd.Context(), p.ID, sessionID, parts)
	if err != nil {
		return err
	}
	fmt.Println(string(reply))
	return nil
}
