package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/pkg/conversation"
)

var (
	sessionKey  string
	sweepHours  float64
	sweepDryRun bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print a session's conversation",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete a session's conversation",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete conversations with no recent activity",
	Long: `Delete every session whose newest message is older than --hours.
Defaults to conversation.inactivity from the configuration.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	for _, c := range []*cobra.Command{historyCmd, clearCmd} {
		c.Flags().StringVarP(&sessionKey, "session", "s", "", "Session key")
		_ = c.MarkFlagRequired("session")
	}
	sweepCmd.Flags().Float64Var(&sweepHours, "hours", 0, "Inactivity threshold in hours")
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Only report what would be deleted")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(sweepCmd)
}

func openConversations() (*conversation.Store, func(), error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, nil, err
	}
	st, err := conversation.Open(cfg.Conversation, log)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return st, func() {
		_ = st.Close()
		log.Sync()
	}, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, done, err := openConversations()
	if err != nil {
		return err
	}
	defer done()

	turns, err := st.History(cmd.Context(), sessionKey)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		color.Yellow("No messages for session %s", sessionKey)
		return nil
	}

	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	for _, t := range turns {
		stamp := t.CreatedAt.Local().Format(time.DateTime)
		if t.Role == models.RoleUser {
			userPrompt("[%s] You: %s\n", stamp, t.Content)
		} else {
			assistantPrompt("[%s] Assistant: %s\n", stamp, t.Content)
		}
	}
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	st, done, err := openConversations()
	if err != nil {
		return err
	}
	defer done()

	n, err := st.Clear(cmd.Context(), sessionKey)
	if err != nil {
		return err
	}
	color.Green("✓ Deleted %d messages from session %s", n, sessionKey)
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := conversation.Open(cfg.Conversation, log)
	if err != nil {
		return err
	}
	defer st.Close()

	inactivity := cfg.Conversation.Inactivity
	if sweepHours > 0 {
		inactivity = time.Duration(sweepHours * float64(time.Hour))
	}
	cutoff := time.Now().Add(-inactivity)

	res, err := st.SweepInactive(cmd.Context(), cutoff, sweepDryRun)
	if err != nil {
		return err
	}

	for _, a := range res.Sessions {
		fmt.Printf("  %s  last message %s  (%d messages)\n",
			a.SessionKey, a.LastTurnAt.Local().Format(time.DateTime), a.Turns)
	}
	if res.DryRun {
		color.Yellow("Would delete %d sessions (%d messages) inactive since %s",
			res.SessionsDeleted, res.TurnsDeleted, cutoff.Format(time.DateTime))
		return nil
	}
	color.Green("✓ Deleted %d sessions (%d messages) inactive since %s",
		res.SessionsDeleted, res.TurnsDeleted, cutoff.Format(time.DateTime))
	return nil
}
