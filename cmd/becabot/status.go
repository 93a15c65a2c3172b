package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/becabot/pkg/rag"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index, corpus and conversation state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, _, log, err := openService(cmd.Context(), rag.Options{})
	if err != nil {
		return err
	}
	defer log.Sync()
	defer svc.Close()

	st := svc.Status(cmd.Context())

	if st.IndexReady {
		color.Green("✓ Index ready (generation %s)", st.Generation)
	} else {
		color.Yellow("Index not built yet")
	}
	if st.Passages > 0 {
		fmt.Printf("  Passages: %d\n", st.Passages)
	}
	fmt.Printf("  PDF documents: %d\n", st.Documents)

	switch {
	case st.Corpus.Error != "":
		color.Red("Corpus %s is unreadable: %s", st.Corpus.Path, st.Corpus.Error)
	case st.Corpus.Exists:
		fmt.Printf("  Corpus: %s (%d records, updated %s)\n",
			st.Corpus.Path, st.Corpus.Records, st.Corpus.Modified.Local().Format(time.DateTime))
	default:
		color.Yellow("No corpus at %s", st.Corpus.Path)
	}

	if st.ModelReady {
		color.Green("✓ Chat model configured")
	} else {
		color.Red("✗ Chat model unavailable; answers will be degraded")
	}
	fmt.Printf("  Conversations: %d sessions, %d messages\n",
		st.Conversations.Sessions, st.Conversations.Turns)
	return nil
}
