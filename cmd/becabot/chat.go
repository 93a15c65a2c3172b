package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/pkg/rag"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the scholarship assistant in the terminal",
	Long:  `Interactive chat. Type 'exit' to quit or 'clear' to forget the conversation.`,
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Session key to continue (a new one is created if empty)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, _, log, err := openService(ctx, rag.Options{})
	if err != nil {
		return err
	}
	defer log.Sync()
	defer svc.Close()

	session := chatSession
	if session == "" {
		session = uuid.NewString()
	}

	color.Cyan("\nBecaBot UTPL (session %s, type 'exit' to quit)", session)

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(query) {
		case "":
			continue
		case "exit":
			return nil
		case "clear":
			n, err := svc.ClearSession(ctx, session)
			if err != nil {
				color.Red("Error: %v\n", err)
				continue
			}
			color.Yellow("Conversation cleared (%d messages)\n", n)
			continue
		}

		spinner := getSpinner("Searching scholarships...")
		started := false
		reply, err := svc.AnswerStream(ctx, query, session, func(chunk string) {
			if !started {
				started = true
				spinner.Finish()
				fmt.Print("\r")
				assistantPrompt("Assistant: ")
			}
			assistantPrompt("%s", chunk)
		})
		if !started {
			spinner.Finish()
			fmt.Print("\r")
		}
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		if !started {
			if reply.Degraded {
				color.Red("Assistant: %s\n", reply.Text)
			} else {
				assistantPrompt("Assistant: %s", reply.Text)
			}
		}
		fmt.Print("\n")
		printSources(reply.Citations)
	}

	return scanner.Err()
}

func printSources(c models.Citations) {
	if c.Empty() {
		return
	}
	color.Blue("\nSources:")
	for _, file := range sortedKeys(c.PDFSources) {
		pages := make([]string, 0, len(c.PDFSources[file]))
		for _, p := range c.PDFSources[file] {
			pages = append(pages, fmt.Sprint(p))
		}
		fmt.Printf("  %s (pages %s)\n", file, strings.Join(pages, ", "))
	}
	for _, source := range sortedKeys(c.WebSources) {
		for _, title := range c.WebSources[source] {
			fmt.Printf("  %s: %s\n", source, title)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
