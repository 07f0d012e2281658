package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/internal/answer"
)

func newChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive question session with memory",
		Long: `Start an interactive loop against the running service. All turns
share one session id, so follow-up questions see the conversation
history. Exit with 'exit', 'quit', or Ctrl-D.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if sessionID == "" {
				sessionID = fmt.Sprintf("cli-%d", os.Getpid())
			}

			client := newAPIClient(cfg)
			p := newPrinter()
			p.Line("ragkb chat (session %s). Type 'exit' to quit.", sessionID)

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for {
				fmt.Fprint(cmd.OutOrStdout(), "\n> ")
				if !scanner.Scan() {
					break
				}
				question := strings.TrimSpace(scanner.Text())
				if question == "" {
					continue
				}
				if question == "exit" || question == "quit" {
					break
				}

				var resp answer.Response
				err := client.postJSON(cmd.Context(), "/query", queryRequest{
					Query:     question,
					SessionID: sessionID,
				}, &resp)
				if err != nil {
					p.Error("%v", err)
					continue
				}
				p.Line("")
				printAnswer(p, &resp)
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: one per CLI process)")

	return cmd
}
