package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cumplia/enscope/engine"
	"github.com/cumplia/enscope/session"
)

func newAskCommand(flags *rootFlags) *cobra.Command {
	var resume string

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Run an interactive assessment conversation",
		Long: `Starts (or resumes) an assessment session on the terminal. Type
answers in free form; the assistant asks follow-ups until each question
is complete. Type /quit to leave; progress is kept across runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			sessionID := resume
			if sessionID == "" {
				sess, err := rt.engine.StartSession(ctx)
				if err != nil {
					return err
				}
				sessionID = sess.ID
				fmt.Printf("Sesión %s\n\n", sess.ID)
				if len(sess.Turns) > 0 {
					fmt.Printf("» %s\n", sess.Turns[0].Text)
				}
			} else {
				fmt.Printf("Reanudando sesión %s\n", sessionID)
			}

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				text := strings.TrimSpace(scanner.Text())
				switch {
				case text == "":
					continue
				case text == "/quit" || text == "/exit":
					fmt.Printf("Sesión guardada: %s\n", sessionID)
					return nil
				}

				result, err := rt.engine.SubmitTurn(ctx, sessionID, text)
				if err != nil {
					if errors.Is(err, session.ErrConcurrentMutation) {
						fmt.Println("La sesión está procesando otra petición; espere un momento.")
						continue
					}
					return err
				}

				fmt.Printf("» %s\n", result.AssistantText)
				if result.Status == engine.TurnQuestionComplete {
					fmt.Printf("  [%s completada, versión %d]\n", result.QuestionID, result.AnswerVersion)
				}
				if result.Status == engine.TurnAssessmentComplete {
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVar(&resume, "session", "", "Resume an existing session by id")
	return cmd
}
