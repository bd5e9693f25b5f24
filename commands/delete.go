package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cumplia/enscope/answers"
)

func newDeleteCommand(flags *rootFlags) *cobra.Command {
	var confirmToken string

	cmd := &cobra.Command{
		Use:   "delete <question-id>",
		Short: "Tombstone an answer (the version history is preserved)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}

			ctx := context.Background()
			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			questionID := args[0]
			rec, err := rt.answers.Delete(ctx, questionID, confirmToken)
			switch {
			case errors.Is(err, answers.ErrConfirmRequired):
				return fmt.Errorf("deletion requires --confirm; previous versions stay in the audit trail")
			case errors.Is(err, answers.ErrNotFound):
				return fmt.Errorf("question %s has no committed answer", questionID)
			case err != nil:
				return err
			}

			fmt.Printf("Answer %s tombstoned as version v%d\n", questionID, rec.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&confirmToken, "confirm", "", "Confirmation token recorded in the audit trail")
	return cmd
}
