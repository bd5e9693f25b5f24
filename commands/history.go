package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <question-id>",
		Short: "Show the full version history of an answer",
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
			history, err := rt.answers.History(ctx, questionID)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				return fmt.Errorf("no versions for question %s", questionID)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSTATUS\tSCORE\tUPDATED\tFIELDS")
			for _, rec := range history {
				fields := ""
				for name, value := range rec.Fields {
					if fields != "" {
						fields += ", "
					}
					fields += fmt.Sprintf("%s=%s", name, value)
				}
				fmt.Fprintf(w, "v%d\t%s\t%d\t%s\t%s\n",
					rec.Version, rec.Status, rec.Score,
					rec.UpdatedAt.Format("2006-01-02 15:04"), fields)
			}
			return w.Flush()
		},
	}
}
