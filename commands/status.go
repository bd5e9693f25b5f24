package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show assessment progress across all domains",
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

			rep, err := rt.reporter.Report(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tANSWERED\tTOTAL\tPERCENT\tAVG SCORE")
			for _, dc := range rep.Domains {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d%%\t%d\n",
					dc.Domain, dc.Answered, dc.Total, dc.Percent, dc.AverageScore)
			}
			fmt.Fprintf(w, "overall\t%d\t%d\t%d%%\t%d\n",
				rep.Overall.Answered, rep.Overall.Total, rep.Overall.Percent, rep.Overall.AverageScore)
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Printf("\nQuality: %d high, %d medium, %d low\n",
				rep.Quality.High, rep.Quality.Medium, rep.Quality.Low)
			return nil
		},
	}
}
