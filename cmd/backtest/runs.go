package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List journaled backtest runs, newest first",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	runs, err := e.svc.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSYMBOL\tSTRATEGY\tBARS\tTRADES\tRETURN\tMAX DD\tSHARPE")
	for _, r := range runs {
		res := r.Result
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.2f%%\t%.2f%%\t%.4f\n",
			shortID(r.ID), r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Symbol, r.Strategy,
			r.Bars, res.TotalTrades, res.TotalReturn*100, res.MaxDrawdown*100, res.SharpeRatio)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
