package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orrn/labelrelay/internal/core"
)

var (
	jobsStatus string
	jobsLimit  int
	jobsOrder  string
	jobsJSON   bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent print attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		status := core.Status(jobsStatus)
		if status != "" && !status.Valid() {
			return fmt.Errorf("invalid status %q (valid: pending, sent, failed)", jobsStatus)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var attempts []*core.Attempt
		if jobsOrder != "" {
			attempts, err = store.FindByOrder(cmd.Context(), jobsOrder)
		} else {
			attempts, err = store.ListRecent(cmd.Context(), core.ListFilter{Status: status, Limit: core.NormalizeLimit(jobsLimit)})
		}
		if err != nil {
			return err
		}

		if jobsJSON {
			b, _ := json.MarshalIndent(attempts, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ATTEMPT\tSTATUS\tRETRIES\tVENDOR JOB\tERROR")
		for _, a := range attempts {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", a.AttemptID, a.Status, a.RetryCount, a.VendorJobID, a.ErrorMessage)
		}
		return tw.Flush()
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (pending|sent|failed)")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", core.DefaultListLimit, "Max rows, capped at 100")
	jobsCmd.Flags().StringVar(&jobsOrder, "order", "", "Show every attempt of one order")
	jobsCmd.Flags().BoolVar(&jobsJSON, "json", false, "JSON output")
	rootCmd.AddCommand(jobsCmd)
}
