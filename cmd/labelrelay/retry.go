package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orrn/labelrelay/internal/app"
	"github.com/orrn/labelrelay/internal/core"
)

var retryIncludeSent bool

var retryJobCmd = &cobra.Command{
	Use:   "retry-job <attempt-id>",
	Short: "Re-render and re-submit one attempt from its stored snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Retrier.RetryAttempt(cmd.Context(), args[0])
		printJSON(res)
		return err
	},
}

var retryOrderCmd = &cobra.Command{
	Use:   "retry-order <order-number>",
	Short: "Re-submit the attempts of an order that have not been printed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Retrier.RetryOrder(cmd.Context(), args[0], retryIncludeSent)
		if err != nil {
			return err
		}
		printJSON(summary)
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d attempts failed", summary.Failed, len(summary.Results))
		}
		return nil
	},
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func openStore() (core.Store, error) {
	return app.OpenStore(cfg.Database)
}

func init() {
	retryOrderCmd.Flags().BoolVar(&retryIncludeSent, "include-sent", false, "Also re-print attempts already sent")
	rootCmd.AddCommand(retryJobCmd, retryOrderCmd)
}
