package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/orrn/labelrelay/internal/app"
	"github.com/orrn/labelrelay/internal/config"
	"github.com/orrn/labelrelay/internal/logging"
)

var (
	configPath string
	cfg        *config.Config
	log        *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:          "labelrelay",
	Short:        "Relay order webhooks to a cloud print queue, one label per unit.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = c
		log = logging.New(cfg.Logging)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to YAML config file")
}

// openApp builds the relay for commands that work on stored attempts.
func openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfg, log)
}
