package main

import (
	"github.com/fadedpez/pointledger/internal/app"
	"github.com/fadedpez/pointledger/internal/config"
	"github.com/spf13/cobra"
)

type cli struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate a pointledger deployment",
		Long:          `Maintenance commands for the points and wallet ledger. Configuration is read from the environment and an optional .env file, the same way ledgerd reads it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			app.ConfigureLogging(cfg)
			c.cfg = cfg
			return nil
		},
	}

	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.createMigrationCmd())
	root.AddCommand(c.verifyCmd())
	root.AddCommand(c.balanceCmd())
	return root
}
