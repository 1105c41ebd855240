package main

import (
	"fmt"
	"path/filepath"

	"github.com/fadedpez/pointledger/internal/config"
	"github.com/fadedpez/pointledger/pkg/db"
	"github.com/fadedpez/pointledger/pkg/db/migrations"
	"github.com/spf13/cobra"
)

// targets lists the databases the current configuration writes to
func (c *cli) targets() map[migrations.Dialect]string {
	out := make(map[migrations.Dialect]string)
	if c.cfg.LedgerStore == config.StoreSQLite || c.cfg.WorkflowStore == config.StoreSQLite {
		out[migrations.DialectSQLite] = c.cfg.SQLitePath
	}
	if c.cfg.LedgerStore == config.StorePostgres {
		out[migrations.DialectPostgres] = c.cfg.DatabaseURL
	}
	return out
}

func (c *cli) migrateCmd() *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := c.targets()
			if len(targets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No SQL store configured; nothing to migrate.")
				return nil
			}
			for _, dialect := range []migrations.Dialect{migrations.DialectSQLite, migrations.DialectPostgres} {
				target, ok := targets[dialect]
				if !ok {
					continue
				}
				if err := migrateOne(cmd, dialect, target, statusOnly); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "List applied and pending migrations without applying them")
	return cmd
}

func migrateOne(cmd *cobra.Command, dialect migrations.Dialect, target string, statusOnly bool) error {
	conn, err := db.Open(dialect, target)
	if err != nil {
		return err
	}
	defer conn.Close()

	migrator, err := migrations.ForDialect(conn, dialect)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusOnly {
		if err := migrator.Initialize(); err != nil {
			return err
		}
		applied, err := migrator.GetAppliedMigrations()
		if err != nil {
			return err
		}
		all, err := migrator.LoadMigrations()
		if err != nil {
			return err
		}
		for _, m := range all {
			state := "pending"
			if applied[m.Version] {
				state = "applied"
			}
			fmt.Fprintf(out, "%s %s %-8s %s\n", dialect, m.Version, state, m.Description)
		}
		return nil
	}

	count, err := migrator.MigrateUp()
	if err != nil {
		return fmt.Errorf("%s: %w", dialect, err)
	}
	fmt.Fprintf(out, "%s: applied %d migrations\n", dialect, count)
	return nil
}

func (c *cli) createMigrationCmd() *cobra.Command {
	var (
		dialect string
		dir     string
	)
	cmd := &cobra.Command{
		Use:   "create-migration DESCRIPTION",
		Short: "Create the next numbered migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := migrations.Embedded(migrations.Dialect(dialect)); err != nil {
				return err
			}
			if dir == "" {
				dir = filepath.Join("pkg", "db", "migrations", dialect)
			}
			path, err := migrations.CreateMigration(dir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created migration file: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", string(migrations.DialectSQLite), "sqlite or postgres")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory for the new file (defaults to the bundled schema directory)")
	return cmd
}
