package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psinetreject/card-scanner/internal/config"
	"github.com/psinetreject/card-scanner/internal/store"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, ctx, func(c context.Context, db *sql.DB, cfg config.Config) error {
				applied, err := store.Migrate(c, db, os.DirFS(cfg.MigrationsDir))
				if err != nil {
					return fmt.Errorf("migrations failed: %w", err)
				}
				if len(applied) == 0 {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", strings.Join(applied, ", "))
				return err
			})
		},
	}

	var jsonOut bool
	status := &cobra.Command{
		Use:   "status",
		Short: "List migrations and when they were applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, ctx, func(c context.Context, db *sql.DB, cfg config.Config) error {
				states, err := store.MigrationStatus(c, db, os.DirFS(cfg.MigrationsDir))
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), states)
				}
				rows := make([][]string, 0, len(states))
				for _, s := range states {
					applied := "pending"
					if s.AppliedAt != nil {
						applied = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
					rows = append(rows, []string{s.Version, s.Name, applied})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Version", "Name", "Applied"}, rows, nil))
				return err
			})
		},
	}
	status.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recently applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, ctx, func(c context.Context, db *sql.DB, cfg config.Config) error {
				m, err := store.RollbackLast(c, db, os.DirFS(cfg.MigrationsDir))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Reverted %s_%s\n", m.Version, m.Name)
				return err
			})
		},
	}

	cmd.AddCommand(status, down)
	return cmd
}

func withDatabase(cmd *cobra.Command, ctx *commandContext, fn func(context.Context, *sql.DB, config.Config) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("database_url is not configured")
	}
	db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	return fn(cmd.Context(), db, cfg)
}
