package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"ca-indexer/internal/auth"
	"ca-indexer/internal/config"
	"ca-indexer/internal/database"
	"ca-indexer/internal/maintainers"
	"ca-indexer/internal/worker"

	"github.com/spf13/cobra"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Run the mirror and background maintenance without the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ws := worker.NewWorkerService(worker.Options{
			Mirror:      a.newMirror(),
			Runner:      a.newRunner(),
			Queue:       a.queue,
			Maintainers: a.maintainers,
			Logger:      a.logger,
		})
		return ws.Run(cmd.Context())
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <collection>",
	Short: "Replay every stored record of a collection through its processor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if !slices.Contains(a.registry.Collections(), args[0]) {
			return fmt.Errorf("unknown collection %q", args[0])
		}
		return a.pipeline.Reprocess(cmd.Context(), args[0])
	},
}

var maintainCmd = &cobra.Command{
	Use:       "maintain <" + strings.Join(maintainers.Tasks, "|") + ">",
	Short:     "Run a full-table maintenance task",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: maintainers.Tasks,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		run, ok := a.maintainers.Task(args[0])
		if !ok {
			return fmt.Errorf("unknown task %q", args[0])
		}
		start := time.Now()
		if err := run(cmd.Context()); err != nil {
			return err
		}
		a.logger.Info("maintenance finished", "task", args[0], "duration", time.Since(start))
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := database.Migrate(a.db); err != nil {
			return err
		}
		a.logger.Info("migrations completed")
		return nil
	},
}

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin bearer token signed with ADMIN_JWT_SECRET",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		token, err := auth.NewAdminVerifier(cfg.AdminJWTSecret).IssueToken(tokenSubject, tokenTTL)
		if errors.Is(err, auth.ErrAdminDisabled) {
			return errors.New("ADMIN_JWT_SECRET is not set")
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}
