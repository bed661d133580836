package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ca-indexer/internal/auth"
	"ca-indexer/internal/database"
	"ca-indexer/internal/handlers"
	"ca-indexer/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var noMirror bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirror, job runner, periodic maintenance and HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noMirror, "no-mirror", false, "Do not subscribe to the stream")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := database.Migrate(a.db); err != nil {
		return err
	}

	opts := worker.Options{
		Runner:      a.newRunner(),
		Queue:       a.queue,
		Maintainers: a.maintainers,
		Logger:      a.logger,
	}
	if !noMirror {
		opts.Mirror = a.newMirror()
	}
	workerService := worker.NewWorkerService(opts)
	workerService.Start(ctx)
	defer workerService.Stop()

	if a.cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	admin := handlers.NewAdminHandler(ctx, a.pipeline, a.maintainers, a.registry.Collections(),
		auth.NewAdminVerifier(a.cfg.AdminJWTSecret), a.logger)
	defer admin.Wait()
	router := handlers.NewRouter(handlers.NewContentHandler(a.db, workerService), admin)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "port", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("received shutdown signal, gracefully shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown failed", "error", err)
	}
	return nil
}
