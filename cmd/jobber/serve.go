package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CZERTAINLY/Jobber/internal/api"
	"github.com/CZERTAINLY/Jobber/internal/log"
	"github.com/CZERTAINLY/Jobber/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("jobber",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	manager := service.ManagerFromConfig(config)
	srv := &http.Server{
		Addr:              config.Listen,
		Handler:           api.New(manager),
		ReadHeaderTimeout: 10 * time.Second,
		// requests must not be cancelled by the shutdown signal
		BaseContext: func(_ net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", config.Listen)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")

		shutdownCtx := context.WithoutCancel(ctx)
		if config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, config.ShutdownTimeout)
			defer cancel()
		}
		httpErr := srv.Shutdown(shutdownCtx)
		if httpErr != nil {
			httpErr = fmt.Errorf("shutting down http server: %w", httpErr)
		}
		return errors.Join(httpErr, manager.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
