// SPDX-License-Identifier: MIT

// Command fileserver serves the storage root over HTTP for remote-mode
// artifact stores.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicast/civicast/internal/config"
	"github.com/civicast/civicast/internal/fileserver"
	"github.com/civicast/civicast/internal/fsutil"
	"github.com/civicast/civicast/internal/log"
)

func main() {
	log.Configure(log.Config{Service: "civicast-fileserver"})
	logger := log.WithComponent("main")

	if err := run(); err != nil {
		logger.Error().Err(err).Msg("fileserver exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	if err := fsutil.EnsureDir(cfg.StorageRoot); err != nil {
		return fmt.Errorf("prepare storage root: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.FileServerHost, cfg.FileServerPort),
		Handler:           fileserver.New(cfg.StorageRoot).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger := log.WithComponent("main")
		logger.Info().Str("addr", srv.Addr).Msg("fileserver listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
