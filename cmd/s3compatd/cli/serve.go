package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Serve runs the startup orphan sweep, mounts the handler and metrics
// endpoint, and blocks until an interrupt signal triggers a graceful
// shutdown.
func Serve(ctx context.Context, c *Composer) error {
	if err := sweepOrphans(ctx, c); err != nil {
		Logger.Warn().Err(err).Msg("startup orphan sweep failed")
	}

	mux := http.NewServeMux()
	mux.Handle("/", c.Handler)

	if Flags.ExposeMetrics {
		mux.Handle(Flags.MetricsPath, promhttp.Handler())
		Logger.Info().Str("path", Flags.MetricsPath).Msg("metrics endpoint mounted")
	}

	address := Flags.Host + ":" + Flags.Port
	server := &http.Server{Addr: address, Handler: mux}

	shutdownComplete := make(chan struct{})
	go func() {
		defer close(shutdownComplete)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		Logger.Info().Msg("received interrupt signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), Flags.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			Logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		if err := c.Metadata.Close(); err != nil {
			Logger.Error().Err(err).Msg("failed to close metadata repository")
		}
	}()

	Logger.Info().Str("address", address).Msg("listening")
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownComplete
		return nil
	}
	return err
}

// sweepOrphans fetches the live upload ids and object paths
// concurrently, then reconciles them against the filesystem so a
// crash mid-upload or mid-delete never leaves unreachable bytes
// behind.
func sweepOrphans(ctx context.Context, c *Composer) error {
	var liveUploads, liveObjects map[string]bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := c.Metadata.LiveUploadIDs(gctx)
		liveUploads = ids
		return err
	})
	g.Go(func() error {
		paths, err := c.Metadata.LiveObjectPaths(gctx)
		liveObjects = paths
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	orphanUploads, orphanObjects, err := c.Objects.Sweep(liveUploads, liveObjects)
	if err != nil {
		return err
	}
	if orphanUploads > 0 || orphanObjects > 0 {
		Logger.Info().Int("orphan_uploads", orphanUploads).Int("orphan_objects", orphanObjects).Msg("swept orphaned storage entries")
	}
	return nil
}
