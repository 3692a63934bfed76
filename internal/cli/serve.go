package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jacentio/socialgraph/api"
	"github.com/jacentio/socialgraph/friends"
	"github.com/jacentio/socialgraph/people"
	"github.com/jacentio/socialgraph/txn"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Address string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Address, "addr", "", "listen address (overrides server.address)")

	return cmd
}

func serve(ctx context.Context, opts *ServeOptions) error {
	cfg, logger := opts.cfg, opts.logger
	if opts.Address != "" {
		cfg.Server.Address = opts.Address
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	repo := people.New(b.store, logger.With("component", "people"))
	coord := txn.New(b.store, logger.With("component", "txn"))
	svc := friends.New(repo, coord, cfg.Edges.TxTimeout, logger.With("component", "friends"))

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewHandler(repo, svc, logger.With("component", "api")).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
