package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/liapostsk/aeghis-sync/internal/config"
	"github.com/liapostsk/aeghis-sync/internal/server"
	"github.com/liapostsk/aeghis-sync/internal/service"
	"github.com/liapostsk/aeghis-sync/internal/session"
	"github.com/liapostsk/aeghis-sync/internal/storage/rest"
	"github.com/liapostsk/aeghis-sync/internal/storage/sqlite"
	"github.com/liapostsk/aeghis-sync/pkg/logging"
)

// NewServeCommand creates the serve command: run the reconcilers and the
// HTTP surface until interrupted.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	live, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer live.Close()
	slog.Info("Live store opened", "database", cfg.DBPath)

	sessions, err := session.NewTokenProvider(cfg.Backend.Token)
	if err != nil {
		return err
	}
	backend := rest.New(cfg.Backend.BaseURL, sessions, cfg.Backend.Timeout.Std())

	reconciler := service.NewReconciler(live, backend,
		service.WithPolicy(cfg.Reconcile.Policy),
		service.WithFetchTimeout(cfg.Reconcile.FetchTimeout.Std()),
	)

	var wg sync.WaitGroup
	for _, groupID := range cfg.Groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reconciler.Run(ctx, groupID); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Reconciler exited", "group_id", groupID, "error", err)
			}
		}()
	}

	srv := server.New(
		service.NewJourneySync(live),
		service.NewParticipationSync(live),
		service.NewPositionStream(live),
	)

	// h2c allows HTTP/2 without TLS behind the reverse proxy.
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h2c.NewHandler(srv.Handler(), &http2.Server{}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("Server starting", "address", cfg.ListenAddr, "groups", len(cfg.Groups))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	wg.Wait()
	slog.Info("Daemon stopped")
	return nil
}
