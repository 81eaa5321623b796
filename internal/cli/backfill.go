package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liapostsk/aeghis-sync/internal/config"
	"github.com/liapostsk/aeghis-sync/internal/service"
	"github.com/liapostsk/aeghis-sync/internal/session"
	"github.com/liapostsk/aeghis-sync/internal/storage/rest"
	"github.com/liapostsk/aeghis-sync/internal/storage/sqlite"
	"github.com/liapostsk/aeghis-sync/pkg/logging"
)

// NewBackfillCommand creates the backfill command: a one-shot push of a
// journey's live participation documents to the backend, linking any
// documents that have no backend row yet.
func NewBackfillCommand(opts *RootOptions) *cobra.Command {
	var journeyID string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Push a journey's participants to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

			live, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer live.Close()

			sessions, err := session.NewTokenProvider(cfg.Backend.Token)
			if err != nil {
				return err
			}
			backend := rest.New(cfg.Backend.BaseURL, sessions, cfg.Backend.Timeout.Std())

			failures := 0
			reconciler := service.NewReconciler(live, backend,
				service.WithFetchTimeout(cfg.Reconcile.FetchTimeout.Std()),
				service.WithErrorListener(func(error) { failures++ }),
			)

			synced, err := reconciler.SyncParticipants(cmd.Context(), journeyID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d participants (%d failed)\n", synced, failures)
			if failures > 0 {
				return fmt.Errorf("%d participants failed to sync", failures)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&journeyID, "journey", "", "journey to backfill (required)")
	cmd.MarkFlagRequired("journey")

	return cmd
}
