package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/liapostsk/aeghis-sync/internal/config"
	"github.com/liapostsk/aeghis-sync/internal/service"
	"github.com/liapostsk/aeghis-sync/internal/storage/sqlite"
	"github.com/liapostsk/aeghis-sync/pkg/logging"
)

// NewPruneCommand creates the prune command: a one-shot retention pass
// over a journey's position trails.
func NewPruneCommand(opts *RootOptions) *cobra.Command {
	var (
		journeyID string
		userID    string
		keep      int
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune position trails to the retention count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

			// An explicit --keep 0 means wipe; only an unset flag falls
			// back to the configured retention.
			if !cmd.Flags().Changed("keep") {
				keep = cfg.Tracker.Retention
			}
			return runPrune(cmd, cfg, journeyID, userID, keep)
		},
	}

	cmd.Flags().StringVar(&journeyID, "journey", "", "journey to prune (required)")
	cmd.Flags().StringVar(&userID, "user", "", "single participant to prune (default: all)")
	cmd.Flags().IntVar(&keep, "keep", 0, "samples to keep per participant (default: configured retention)")
	cmd.MarkFlagRequired("journey")

	return cmd
}

func runPrune(cmd *cobra.Command, cfg *config.Config, journeyID, userID string, keep int) error {
	ctx := cmd.Context()

	live, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer live.Close()

	stream := service.NewPositionStream(live)
	participations := service.NewParticipationSync(live)

	userIDs := []string{userID}
	if userID == "" {
		participants, err := participations.List(ctx, journeyID)
		if err != nil {
			return err
		}
		userIDs = userIDs[:0]
		for _, p := range participants {
			userIDs = append(userIDs, p.UserID)
		}
	}

	total := 0
	for _, uid := range userIDs {
		deleted, err := stream.Prune(ctx, journeyID, uid, keep)
		if err != nil {
			return err
		}
		total += deleted
	}

	slog.Info("Prune complete", "journey_id", journeyID, "participants", len(userIDs), "deleted", total)
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d samples across %d participants\n", total, len(userIDs))
	return nil
}
