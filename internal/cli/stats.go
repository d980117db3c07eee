package cli

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <place-id>",
		Short: "Show player and command counts for a place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats domain.PlaceStats
			if err := client.Get(cmd.Context(), placePath(args[0])+"/stats", &stats); err != nil {
				return err
			}
			return NewOutput(cfg.Output, cmd.OutOrStdout()).Print(&stats)
		},
	}
}

func newActivityCmd() *cobra.Command {
	var (
		placeID string
		count   int
	)

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if placeID != "" {
				q.Set("place_id", placeID)
			}
			if count > 0 {
				q.Set("count", strconv.Itoa(count))
			}
			path := "/admin/activity"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp struct {
				Events []domain.ActivityEvent `json:"events"`
			}
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return NewOutput(cfg.Output, cmd.OutOrStdout()).Print(resp.Events)
		},
	}

	cmd.Flags().StringVar(&placeID, "place", "", "Only events for this place")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of events (server default 50)")

	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the operator API is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]string
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			NewOutput(cfg.Output, cmd.OutOrStdout()).PrintMessage("Service is " + resp["status"] + ".")
			return nil
		},
	}
}
