package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

func newPlayersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "players",
		Aliases: []string{"player"},
		Short:   "Inspect players and set moderation flags",
	}

	cmd.AddCommand(newPlayersListCmd())
	cmd.AddCommand(newPlayersFlagCmd())

	return cmd
}

func newPlayersListCmd() *cobra.Command {
	var (
		search   string
		flag     string
		instance string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list <place-id>",
		Short: "List players seen in a place, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if search != "" {
				q.Set("search", search)
			}
			if flag != "" {
				q.Set("flag", flag)
			}
			if instance != "" {
				q.Set("server_id", instance)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := placePath(args[0]) + "/players"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp struct {
				Players []domain.PlayerSnapshot `json:"players"`
			}
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return NewOutput(cfg.Output, cmd.OutOrStdout()).Print(resp.Players)
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "Match username, display name or player id")
	cmd.Flags().StringVar(&flag, "flag", "", "Only players with this flag set (banned, suspicious, alt)")
	cmd.Flags().StringVar(&instance, "instance", "", "Only players last seen on this game server")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of players")

	return cmd
}

func newPlayersFlagCmd() *cobra.Command {
	var unset bool

	cmd := &cobra.Command{
		Use:   "flag <place-id> <player-id> <banned|suspicious|alt>",
		Short: "Set or clear a moderation flag on a player",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, err := domain.ParsePlayerFlag(args[2])
			if err != nil {
				return err
			}
			path := fmt.Sprintf("%s/players/%s/flags/%s", placePath(args[0]), url.PathEscape(args[1]), flag)
			if err := client.Put(cmd.Context(), path, map[string]bool{"value": !unset}, nil); err != nil {
				return err
			}

			verb := "set"
			if unset {
				verb = "cleared"
			}
			NewOutput(cfg.Output, cmd.OutOrStdout()).PrintMessage(fmt.Sprintf("Flag %s %s on player %s.", flag, verb, args[1]))
			return nil
		},
	}

	cmd.Flags().BoolVar(&unset, "clear", false, "Clear the flag instead of setting it")

	return cmd
}
