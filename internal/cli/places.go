package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

type placeWithKey struct {
	Place  *domain.Tenant `json:"place"`
	APIKey string         `json:"api_key"`
}

func placePath(placeID string) string {
	return "/admin/places/" + url.PathEscape(placeID)
}

func newPlacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "places",
		Aliases: []string{"place"},
		Short:   "Manage places and their API keys",
	}

	cmd.AddCommand(newPlacesListCmd())
	cmd.AddCommand(newPlacesGetCmd())
	cmd.AddCommand(newPlacesCreateCmd())
	cmd.AddCommand(newPlacesRotateCmd())
	cmd.AddCommand(newPlacesDeleteCmd())

	return cmd
}

func newPlacesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List places",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Places []domain.Tenant `json:"places"`
			}
			if err := client.Get(cmd.Context(), "/admin/places", &resp); err != nil {
				return err
			}
			return NewOutput(cfg.Output, cmd.OutOrStdout()).Print(resp.Places)
		},
	}
}

func newPlacesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <place-id>",
		Short: "Show one place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var place domain.Tenant
			if err := client.Get(cmd.Context(), placePath(args[0]), &place); err != nil {
				return err
			}
			return NewOutput(cfg.Output, cmd.OutOrStdout()).Print(&place)
		},
	}
}

func newPlacesCreateCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create <place-id>",
		Short: "Register a place and print its API key",
		Long: `Register a place and print its API key.

The key is shown once. Only its digest is stored by the service.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{"place_id": args[0], "name": name}
			var resp placeWithKey
			if err := client.Post(cmd.Context(), "/admin/places", req, &resp); err != nil {
				return err
			}
			return printKey(cmd, resp)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the place")

	return cmd
}

func newPlacesRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <place-id>",
		Short: "Issue a new API key, invalidating the old one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp placeWithKey
			if err := client.Post(cmd.Context(), placePath(args[0])+"/rotate-key", nil, &resp); err != nil {
				return err
			}
			return printKey(cmd, resp)
		},
	}
}

func newPlacesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <place-id>",
		Short: "Delete a place and revoke its API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(cmd.Context(), placePath(args[0])); err != nil {
				return err
			}
			NewOutput(cfg.Output, cmd.OutOrStdout()).PrintMessage(fmt.Sprintf("Place %s deleted.", args[0]))
			return nil
		},
	}
}

func printKey(cmd *cobra.Command, resp placeWithKey) error {
	out := NewOutput(cfg.Output, cmd.OutOrStdout())
	if cfg.Output == "json" {
		return out.Print(resp)
	}
	if resp.Place != nil {
		if err := out.Print(resp.Place); err != nil {
			return err
		}
	}
	out.PrintMessage("API key: " + resp.APIKey)
	return nil
}
