package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

// Output handles formatting output
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new output handler
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) error {
	if o.format == "json" {
		return o.printJSON(data)
	}
	return o.printText(data)
}

// PrintMessage prints a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		_ = o.printJSON(map[string]string{"message": msg})
		return
	}
	fmt.Fprintln(o.w, msg)
}

func (o *Output) printJSON(data any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (o *Output) printText(data any) error {
	switch v := data.(type) {
	case []domain.Tenant:
		o.printPlaces(v)
	case *domain.Tenant:
		o.printPlaces([]domain.Tenant{*v})
	case []domain.Command:
		o.printCommands(v)
	case *domain.Command:
		o.printCommands([]domain.Command{*v})
	case []domain.PlayerSnapshot:
		o.printPlayers(v)
	case *domain.PlaceStats:
		fmt.Fprintf(o.w, "Place:            %s\n", v.PlaceID)
		fmt.Fprintf(o.w, "Players:          %d\n", v.Players)
		fmt.Fprintf(o.w, "Commands:         %d\n", v.Commands)
		fmt.Fprintf(o.w, "Pending commands: %d\n", v.PendingCommands)
	case []domain.ActivityEvent:
		o.printActivity(v)
	default:
		return o.printJSON(data)
	}
	return nil
}

func (o *Output) table(header string, rows func(tw *tabwriter.Writer)) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	rows(tw)
	_ = tw.Flush()
}

func (o *Output) printPlaces(places []domain.Tenant) {
	if len(places) == 0 {
		fmt.Fprintln(o.w, "No places found.")
		return
	}
	o.table("PLACE\tNAME\tCREATED\tKEY ROTATED", func(tw *tabwriter.Writer) {
		for _, p := range places {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.PlaceID, dash(p.Name), stamp(p.CreatedAt), stamp(p.UpdatedAt))
		}
	})
}

func (o *Output) printCommands(cmds []domain.Command) {
	if len(cmds) == 0 {
		fmt.Fprintln(o.w, "No commands found.")
		return
	}
	o.table("ID\tTYPE\tSTATUS\tSERVER\tTARGET\tCREATED\tRESULT", func(tw *tabwriter.Writer) {
		for _, c := range cmds {
			target := deref(c.TargetUsername)
			if c.TargetPlayerID != nil {
				target = strings.TrimSpace(target + " (" + *c.TargetPlayerID + ")")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				c.ID, c.Type, c.Status, dash(deref(c.ServerID)), dash(target), stamp(c.CreatedAt), dash(deref(c.ResultMessage)))
		}
	})
}

func (o *Output) printPlayers(players []domain.PlayerSnapshot) {
	if len(players) == 0 {
		fmt.Fprintln(o.w, "No players found.")
		return
	}
	o.table("PLAYER\tUSERNAME\tSERVER\tPING\tFLAGS\tLAST SEEN", func(tw *tabwriter.Writer) {
		for _, p := range players {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				p.PlayerID, p.Username, dash(p.ServerID), p.Ping, flags(&p), stamp(p.LastSeen))
		}
	})
}

func (o *Output) printActivity(events []domain.ActivityEvent) {
	if len(events) == 0 {
		fmt.Fprintln(o.w, "No activity.")
		return
	}
	o.table("AT\tTYPE\tPLACE\tSERVER\tCOMMAND\tPLAYER\tSTATUS", func(tw *tabwriter.Writer) {
		for _, e := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				stamp(e.At), e.Type, dash(e.PlaceID), dash(e.ServerID), dash(e.CommandID), dash(e.PlayerID), dash(e.Status))
		}
	})
}

func flags(p *domain.PlayerSnapshot) string {
	var set []string
	for _, f := range []domain.PlayerFlag{domain.FlagBanned, domain.FlagSuspicious, domain.FlagAlt} {
		if p.Flag(f) {
			set = append(set, string(f))
		}
	}
	if len(set) == 0 {
		return "-"
	}
	return strings.Join(set, ",")
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
