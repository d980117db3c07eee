// Package pii masks operator-supplied payload fields before activity events
// leave the process.
package pii

import (
	"context"
	"log/slog"
	"maps"
	"strings"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor masks a configured set of command payload keys. Keys match
// case-insensitively.
type Redactor struct {
	fieldsToRedact map[string]struct{}
	logger         *slog.Logger
}

// NewRedactor creates a Redactor for the given payload keys. Blank keys are ignored.
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if f := strings.ToLower(strings.TrimSpace(field)); f != "" {
			fieldSet[f] = struct{}{}
		}
	}
	return &Redactor{
		fieldsToRedact: fieldSet,
		logger:         logger.With("component", "pii_redactor"),
	}
}

// Enabled reports whether any key is configured.
func (r *Redactor) Enabled() bool {
	return len(r.fieldsToRedact) > 0
}

// RedactPayload returns a copy of p with configured keys replaced by the
// placeholder, and whether anything was replaced. p itself is not modified.
func (r *Redactor) RedactPayload(p map[string]any) (map[string]any, bool) {
	if len(r.fieldsToRedact) == 0 || len(p) == 0 {
		return p, false
	}

	var out map[string]any
	for k := range p {
		if _, ok := r.fieldsToRedact[strings.ToLower(k)]; !ok {
			continue
		}
		if out == nil {
			out = maps.Clone(p)
		}
		out[k] = RedactedPlaceholder
	}
	if out == nil {
		return p, false
	}
	return out, true
}

// Publisher redacts the "payload" entry of an event's detail before handing
// the event to the next publisher.
type Publisher struct {
	next     domain.ActivityPublisher
	redactor *Redactor
}

var _ domain.ActivityPublisher = (*Publisher)(nil)

func NewPublisher(next domain.ActivityPublisher, redactor *Redactor) *Publisher {
	return &Publisher{next: next, redactor: redactor}
}

func (p *Publisher) Publish(ctx context.Context, event domain.ActivityEvent) error {
	if p.redactor.Enabled() {
		event.Detail = p.redactDetail(event)
	}
	return p.next.Publish(ctx, event)
}

func (p *Publisher) redactDetail(event domain.ActivityEvent) map[string]any {
	var payload map[string]any
	switch v := event.Detail["payload"].(type) {
	case domain.Payload:
		payload = v
	case map[string]any:
		payload = v
	default:
		return event.Detail
	}

	redacted, changed := p.redactor.RedactPayload(payload)
	if !changed {
		return event.Detail
	}
	detail := maps.Clone(event.Detail)
	detail["payload"] = redacted
	detail["pii_redacted"] = true
	p.redactor.logger.Debug("Redacted command payload in activity event", "type", event.Type, "command_id", event.CommandID)
	return detail
}
