// Package transport delivers outbound agent messages to users. Every
// transport renders results as plain text; suggested follow-up actions
// become reply-keyword lines so any channel that can carry text can
// carry the full interaction.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Action is a suggested follow-up the user can trigger by replying
// with the keyword.
type Action struct {
	Keyword string `json:"keyword"`
	Label   string `json:"label"`
}

// Inbound is a user message arriving over a transport.
type Inbound struct {
	UserID string
	Name   string
	Text   string
}

// Transport sends a message to a user.
type Transport interface {
	// Name returns the transport identifier (e.g., "signal", "mqtt").
	Name() string

	// Send delivers text to a user, appending reply-keyword lines for
	// any actions.
	Send(ctx context.Context, userID, text string, actions []Action) error
}

// RenderMessage appends reply-keyword lines to the message body.
func RenderMessage(text string, actions []Action) string {
	if len(actions) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	for _, a := range actions {
		b.WriteString("\nReply ")
		b.WriteString(strings.ToUpper(a.Keyword))
		if a.Label != "" {
			b.WriteString(" to ")
			b.WriteString(a.Label)
		}
	}
	return b.String()
}

// Multi fans a send out to several transports. Every transport is
// attempted; failures are joined so one dead channel cannot silently
// swallow a delivery on the others.
type Multi struct {
	logger     *slog.Logger
	transports []Transport
}

// NewMulti creates a fan-out transport.
func NewMulti(logger *slog.Logger, transports ...Transport) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{logger: logger, transports: transports}
}

func (m *Multi) Name() string { return "multi" }

// Send delivers to all transports and joins any failures.
func (m *Multi) Send(ctx context.Context, userID, text string, actions []Action) error {
	var errs []error
	for _, t := range m.transports {
		if err := t.Send(ctx, userID, text, actions); err != nil {
			m.logger.Warn("transport send failed",
				"transport", t.Name(),
				"user_id", userID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Transports returns the wrapped transports.
func (m *Multi) Transports() []Transport { return m.transports }
