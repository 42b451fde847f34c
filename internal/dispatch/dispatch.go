// Package dispatch defines the boundary to the agent-dispatch
// collaborator. The bridge hands over normalized customer messages and
// delivers whatever reply fragments come back; everything behind the
// interface (routing, sessions, response generation) belongs to the
// collaborator.
package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/wecom"
)

// Inbound is one normalized customer message.
type Inbound struct {
	AccountID      string
	OpenKfID       string
	ExternalUserID string
	MsgID          string
	SendTime       int64
	Kind           wecom.MsgType
	Text           string
	MediaID        string
}

// Reply is one outbound text fragment to deliver back to the customer.
type Reply struct {
	Content string
}

// Dispatcher produces zero or more reply fragments for an inbound message.
// Errors are reported to the caller for logging; the caller does not retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Inbound) ([]Reply, error)
}

// LoggingDispatcher acknowledges messages in the log and produces no
// replies. It is the default when no collaborator is wired in, keeping the
// bridge runnable stand-alone.
type LoggingDispatcher struct {
	logger zerolog.Logger
}

// NewLoggingDispatcher creates the default dispatcher.
func NewLoggingDispatcher(logger zerolog.Logger) *LoggingDispatcher {
	return &LoggingDispatcher{
		logger: logger.With().Str("component", "dispatch").Logger(),
	}
}

// Dispatch logs the message and returns no replies.
func (d *LoggingDispatcher) Dispatch(_ context.Context, msg Inbound) ([]Reply, error) {
	d.logger.Info().
		Str("account_id", msg.AccountID).
		Str("open_kfid", msg.OpenKfID).
		Str("external_userid", msg.ExternalUserID).
		Str("msgid", msg.MsgID).
		Str("kind", string(msg.Kind)).
		Msg("Message received with no dispatcher configured")
	return nil, nil
}
