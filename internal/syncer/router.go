package syncer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/config"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/wecom"
)

// routeEvent handles a lifecycle event locally. The switch is total over
// the known event types; anything else is logged at debug and dropped.
func (s *Syncer) routeEvent(ctx context.Context, account *config.Account, msg *wecom.SyncMessage, logger zerolog.Logger) {
	ev := msg.Event
	if ev == nil {
		logger.Warn().Str("msgid", msg.MsgID).Msg("Event message without event payload")
		return
	}
	s.metrics.EventsTotal.WithLabelValues(ev.EventType).Inc()

	switch ev.EventType {
	case wecom.EventEnterSession:
		s.sendWelcome(ctx, account, ev, logger)

	case wecom.EventMsgSendFail:
		logger.Warn().
			Str("fail_msgid", ev.FailMsgID).
			Int("fail_type", ev.FailType).
			Str("external_userid", ev.ExternalUserID).
			Msg("Platform reported send failure")

	case wecom.EventServicerStatusChange:
		logger.Info().
			Str("servicer_userid", ev.ServicerUserID).
			Int("status", ev.Status).
			Msg("Servicer status changed")

	case wecom.EventSessionStatusChange:
		logger.Info().
			Str("external_userid", ev.ExternalUserID).
			Int("change_type", ev.ChangeType).
			Str("old_servicer_userid", ev.OldServicerUserID).
			Str("new_servicer_userid", ev.NewServicerUserID).
			Msg("Session status changed")

	default:
		logger.Debug().
			Str("event_type", ev.EventType).
			Str("msgid", msg.MsgID).
			Msg("Unhandled event dropped")
	}
}

// sendWelcome redeems the one-time welcome code with the configured
// welcome text. Missing code or missing text is a no-op, not an error.
func (s *Syncer) sendWelcome(ctx context.Context, account *config.Account, ev *wecom.EventPayload, logger zerolog.Logger) {
	if account.WelcomeMessage == "" || ev.WelcomeCode == "" {
		logger.Debug().
			Bool("has_text", account.WelcomeMessage != "").
			Bool("has_code", ev.WelcomeCode != "").
			Msg("Welcome send skipped")
		return
	}

	if err := s.api.SendTextOnEvent(ctx, account, ev.WelcomeCode, account.WelcomeMessage); err != nil {
		s.metrics.SendsTotal.WithLabelValues("welcome", "error").Inc()
		logger.Error().Err(err).
			Str("external_userid", ev.ExternalUserID).
			Msg("Welcome send failed")
		return
	}
	s.metrics.SendsTotal.WithLabelValues("welcome", "ok").Inc()
	logger.Info().
		Str("external_userid", ev.ExternalUserID).
		Msg("Welcome message sent")
}
