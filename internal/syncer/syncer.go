package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/config"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/dispatch"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/metrics"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/store"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/wecom"
)

// ErrNoChannelInstance means neither the account config nor the callback
// carried an open_kfid, so there is nothing to drain.
var ErrNoChannelInstance = errors.New("syncer: no channel instance id")

// PlatformAPI is the slice of the platform client the syncer needs,
// narrowed for test fakes.
type PlatformAPI interface {
	SyncMsg(ctx context.Context, account *config.Account, req wecom.SyncMsgRequest) (*wecom.SyncMsgResponse, error)
	SendText(ctx context.Context, account *config.Account, toUser, openKfID, content string) (string, error)
	SendTextOnEvent(ctx context.Context, account *config.Account, code, content string) error
}

// Options tunes a Syncer.
type Options struct {
	PageLimit int
}

// Syncer drains new messages for an account after a callback notification,
// advancing the stored cursor page by page and routing each item.
type Syncer struct {
	api        PlatformAPI
	cursors    *store.CursorStore
	dedup      *store.DedupCache
	dispatcher dispatch.Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	pageLimit  int
}

// New creates a syncer.
func New(api PlatformAPI, cursors *store.CursorStore, dedup *store.DedupCache, dispatcher dispatch.Dispatcher, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Syncer {
	pageLimit := opts.PageLimit
	if pageLimit <= 0 {
		pageLimit = 1000
	}
	return &Syncer{
		api:        api,
		cursors:    cursors,
		dedup:      dedup,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.With().Str("component", "syncer").Logger(),
		pageLimit:  pageLimit,
	}
}

// Drain pulls every pending page for the account. The account's configured
// open_kfid wins over the one embedded in the callback. deliveryToken
// seeds only the very first pull of a run without a stored cursor; after
// that the returned cursor drives pagination.
//
// With no stored cursor the run is a cold start: pages are consumed solely
// to advance the cursor and nothing is dispatched, which turns an unbounded
// historical backlog into a fresh starting point. An upstream error aborts
// the run with the cursor at its last advanced position; the next callback
// resumes from there.
func (s *Syncer) Drain(ctx context.Context, account *config.Account, callbackKfID, deliveryToken string) error {
	openKfID := account.OpenKfID
	if openKfID == "" {
		openKfID = callbackKfID
	}
	if openKfID == "" {
		s.logger.Warn().
			Str("account_id", account.ID).
			Msg("Drain aborted, no channel instance id in config or callback")
		return ErrNoChannelInstance
	}

	logger := s.logger.With().
		Str("account_id", account.ID).
		Str("open_kfid", openKfID).
		Logger()

	cursor, warm := s.cursors.Get(account.ID, openKfID)
	if !warm {
		logger.Info().Msg("Cold start, advancing cursor without dispatching")
	}

	start := time.Now()
	pages, dispatched := 0, 0

	for {
		req := wecom.SyncMsgRequest{
			OpenKfID: openKfID,
			Limit:    s.pageLimit,
		}
		if cursor != "" {
			req.Cursor = cursor
		} else {
			req.Token = deliveryToken
		}

		resp, err := s.api.SyncMsg(ctx, account, req)
		if err != nil {
			logger.Error().Err(err).Int("pages", pages).Msg("Drain aborted on upstream error")
			s.metrics.DrainsTotal.WithLabelValues("upstream_error").Inc()
			return fmt.Errorf("sync page %d: %w", pages+1, err)
		}
		pages++
		s.metrics.PagesTotal.Inc()

		// Persist the advance before processing so a crash mid-page
		// costs at most one page of redelivery, which dedup absorbs.
		cursor = resp.NextCursor
		s.cursors.Set(account.ID, openKfID, resp.NextCursor)

		if warm {
			msgs, err := resp.Messages()
			if err != nil {
				logger.Error().Err(err).Msg("Drain aborted, page item undecodable")
				s.metrics.DrainsTotal.WithLabelValues("decode_error").Inc()
				return err
			}
			for _, msg := range msgs {
				dispatched += s.process(ctx, account, openKfID, msg, logger)
			}
		}

		if resp.HasMore == 0 {
			break
		}
	}

	s.metrics.DrainsTotal.WithLabelValues("ok").Inc()
	s.metrics.DrainDuration.Observe(time.Since(start).Seconds())

	logger.Info().
		Int("pages", pages).
		Int("dispatched", dispatched).
		Bool("cold_start", !warm).
		Dur("duration", time.Since(start)).
		Msg("Drain completed")
	return nil
}

// process handles one warm-page item; returns 1 when the item was handed
// to the dispatcher.
func (s *Syncer) process(ctx context.Context, account *config.Account, openKfID string, msg *wecom.SyncMessage, logger zerolog.Logger) int {
	if s.dedup.Seen(msg.MsgID) {
		s.metrics.MessagesDedupedTotal.Inc()
		logger.Debug().Str("msgid", msg.MsgID).Msg("Duplicate message skipped")
		return 0
	}

	if msg.MsgType == wecom.MsgTypeEvent {
		s.routeEvent(ctx, account, msg, logger)
		return 0
	}

	// Only customer-originated content goes downstream; system and
	// servicer traffic is observed for cursor advancement only.
	if msg.Origin != wecom.OriginCustomer {
		s.metrics.MessagesDroppedTotal.Inc()
		logger.Debug().
			Str("msgid", msg.MsgID).
			Int("origin", int(msg.Origin)).
			Msg("Non-customer message dropped")
		return 0
	}

	s.forward(ctx, account, openKfID, msg, logger)
	return 1
}

// forward hands one customer message to the dispatcher and delivers any
// reply fragments. Dispatcher and send failures are logged, not retried.
func (s *Syncer) forward(ctx context.Context, account *config.Account, openKfID string, msg *wecom.SyncMessage, logger zerolog.Logger) {
	content := msg.Content()
	inbound := dispatch.Inbound{
		AccountID:      account.ID,
		OpenKfID:       openKfID,
		ExternalUserID: msg.ExternalUserID,
		MsgID:          msg.MsgID,
		SendTime:       msg.SendTime,
		Kind:           content.Kind,
		Text:           content.Text,
		MediaID:        content.MediaID,
	}

	replies, err := s.dispatcher.Dispatch(ctx, inbound)
	s.metrics.MessagesDispatchedTotal.Inc()
	if err != nil {
		logger.Error().Err(err).
			Str("msgid", msg.MsgID).
			Str("external_userid", msg.ExternalUserID).
			Msg("Dispatch failed")
		return
	}

	if len(replies) > 0 && !account.CanSendActive {
		logger.Debug().
			Str("msgid", msg.MsgID).
			Int("replies", len(replies)).
			Msg("Replies suppressed, account cannot send")
		return
	}
	for _, reply := range replies {
		if reply.Content == "" {
			continue
		}
		msgID, err := s.api.SendText(ctx, account, msg.ExternalUserID, openKfID, reply.Content)
		if err != nil {
			s.metrics.SendsTotal.WithLabelValues("reply", "error").Inc()
			logger.Error().Err(err).
				Str("external_userid", msg.ExternalUserID).
				Msg("Reply send failed")
			continue
		}
		s.metrics.SendsTotal.WithLabelValues("reply", "ok").Inc()
		logger.Debug().Str("msgid", msgID).Msg("Reply sent")
	}
}
