package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/wecom"
)

func drainOneEventPage(t *testing.T, fx *fixture, ev *wecom.EventPayload) {
	t.Helper()
	fx.api.pages = []*wecom.SyncMsgResponse{
		{NextCursor: "C2", HasMore: 0, MsgList: []json.RawMessage{rawEvent("e1", ev)}},
	}
	fx.cursors.Set("acct1", "kf1", "C1")
	require.NoError(t, fx.syncer.Drain(context.Background(), fx.account, "", ""))
}

func TestRouteEnterSession(t *testing.T) {
	t.Run("welcome sent once with the one-time code", func(t *testing.T) {
		fx := newFixture(t, &fakeAPI{})
		fx.account.WelcomeMessage = "hello and welcome"

		drainOneEventPage(t, fx, &wecom.EventPayload{
			EventType:      wecom.EventEnterSession,
			ExternalUserID: "u1",
			WelcomeCode:    "WC1",
		})

		assert.Equal(t, []string{"WC1|hello and welcome"}, fx.api.welcomes)
		assert.Empty(t, fx.dispatcher.inbound, "events never reach the dispatcher")
	})

	t.Run("no welcome without a configured text", func(t *testing.T) {
		fx := newFixture(t, &fakeAPI{})

		drainOneEventPage(t, fx, &wecom.EventPayload{
			EventType:   wecom.EventEnterSession,
			WelcomeCode: "WC1",
		})

		assert.Empty(t, fx.api.welcomes)
	})

	t.Run("no welcome without a code", func(t *testing.T) {
		fx := newFixture(t, &fakeAPI{})
		fx.account.WelcomeMessage = "hello"

		drainOneEventPage(t, fx, &wecom.EventPayload{
			EventType: wecom.EventEnterSession,
		})

		assert.Empty(t, fx.api.welcomes)
	})

	t.Run("send failure does not fail the drain", func(t *testing.T) {
		fx := newFixture(t, &fakeAPI{sendErr: errors.New("code already used")})
		fx.account.WelcomeMessage = "hello"

		drainOneEventPage(t, fx, &wecom.EventPayload{
			EventType:   wecom.EventEnterSession,
			WelcomeCode: "WC1",
		})

		cursor, _ := fx.cursors.Get("acct1", "kf1")
		assert.Equal(t, "C2", cursor, "cursor still advances past the event")
	})
}

func TestRouteOtherEvents(t *testing.T) {
	cases := []struct {
		name string
		ev   *wecom.EventPayload
	}{
		{"msg_send_fail is observed", &wecom.EventPayload{
			EventType: wecom.EventMsgSendFail,
			FailMsgID: "m9",
			FailType:  1,
		}},
		{"servicer status change is observed", &wecom.EventPayload{
			EventType:      wecom.EventServicerStatusChange,
			ServicerUserID: "agent1",
			Status:         2,
		}},
		{"session status change is observed", &wecom.EventPayload{
			EventType:         wecom.EventSessionStatusChange,
			ChangeType:        3,
			NewServicerUserID: "agent2",
		}},
		{"unknown event is dropped", &wecom.EventPayload{
			EventType: "brand_new_event",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, &fakeAPI{})
			drainOneEventPage(t, fx, tc.ev)

			assert.Empty(t, fx.dispatcher.inbound)
			assert.Empty(t, fx.api.welcomes)
			assert.Empty(t, fx.api.sent)

			cursor, _ := fx.cursors.Get("acct1", "kf1")
			assert.Equal(t, "C2", cursor)
		})
	}
}

func TestRouteEventWithoutPayload(t *testing.T) {
	fx := newFixture(t, &fakeAPI{})
	fx.api.pages = []*wecom.SyncMsgResponse{
		{NextCursor: "C2", HasMore: 0, MsgList: []json.RawMessage{rawEvent("e1", nil)}},
	}
	fx.cursors.Set("acct1", "kf1", "C1")

	require.NoError(t, fx.syncer.Drain(context.Background(), fx.account, "", ""))
	assert.Empty(t, fx.dispatcher.inbound)
}
