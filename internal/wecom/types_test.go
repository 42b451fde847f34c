package wecom

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSyncMessage(t *testing.T) {
	t.Run("text message", func(t *testing.T) {
		raw := json.RawMessage(`{"msgid":"m1","open_kfid":"kf1","external_userid":"u1","send_time":1672531200,"origin":3,"msgtype":"text","text":{"content":"hello"}}`)
		msg, err := DecodeSyncMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, "m1", msg.MsgID)
		assert.Equal(t, OriginCustomer, msg.Origin)
		assert.Equal(t, MsgTypeText, msg.MsgType)
		require.NotNil(t, msg.Text)
		assert.Equal(t, "hello", msg.Text.Content)
		assert.Nil(t, msg.Raw, "known types carry no raw passthrough")
	})

	t.Run("event message", func(t *testing.T) {
		raw := json.RawMessage(`{"msgid":"m2","origin":4,"msgtype":"event","event":{"event_type":"enter_session","open_kfid":"kf1","external_userid":"u1","welcome_code":"WC1"}}`)
		msg, err := DecodeSyncMessage(raw)
		require.NoError(t, err)
		require.NotNil(t, msg.Event)
		assert.Equal(t, EventEnterSession, msg.Event.EventType)
		assert.Equal(t, "WC1", msg.Event.WelcomeCode)
	})

	t.Run("unknown type keeps raw passthrough", func(t *testing.T) {
		raw := json.RawMessage(`{"msgid":"m3","origin":3,"msgtype":"channels_shop_product"}`)
		msg, err := DecodeSyncMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, msg.Raw)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := DecodeSyncMessage(json.RawMessage(`{"msgid":`))
		assert.Error(t, err)
	})
}

func TestSyncMessageContent(t *testing.T) {
	cases := []struct {
		name string
		msg  SyncMessage
		want ContentDescriptor
	}{
		{
			name: "text",
			msg:  SyncMessage{MsgType: MsgTypeText, Text: &TextPayload{Content: "hi"}},
			want: ContentDescriptor{Kind: MsgTypeText, Text: "hi"},
		},
		{
			name: "image carries media id",
			msg:  SyncMessage{MsgType: MsgTypeImage, Image: &MediaPayload{MediaID: "mid1"}},
			want: ContentDescriptor{Kind: MsgTypeImage, MediaID: "mid1"},
		},
		{
			name: "file carries media id",
			msg:  SyncMessage{MsgType: MsgTypeFile, File: &MediaPayload{MediaID: "mid2"}},
			want: ContentDescriptor{Kind: MsgTypeFile, MediaID: "mid2"},
		},
		{
			name: "menu uses head content",
			msg:  SyncMessage{MsgType: MsgTypeMenu, Menu: &MenuPayload{HeadContent: "pick one"}},
			want: ContentDescriptor{Kind: MsgTypeMenu, Text: "pick one"},
		},
		{
			name: "nil payload degrades to empty descriptor",
			msg:  SyncMessage{MsgType: MsgTypeText},
			want: ContentDescriptor{Kind: MsgTypeText},
		},
		{
			name: "unknown type is labelled",
			msg:  SyncMessage{MsgType: MsgType("channels_shop_product")},
			want: ContentDescriptor{Kind: MsgType("channels_shop_product"), Text: "[channels_shop_product]"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.msg.Content())
		})
	}
}
