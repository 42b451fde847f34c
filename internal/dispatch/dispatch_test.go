package dispatch

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/wecom"
)

func TestLoggingDispatcher(t *testing.T) {
	d := NewLoggingDispatcher(zerolog.Nop())

	replies, err := d.Dispatch(context.Background(), Inbound{
		AccountID:      "acct1",
		OpenKfID:       "kf1",
		ExternalUserID: "u1",
		MsgID:          "m1",
		Kind:           wecom.MsgTypeText,
		Text:           "hello",
	})
	require.NoError(t, err)
	assert.Empty(t, replies, "default dispatcher never replies")
}
