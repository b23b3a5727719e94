package surface

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    Strategy
		wantErr bool
	}{
		{"", Gentle, false},
		{"gentle", Gentle, false},
		{"aggressive", Aggressive, false},
		{"violent", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.raw)
		if tt.wantErr {
			require.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.want, got)
	}
}

type recorder struct {
	topics   []string
	commands []Command
}

func (r *recorder) Publish(topic string, payload any) {
	r.topics = append(r.topics, topic)
	r.commands = append(r.commands, payload.(Command))
}

func TestRemotePublishesCommands(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := NewRemote(rec)
	at := time.Unix(100, 0)
	r.now = func() time.Time { return at }
	ctx := WithSession(context.Background(), "session_a")

	call, err := r.Dial(ctx, "*219#")
	require.NoError(t, err)
	require.NoError(t, r.Inject(ctx, "1"))
	require.NoError(t, r.Conceal(ctx, Aggressive))
	require.NoError(t, call.Hangup())

	require.Equal(t, []string{TopicCommand, TopicCommand, TopicCommand, TopicCommand}, rec.topics)
	require.Equal(t, []Command{
		{Action: ActionDial, SessionID: "session_a", Code: "*219#", At: at},
		{Action: ActionInject, SessionID: "session_a", Text: "1", At: at},
		{Action: ActionConceal, SessionID: "session_a", Strategy: Aggressive, At: at},
		{Action: ActionHangup, SessionID: "session_a", At: at},
	}, rec.commands)
}

func TestRemoteCallsAreBoundToTheirSession(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := NewRemote(rec)

	callA, err := r.Dial(WithSession(context.Background(), "session_a"), "*219#")
	require.NoError(t, err)
	_, err = r.Dial(WithSession(context.Background(), "session_b"), "*219#")
	require.NoError(t, err)

	require.NoError(t, callA.Hangup())
	last := rec.commands[len(rec.commands)-1]
	require.Equal(t, ActionHangup, last.Action)
	require.Equal(t, "session_a", last.SessionID)
}

func TestSessionFrom(t *testing.T) {
	t.Parallel()

	require.Empty(t, SessionFrom(context.Background()))
	require.Equal(t, "session_x", SessionFrom(WithSession(context.Background(), "session_x")))
}
