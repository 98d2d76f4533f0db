package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name string
	err  error
	sent []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNotify_FiltersByEventType(t *testing.T) {
	s := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{s}, []string{"side_flip"}, discard())

	require.NoError(t, n.Notify(context.Background(), "side_flip", "Side flip detected", "UP is now expensive"))
	require.NoError(t, n.Notify(context.Background(), "fills_ingested", "Fills", "10 new fills"))

	assert.Equal(t, []string{"Side flip detected"}, s.sent)
}

func TestNotify_EmptyAllowlistPassesEverything(t *testing.T) {
	s := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{s}, nil, discard())

	require.NoError(t, n.Notify(context.Background(), "anything", "title", "msg"))
	assert.Len(t, s.sent, 1)
}

func TestNotify_EventMatchingIsCaseInsensitive(t *testing.T) {
	s := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{s}, []string{" Side_Flip "}, discard())

	require.NoError(t, n.Notify(context.Background(), "SIDE_FLIP", "title", "msg"))
	assert.Len(t, s.sent, 1)
}

func TestNotify_OneFailingSenderDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("webhook down")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "side_flip", "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.sent, 1)
}

func TestNotifyAll_BypassesFilter(t *testing.T) {
	s := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{s}, []string{"side_flip"}, discard())

	require.NoError(t, n.NotifyAll(context.Background(), "title", "msg"))
	assert.Len(t, s.sent, 1)
}

func TestNotify_NoSendersIsNoOp(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	require.NoError(t, n.Notify(context.Background(), "side_flip", "title", "msg"))
}
