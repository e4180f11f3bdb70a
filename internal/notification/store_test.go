package notification

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage/memory"
)

func newStore(t *testing.T) (*Store, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	backend := memory.New(memory.WithClock(clock))
	t.Cleanup(func() { _ = backend.Close() })
	return NewStore(backend), clock
}

func TestCreateValidates(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, model.Notification{Title: "x"})
	require.ErrorIs(t, err, ErrMissingRecipient)
	_, err = s.Create(ctx, model.Notification{RecipientID: "u1", Type: "loud"})
	require.ErrorIs(t, err, ErrInvalidType)

	n, err := s.Create(ctx, model.Notification{RecipientID: "u1", Title: "hi", IsRead: true})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, model.NotificationInfo, n.Type)
	assert.False(t, n.IsRead)
	assert.False(t, n.CreatedAt.IsZero())
}

func TestListNewestFirst(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		n, err := s.Create(ctx, model.Notification{RecipientID: "u1", Title: "n"})
		require.NoError(t, err)
		ids = append(ids, n.ID)
		clock.Advance(time.Second)
	}
	_, err := s.Create(ctx, model.Notification{RecipientID: "u2", Title: "other"})
	require.NoError(t, err)

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestMarkReadTransitions(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	n, err := s.Create(ctx, model.Notification{RecipientID: "u1", Title: "n"})
	require.NoError(t, err)

	require.ErrorIs(t, s.MarkRead(ctx, n.ID, "u2"), ErrNotRecipient)
	require.ErrorIs(t, s.MarkRead(ctx, "missing", "u1"), ErrNotFound)

	require.NoError(t, s.MarkRead(ctx, n.ID, "u1"))
	require.NoError(t, s.MarkRead(ctx, n.ID, "u1"))
	got, err := s.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
}

func TestMarkAllRead(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, model.Notification{RecipientID: "u1", Title: "n"})
		require.NoError(t, err)
	}
	other, err := s.Create(ctx, model.Notification{RecipientID: "u2", Title: "n"})
	require.NoError(t, err)

	n, err := s.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	untouched, err := s.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, untouched.IsRead)
}
