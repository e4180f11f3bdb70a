package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/audio"
	"github.com/teamchat/internal/model"
)

type cueCounter struct {
	mu    sync.Mutex
	kinds []audio.CueKind
}

func (c *cueCounter) RequestCue(kind audio.CueKind) {
	c.mu.Lock()
	c.kinds = append(c.kinds, kind)
	c.mu.Unlock()
}

func (c *cueCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.kinds)
}

type updates struct {
	mu   sync.Mutex
	list []Update
}

func (u *updates) on(up Update) {
	u.mu.Lock()
	u.list = append(u.list, up)
	u.mu.Unlock()
}

func (u *updates) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.list)
}

func (u *updates) last() Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.list[len(u.list)-1]
}

func TestDifferIgnoresInitialSnapshot(t *testing.T) {
	var d Differ
	first := []model.Notification{
		{ID: "a", Type: model.NotificationMention},
		{ID: "b", Type: model.NotificationMention},
	}
	assert.Empty(t, d.Next(first))

	second := append([]model.Notification{
		{ID: "c", Type: model.NotificationMention},
		{ID: "d", Type: model.NotificationInfo},
		{ID: "c", Type: model.NotificationMention},
	}, first...)
	fresh := d.Next(second)
	require.Len(t, fresh, 1)
	assert.Equal(t, "c", fresh[0].ID)

	// тот же снапшот повторно — ничего нового
	assert.Empty(t, d.Next(second))
	// удалённое и вернувшееся снова считается новым
	assert.Empty(t, d.Next(first))
	assert.Len(t, d.Next(second), 1)
}

func TestFeedNoCueOnInitialLoad(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.Create(ctx, model.Notification{RecipientID: "u1", Title: "m", Type: model.NotificationMention})
		require.NoError(t, err)
	}

	cues := &cueCounter{}
	ups := &updates{}
	feed := NewFeed(s, cues)
	unsub, err := feed.Subscribe(ctx, "u1", ups.on)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return ups.count() == 1 }, time.Second, 5*time.Millisecond)
	first := ups.last()
	assert.True(t, first.Initial)
	assert.Len(t, first.Notifications, 2)
	assert.Empty(t, first.NewMentions)
	assert.Zero(t, cues.count())

	_, err = s.Create(ctx, model.Notification{RecipientID: "u1", Title: "info"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ups.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, cues.count(), "non-mention notifications stay silent")

	m, err := s.Create(ctx, model.Notification{RecipientID: "u1", Title: "m", Type: model.NotificationMention})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ups.count() == 3 }, time.Second, 5*time.Millisecond)
	last := ups.last()
	require.Len(t, last.NewMentions, 1)
	assert.Equal(t, m.ID, last.NewMentions[0].ID)
	assert.Equal(t, 4, last.Unread())
	assert.Equal(t, 1, cues.count())
	assert.Equal(t, audio.CueMention, cues.kinds[0])

	// mark read меняет снапшот, но новых упоминаний нет
	require.NoError(t, feed.MarkRead(ctx, m.ID, "u1"))
	require.Eventually(t, func() bool { return ups.count() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, cues.count())
	assert.Equal(t, 3, ups.last().Unread())

	n, err := feed.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFeedUnsubscribeTwice(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	ups := &updates{}
	unsub, err := NewFeed(s, nil).Subscribe(ctx, "u1", ups.on)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ups.count() == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	assert.NotPanics(t, func() { unsub() })
	_, err = s.Create(ctx, model.Notification{RecipientID: "u1", Title: "late", Type: model.NotificationMention})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, ups.count())
}
