package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/storage"
	"github.com/teamchat/internal/storage/memory"
)

type snaps struct {
	mu  sync.Mutex
	all [][]string
}

func (s *snaps) on(docs []storage.Document) {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	s.mu.Lock()
	s.all = append(s.all, ids)
	s.mu.Unlock()
}

func (s *snaps) get() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.all...)
}

func doc(t *testing.T, id, team string) storage.Document {
	t.Helper()
	d, err := storage.NewDocument(storage.CollectionMessages, id, map[string]string{"teamId": team}, map[string]string{"id": id})
	require.NoError(t, err)
	return d
}

func TestWriteReadQuery(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	defer c.Close()

	require.NoError(t, c.Write(ctx, doc(t, "b", "t1")))
	require.NoError(t, c.Write(ctx, doc(t, "a", "t1")))
	require.NoError(t, c.Write(ctx, doc(t, "c", "t2")))

	got, err := c.Read(ctx, storage.CollectionMessages, "a")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Fields["teamId"])

	_, err = c.Read(ctx, storage.CollectionMessages, "zzz")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	docs, err := c.Query(ctx, storage.Where(storage.CollectionMessages, "teamId", "t1"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)

	all, err := c.Query(ctx, storage.Query{Collection: storage.CollectionMessages})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSubscribeReplaysFullSet(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	defer c.Close()
	require.NoError(t, c.Write(ctx, doc(t, "a", "t1")))

	var s snaps
	unsub, err := c.Subscribe(ctx, storage.Where(storage.CollectionMessages, "teamId", "t1"), s.on)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, c.Write(ctx, doc(t, "b", "t1")))
	require.NoError(t, c.Write(ctx, doc(t, "x", "t2"))) // чужая команда не будит подписку
	require.NoError(t, c.Delete(ctx, storage.CollectionMessages, "a"))

	require.Eventually(t, func() bool { return len(s.get()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]string{{"a"}, {"a", "b"}, {"b"}}, s.get())
}

func TestSubscribeSeesDocumentMovingOut(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	defer c.Close()
	require.NoError(t, c.Write(ctx, doc(t, "a", "t1")))

	var s snaps
	unsub, err := c.Subscribe(ctx, storage.Where(storage.CollectionMessages, "teamId", "t1"), s.on)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, c.Write(ctx, doc(t, "a", "t2")))
	require.Eventually(t, func() bool { return len(s.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.get()[1])
}

func TestUnsubscribeIdempotentAndSilent(t *testing.T) {
	ctx := context.Background()
	c := memory.New()

	var s snaps
	unsub, err := c.Subscribe(ctx, storage.Where(storage.CollectionMessages, "teamId", "t1"), s.on)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(s.get()) == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	require.NoError(t, c.Write(ctx, doc(t, "a", "t1")))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s.get(), 1)

	require.NoError(t, c.Close())
	assert.NotPanics(t, assert.PanicTestFunc(unsub))
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	c := memory.New()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.Write(ctx, doc(t, "a", "t1"))
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
	_, err = c.Subscribe(ctx, storage.Query{Collection: storage.CollectionMessages}, func([]storage.Document) {})
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestNowFollowsClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	c := memory.New(memory.WithClock(clock))
	defer c.Close()

	now, err := c.Now(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start, now)

	clock.Advance(time.Second)
	now, _ = c.Now(context.Background())
	assert.Equal(t, start.Add(time.Second), now)
}
