package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/storage"
	"github.com/teamchat/internal/storage/redis"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	cli := goredis.NewClient(&goredis.Options{Addr: srv.Addr(), Protocol: 2})
	c := redis.NewFromClient(cli, "test")
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

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

func (s *snaps) last() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.all) == 0 {
		return nil
	}
	return s.all[len(s.all)-1]
}

func msg(t *testing.T, id, team string) storage.Document {
	t.Helper()
	d, err := storage.NewDocument(storage.CollectionMessages, id, map[string]string{"teamId": team}, map[string]string{"id": id})
	require.NoError(t, err)
	return d
}

func TestWriteReadQueryDelete(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, msg(t, "b", "t1")))
	require.NoError(t, c.Write(ctx, msg(t, "a", "t1")))
	require.NoError(t, c.Write(ctx, msg(t, "c", "t2")))

	got, err := c.Read(ctx, storage.CollectionMessages, "c")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.Fields["teamId"])

	docs, err := c.Query(ctx, storage.Where(storage.CollectionMessages, "teamId", "t1"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)

	require.NoError(t, c.Delete(ctx, storage.CollectionMessages, "a"))
	require.NoError(t, c.Delete(ctx, storage.CollectionMessages, "a"))
	_, err = c.Read(ctx, storage.CollectionMessages, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	all, err := c.Query(ctx, storage.Query{Collection: storage.CollectionMessages})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestWriteMovesIndex(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, msg(t, "a", "t1")))
	require.NoError(t, c.Write(ctx, msg(t, "a", "t2")))

	t1, err := c.Query(ctx, storage.Where(storage.CollectionMessages, "teamId", "t1"))
	require.NoError(t, err)
	assert.Empty(t, t1)
	t2, err := c.Query(ctx, storage.Where(storage.CollectionMessages, "teamId", "t2"))
	require.NoError(t, err)
	require.Len(t, t2, 1)
}

func TestSubscribeDeliversInitialSetBeforeChanges(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Write(ctx, msg(t, "a", "t1")))

	var s snaps
	unsub, err := c.Subscribe(ctx, storage.Where(storage.CollectionMessages, "teamId", "t1"), s.on)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return len(s.get()) >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a"}, s.get()[0])

	require.NoError(t, c.Write(ctx, msg(t, "b", "t1")))
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"a", "b"}, s.last()) }, 2*time.Second, 10*time.Millisecond)

	// документ уходит в другую команду: подписка t1 видит его исчезновение
	require.NoError(t, c.Write(ctx, msg(t, "a", "t2")))
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"b"}, s.last()) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Delete(ctx, storage.CollectionMessages, "b"))
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{}, s.last()) }, 2*time.Second, 10*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	var s snaps
	unsub, err := c.Subscribe(ctx, storage.Where(storage.CollectionMessages, "teamId", "t1"), s.on)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(s.get()) == 1 }, 2*time.Second, 10*time.Millisecond)

	unsub()
	unsub()
	require.NoError(t, c.Write(ctx, msg(t, "a", "t1")))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, s.get(), 1)

	require.NoError(t, c.Close())
	assert.NotPanics(t, assert.PanicTestFunc(unsub))
}

func TestSubscribeFailsWhenServerUnavailable(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	c := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: srv.Addr(), Protocol: 2, MaxRetries: -1}), "test")
	defer c.Close()
	srv.Close()

	called := false
	_, err = c.Subscribe(context.Background(), storage.Query{Collection: storage.CollectionMessages}, func([]storage.Document) { called = true })
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.False(t, called)
}

func TestNowUsesServerTime(t *testing.T) {
	c, srv := newClient(t)
	at := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	srv.SetTime(at)

	now, err := c.Now(context.Background())
	require.NoError(t, err)
	assert.True(t, now.Equal(at), "got %s", now)
}

func TestFlushPrefixRemovesOnlyOwnKeys(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Write(ctx, msg(t, "a", "t1")))
	require.NoError(t, srv.Set("other:key", "keep"))

	require.NoError(t, c.FlushPrefix(ctx))

	docs, err := c.Query(ctx, storage.Query{Collection: storage.CollectionMessages})
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.True(t, srv.Exists("other:key"))
}
