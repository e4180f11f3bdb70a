package desk

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/audio"
	"github.com/teamchat/internal/chat"
	"github.com/teamchat/internal/events"
	"github.com/teamchat/internal/messagelog"
	"github.com/teamchat/internal/mocks"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/notification"
	"github.com/teamchat/internal/readstate"
	"github.com/teamchat/internal/storage/memory"
)

type cueLog struct {
	mu       sync.Mutex
	kinds    []audio.CueKind
	unlocked bool
	enabled  bool
}

func (c *cueLog) RequestCue(kind audio.CueKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, kind)
}

func (c *cueLog) Unlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unlocked = true
}

func (c *cueLog) SetEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	return nil
}

func (c *cueLog) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *cueLog) isUnlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlocked
}

func (c *cueLog) all() []audio.CueKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.CueKind(nil), c.kinds...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	log   *messagelog.Client
	notes *notification.Store
	cues  *cueLog
	out   *syncBuffer
	sess  *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	dir := new(mocks.DirectoryMock)
	roster := []model.RosterEntry{
		{UserID: "u1", UserName: "Alice", IsActive: true},
		{UserID: "u2", UserName: "Bob", IsActive: true},
	}
	dir.On("GetActiveMembers", mock.Anything, mock.Anything).Return(roster, nil)

	log := messagelog.New(store, dir)
	notes := notification.NewStore(store)
	cues := &cueLog{enabled: true}
	out := &syncBuffer{}
	sess := NewSession(Deps{
		UserID:  "u1",
		Log:     log,
		Chat:    chat.NewService(log, dir, nil, events.NewPublisher("", "test")),
		Tracker: readstate.New(store, log, readstate.WithBatchWindow(time.Millisecond)),
		Notes:   notes,
		Cues:    cues,
		Out:     out,
	})
	t.Cleanup(sess.Close)
	return &fixture{log: log, notes: notes, cues: cues, out: out, sess: sess}
}

func (f *fixture) start(t *testing.T, teams ...string) {
	t.Helper()
	require.NoError(t, f.sess.Start(context.Background(), teams))
	require.Eventually(t, f.sess.ready, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) mention(t *testing.T, recipient string) {
	t.Helper()
	_, err := f.notes.Create(context.Background(), model.Notification{
		RecipientID: recipient, Title: "Bob mentioned you", Message: "@Alice look", Type: model.NotificationMention,
	})
	require.NoError(t, err)
}

func TestInitialLoadIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.log.Append(ctx, "t1", "u2", "backlog")
		require.NoError(t, err)
	}
	f.mention(t, "u1")
	f.mention(t, "u1")

	f.start(t, "t1", "t2")
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, f.cues.all())
	assert.Contains(t, f.out.String(), "Bob: backlog")
	assert.Contains(t, f.out.String(), "notifications: 2 unread")
}

func TestReceivedCueForOthersInActiveTeam(t *testing.T) {
	f := newFixture(t)
	f.start(t, "t1")

	_, err := f.log.Append(context.Background(), "t1", "u2", "hi alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.cues.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []audio.CueKind{audio.CueReceived}, f.cues.all())
}

func TestOwnSendGivesSentCueOnly(t *testing.T) {
	f := newFixture(t)
	f.start(t, "t1")
	ctx := context.Background()

	require.NoError(t, f.sess.HandleLine(ctx, "hello team"))
	require.Eventually(t, func() bool {
		return strings.Contains(f.out.String(), "Alice: hello team")
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []audio.CueKind{audio.CueSent}, f.cues.all())
	assert.True(t, f.cues.isUnlocked())
}

func TestGenericCueWhenOtherTeamGrows(t *testing.T) {
	f := newFixture(t)
	f.start(t, "t1", "t2")

	_, err := f.log.Append(context.Background(), "t2", "u2", "over here")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.cues.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []audio.CueKind{audio.CueGeneric}, f.cues.all())
}

func TestMentionCueFromFeed(t *testing.T) {
	f := newFixture(t)
	f.start(t, "t1")

	f.mention(t, "u1")
	f.mention(t, "u2")

	require.Eventually(t, func() bool { return len(f.cues.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []audio.CueKind{audio.CueMention}, f.cues.all())
}

func TestSwitchTeamDropsOldLog(t *testing.T) {
	f := newFixture(t)
	f.start(t, "t1", "t2")
	ctx := context.Background()

	require.NoError(t, f.sess.HandleLine(ctx, "/team t2"))
	assert.Equal(t, "t2", f.sess.ActiveTeam())
	require.Eventually(t, f.sess.ready, 2*time.Second, 5*time.Millisecond)

	_, err := f.log.Append(ctx, "t1", "u2", "left behind")
	require.NoError(t, err)

	// t1 больше не активна: только общий сигнал по непрочитанному, без «received».
	require.Eventually(t, func() bool { return len(f.cues.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []audio.CueKind{audio.CueGeneric}, f.cues.all())
	assert.NotContains(t, f.out.String(), "left behind")
}

func TestCommands(t *testing.T) {
	f := newFixture(t)
	f.start(t, "t1")
	ctx := context.Background()

	require.NoError(t, f.sess.HandleLine(ctx, "/sound off"))
	assert.False(t, f.cues.Enabled())
	require.NoError(t, f.sess.HandleLine(ctx, "/sound on"))
	assert.True(t, f.cues.Enabled())
	require.NoError(t, f.sess.HandleLine(ctx, "/read"))
	require.NoError(t, f.sess.HandleLine(ctx, "/help"))
	assert.Contains(t, f.out.String(), "commands:")
	assert.ErrorIs(t, f.sess.HandleLine(ctx, "/quit"), ErrQuit)
	assert.Empty(t, f.cues.all())
}
