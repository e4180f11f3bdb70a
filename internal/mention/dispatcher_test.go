package mention

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/mocks"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/notification"
	"github.com/teamchat/internal/storage/memory"
)

// flakyCreator падает на заданных получателях, остальное пишет в настоящий Store.
type flakyCreator struct {
	next *notification.Store
	fail map[string]bool
}

func (c *flakyCreator) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	if c.fail[n.RecipientID] {
		return model.Notification{}, assert.AnError
	}
	return c.next.Create(ctx, n)
}

func newDirectory(t *testing.T) *mocks.DirectoryMock {
	t.Helper()
	dir := new(mocks.DirectoryMock)
	dir.On("GetActiveMembers", mock.Anything, "t1").Return([]model.RosterEntry{
		{UserID: "u1", UserName: "Alice", IsActive: true},
		{UserID: "u2", UserName: "Bob", IsActive: true},
		{UserID: "u3", UserName: "Carol", IsActive: true},
	}, nil)
	dir.On("GetTeam", mock.Anything, "t1").Return(model.Team{ID: "t1", Name: "Core"}, nil)
	return dir
}

func TestDispatchCreatesOneNotificationPerRecipient(t *testing.T) {
	store := memory.New()
	defer store.Close()
	notes := notification.NewStore(store)
	d := NewDispatcher(newDirectory(t), notes)
	ctx := context.Background()

	msg := model.Message{ID: "m1", TeamID: "t1", SenderID: "u2", SenderName: "Bob", Content: "hello @Alice @Alice"}
	created, err := d.Dispatch(ctx, msg)
	require.NoError(t, err)
	require.Len(t, created, 1)

	list, err := notes.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	n := list[0]
	assert.Equal(t, model.NotificationMention, n.Type)
	assert.Equal(t, "Core", n.ContextTitle)
	assert.Equal(t, "/teams/t1/chat", n.ActionURL)
	assert.Equal(t, "Bob mentioned you", n.Title)
	assert.Equal(t, "hello @Alice @Alice", n.Message)
	assert.False(t, n.IsRead)
}

func TestDispatchIsolatesRecipientFailures(t *testing.T) {
	store := memory.New()
	defer store.Close()
	notes := notification.NewStore(store)
	var (
		mu     sync.Mutex
		hooked []string
	)
	hook := func(ctx context.Context, n model.Notification, msg model.Message) {
		mu.Lock()
		hooked = append(hooked, n.RecipientID)
		mu.Unlock()
	}
	d := NewDispatcher(newDirectory(t), &flakyCreator{next: notes, fail: map[string]bool{"u1": true}}, hook)

	msg := model.Message{ID: "m1", TeamID: "t1", SenderID: "u2", Content: "@Alice and @Carol"}
	created, err := d.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "u3", created[0].RecipientID)
	assert.Equal(t, []string{"u3"}, hooked)
}

func TestDispatchWithoutMentionsCreatesNothing(t *testing.T) {
	creator := &flakyCreator{fail: map[string]bool{}}
	dir := newDirectory(t)
	d := NewDispatcher(dir, creator)

	created, err := d.Dispatch(context.Background(), model.Message{TeamID: "t1", SenderID: "u1", Content: "no mentions @nobody"})
	require.NoError(t, err)
	assert.Empty(t, created)
	dir.AssertNotCalled(t, "GetTeam", mock.Anything, mock.Anything)
}

func TestDispatchRosterFailure(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	dir.On("GetActiveMembers", mock.Anything, "t1").Return(nil, assert.AnError)
	d := NewDispatcher(dir, &flakyCreator{})

	_, err := d.Dispatch(context.Background(), model.Message{TeamID: "t1", Content: "@Alice"})
	require.ErrorIs(t, err, assert.AnError)
}

func TestDispatchFallsBackToTeamID(t *testing.T) {
	store := memory.New()
	defer store.Close()
	notes := notification.NewStore(store)
	dir := new(mocks.DirectoryMock)
	dir.On("GetActiveMembers", mock.Anything, "t9").Return([]model.RosterEntry{{UserID: "u1", UserName: "Alice", IsActive: true}}, nil)
	dir.On("GetTeam", mock.Anything, "t9").Return(nil, assert.AnError)

	d := NewDispatcher(dir, notes)
	d.DispatchAsync(model.Message{TeamID: "t9", SenderID: "u2", SenderEmail: "b@x", Content: "@alice"})
	d.Wait()

	list, err := notes.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "t9", list[0].ContextTitle)
	assert.Equal(t, "b@x mentioned you", list[0].Title)
}

func TestPreviewTruncatesRunes(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "я"
	}
	p := preview(long)
	assert.Equal(t, previewLen, len([]rune(p)))
	assert.Equal(t, "short", preview("short"))
}
