package notification

import (
	"context"
	"sync"

	"github.com/teamchat/internal/audio"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

// CueRequester — получатель звуковых сигналов (audio.Engine).
type CueRequester interface {
	RequestCue(kind audio.CueKind)
}

// Differ находит упоминания, которых не было в предыдущем снапшоте. Первый снапшот
// только запоминается. Не потокобезопасен: один Differ на одну подписку.
type Differ struct {
	prev   map[string]struct{}
	primed bool
}

// Next возвращает новые уведомления типа mention (каждый id не более одного раза).
func (d *Differ) Next(list []model.Notification) []model.Notification {
	cur := make(map[string]struct{}, len(list))
	var fresh []model.Notification
	for _, n := range list {
		if _, dup := cur[n.ID]; dup {
			continue
		}
		cur[n.ID] = struct{}{}
		if !d.primed || n.Type != model.NotificationMention {
			continue
		}
		if _, seen := d.prev[n.ID]; !seen {
			fresh = append(fresh, n)
		}
	}
	d.prev = cur
	d.primed = true
	return fresh
}

// Update — один снапшот ленты.
type Update struct {
	Notifications []model.Notification
	NewMentions   []model.Notification
	Initial       bool
}

// Unread — число непрочитанных в снапшоте.
func (u Update) Unread() int {
	n := 0
	for _, item := range u.Notifications {
		if !item.IsRead {
			n++
		}
	}
	return n
}

type Feed struct {
	store *Store
	cues  CueRequester
}

// NewFeed; cues может быть nil (сервер только пересылает NewMentions клиенту).
func NewFeed(store *Store, cues CueRequester) *Feed {
	return &Feed{store: store, cues: cues}
}

// Subscribe подписывает на ленту пользователя. На каждый снапшот с новыми упоминаниями
// запрашивается один сигнал audio.CueMention; начальная загрузка сигналов не даёт.
func (f *Feed) Subscribe(ctx context.Context, userID string, onUpdate func(Update)) (storage.Unsubscribe, error) {
	var (
		mu     sync.Mutex
		differ Differ
	)
	return f.store.Subscribe(ctx, userID, func(list []model.Notification) {
		mu.Lock()
		initial := !differ.primed
		fresh := differ.Next(list)
		mu.Unlock()

		if len(fresh) > 0 && f.cues != nil {
			f.cues.RequestCue(audio.CueMention)
		}
		if onUpdate != nil {
			onUpdate(Update{Notifications: list, NewMentions: fresh, Initial: initial})
		}
	})
}

func (f *Feed) MarkRead(ctx context.Context, id, userID string) error {
	return f.store.MarkRead(ctx, id, userID)
}

func (f *Feed) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return f.store.MarkAllRead(ctx, userID)
}
