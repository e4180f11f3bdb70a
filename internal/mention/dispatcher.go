package mention

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/teamchat/internal/directory"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/metrics"
	"github.com/teamchat/internal/model"
)

// previewLen: сколько символов сообщения попадает в текст уведомления.
const previewLen = 140

// dispatchTimeout ограничивает фоновую рассылку: сообщение уже сохранено, ждать её некому.
const dispatchTimeout = 15 * time.Second

// Creator сохраняет уведомление (notification.Store).
type Creator interface {
	Create(ctx context.Context, n model.Notification) (model.Notification, error)
}

// Hook получает каждое созданное уведомление (web push, события). Ошибки хук логирует сам.
type Hook func(ctx context.Context, n model.Notification, msg model.Message)

type Dispatcher struct {
	dir     directory.Directory
	creator Creator
	hooks   []Hook

	wg sync.WaitGroup
}

func NewDispatcher(dir directory.Directory, creator Creator, hooks ...Hook) *Dispatcher {
	return &Dispatcher{dir: dir, creator: creator, hooks: hooks}
}

// ActionURL: путь к чату команды в клиенте.
func ActionURL(teamID string) string {
	return "/teams/" + teamID + "/chat"
}

// Dispatch разбирает упоминания в msg и создаёт по уведомлению на каждого адресата.
// Ошибка одного адресата не мешает остальным. Ошибка возвращается только если не удалось
// получить ростер; созданные уведомления возвращаются всегда.
func (d *Dispatcher) Dispatch(ctx context.Context, msg model.Message) ([]model.Notification, error) {
	defer logger.DeferLogDuration("mention.Dispatch", time.Now())()
	roster, err := d.dir.GetActiveMembers(ctx, msg.TeamID)
	if err != nil {
		return nil, fmt.Errorf("mention.Dispatch roster %s: %w", msg.TeamID, err)
	}
	recipients := Resolve(msg.Content, roster, msg.SenderID)
	if len(recipients) == 0 {
		return nil, nil
	}
	metrics.MentionsResolved.Add(float64(len(recipients)))

	contextTitle := msg.TeamID
	if team, err := d.dir.GetTeam(ctx, msg.TeamID); err != nil {
		logger.Warnf("mention.Dispatch: team %s name: %v", msg.TeamID, err)
	} else if team.Name != "" {
		contextTitle = team.Name
	}

	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderEmail
	}
	created := make([]model.Notification, 0, len(recipients))
	for _, userID := range recipients {
		n, err := d.creator.Create(ctx, model.Notification{
			RecipientID:  userID,
			Title:        fmt.Sprintf("%s mentioned you", sender),
			Message:      preview(msg.Content),
			Type:         model.NotificationMention,
			ActionURL:    ActionURL(msg.TeamID),
			ContextTitle: contextTitle,
		})
		if err != nil {
			metrics.NotificationCreateFailures.Inc()
			logger.Errorf("mention.Dispatch: notify %s about %s: %v", userID, msg.ID, err)
			continue
		}
		created = append(created, n)
		for _, h := range d.hooks {
			h(ctx, n, msg)
		}
	}
	return created, nil
}

// DispatchAsync запускает Dispatch в фоне и не ждёт результата.
func (d *Dispatcher) DispatchAsync(msg model.Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if _, err := d.Dispatch(ctx, msg); err != nil {
			logger.Errorf("mention: %v", err)
		}
	}()
}

// Wait ждёт окончания фоновых рассылок (остановка сервиса, тесты).
func (d *Dispatcher) Wait() { d.wg.Wait() }

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLen {
		return s
	}
	r := []rune(s)
	return string(r[:previewLen-1]) + "…"
}
