// Package chat собирает путь отправки сообщения: проверка членства и запись в журнал,
// затем в фоне упоминания и доменные события. Ошибки фоновой части отправку не откатывают.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/teamchat/internal/directory"
	"github.com/teamchat/internal/events"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/messagelog"
	"github.com/teamchat/internal/metrics"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

// ErrForbidden — правка или удаление чужого сообщения.
var ErrForbidden = errors.New("only the author can change this message")

const publishTimeout = 5 * time.Second

// MentionDispatcher — фоновая рассылка упоминаний (mention.Dispatcher).
type MentionDispatcher interface {
	DispatchAsync(msg model.Message)
}

type Service struct {
	log      *messagelog.Client
	dir      directory.Directory
	mentions MentionDispatcher
	events   events.Publisher

	wg sync.WaitGroup
}

func NewService(log *messagelog.Client, dir directory.Directory, mentions MentionDispatcher, pub events.Publisher) *Service {
	return &Service{log: log, dir: dir, mentions: mentions, events: pub}
}

// Send добавляет сообщение в журнал команды. Вернувшаяся ошибка относится только к записи;
// упоминания и события отправляются после успешной записи и не влияют на результат.
func (s *Service) Send(ctx context.Context, teamID, authorID, content, replyTo string) (model.Message, error) {
	m, err := s.log.Post(ctx, teamID, authorID, content, messagelog.WithReplyTo(replyTo))
	if errors.Is(err, messagelog.ErrNotAMember) {
		metrics.AppendDenied.Inc()
		return model.Message{}, err
	}
	if err != nil {
		return model.Message{}, err
	}
	metrics.MessagesAppended.Inc()

	if s.mentions != nil {
		s.mentions.DispatchAsync(m)
	}
	s.publish(events.MessageSent, m.TeamID, m.SenderID, m)
	return m, nil
}

// Edit меняет текст своего сообщения.
func (s *Service) Edit(ctx context.Context, messageID, userID, content string) (model.Message, error) {
	m, err := s.log.Get(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if m.SenderID != userID {
		return model.Message{}, ErrForbidden
	}
	m, err = s.log.Edit(ctx, messageID, content)
	if err != nil {
		return model.Message{}, err
	}
	s.publish(events.MessageEdited, m.TeamID, userID, m)
	return m, nil
}

// Delete удаляет своё сообщение.
func (s *Service) Delete(ctx context.Context, messageID, userID string) error {
	m, err := s.log.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return ErrForbidden
	}
	if err := s.log.Delete(ctx, messageID); err != nil {
		return err
	}
	s.publish(events.MessageDeleted, m.TeamID, userID, map[string]string{"id": m.ID})
	return nil
}

// React добавляет реакцию; реагировать может только активный участник команды.
func (s *Service) React(ctx context.Context, messageID, userID, emoji string) (model.Message, error) {
	m, err := s.log.Get(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if err := s.authorize(ctx, m.TeamID, userID); err != nil {
		return model.Message{}, err
	}
	return s.log.AddReaction(ctx, messageID, userID, emoji)
}

// History — журнал команды для участника.
func (s *Service) History(ctx context.Context, teamID, userID string) ([]model.Message, error) {
	if err := s.authorize(ctx, teamID, userID); err != nil {
		return nil, err
	}
	return s.log.List(ctx, teamID)
}

// Authorize проверяет, что userID — активный участник teamID (по каталогу, в момент вызова).
func (s *Service) Authorize(ctx context.Context, teamID, userID string) error {
	return s.authorize(ctx, teamID, userID)
}

func (s *Service) authorize(ctx context.Context, teamID, userID string) error {
	_, ok, err := directory.IsActiveMember(ctx, s.dir, teamID, userID)
	if errors.Is(err, directory.ErrTeamNotFound) || (err == nil && !ok) {
		return &messagelog.AuthorizationError{TeamID: teamID, UserID: userID}
	}
	if err != nil {
		return storage.Unavailable("chat.authorize", err)
	}
	return nil
}

func (s *Service) publish(routingKey, teamID, actorID string, payload any) {
	if s.events == nil {
		return
	}
	env := events.Envelope{Type: routingKey, OccurredAt: time.Now().UTC(), TeamID: teamID, ActorID: actorID, Payload: payload}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.events.Publish(ctx, routingKey, env); err != nil {
			logger.Errorf("chat: publish %s: %v", routingKey, err)
		}
	}()
}

// Wait ждёт фоновые публикации (остановка сервиса, тесты).
func (s *Service) Wait() { s.wg.Wait() }

// MentionEventHook публикует mention.created для каждого созданного уведомления об упоминании.
func MentionEventHook(pub events.Publisher) func(ctx context.Context, n model.Notification, msg model.Message) {
	return func(ctx context.Context, n model.Notification, msg model.Message) {
		env := events.Envelope{
			Type:       events.MentionCreated,
			OccurredAt: n.CreatedAt,
			TeamID:     msg.TeamID,
			ActorID:    msg.SenderID,
			Payload: map[string]string{
				"notificationId": n.ID,
				"recipientId":    n.RecipientID,
				"messageId":      msg.ID,
			},
		}
		if err := pub.Publish(ctx, events.MentionCreated, env); err != nil {
			logger.Errorf("chat: publish %s: %v", events.MentionCreated, err)
		}
	}
}
