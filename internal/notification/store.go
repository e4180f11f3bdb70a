// Package notification — записи уведомлений получателя и живая лента с сигналом звуку на новые упоминания.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

const fieldRecipientID = "recipientId"

var (
	ErrNotFound         = errors.New("notification not found")
	ErrNotRecipient     = errors.New("notification belongs to another user")
	ErrMissingRecipient = errors.New("notification recipient is required")
	ErrInvalidType      = errors.New("unknown notification type")
)

type Store struct {
	store storage.LiveStore
}

func NewStore(store storage.LiveStore) *Store {
	return &Store{store: store}
}

// Create сохраняет новое уведомление: id и createdAt назначаются здесь, isRead = false.
func (s *Store) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	defer logger.DeferLogDuration("notification.Create", time.Now())()
	if strings.TrimSpace(n.RecipientID) == "" {
		return model.Notification{}, ErrMissingRecipient
	}
	if n.Type == "" {
		n.Type = model.NotificationInfo
	}
	if !n.Type.Valid() {
		return model.Notification{}, fmt.Errorf("%w: %q", ErrInvalidType, n.Type)
	}
	now, err := s.store.Now(ctx)
	if err != nil {
		return model.Notification{}, fmt.Errorf("notification.Create: %w", err)
	}
	n.ID = uuid.NewString()
	n.CreatedAt = now.UTC()
	n.IsRead = false
	if err := s.put(ctx, n); err != nil {
		return model.Notification{}, fmt.Errorf("notification.Create: %w", err)
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Notification, error) {
	doc, err := s.store.Read(ctx, storage.CollectionNotifications, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Notification{}, ErrNotFound
	}
	if err != nil {
		return model.Notification{}, fmt.Errorf("notification.Get: %w", err)
	}
	var n model.Notification
	if err := doc.Decode(&n); err != nil {
		return model.Notification{}, fmt.Errorf("notification.Get: %w", err)
	}
	return n, nil
}

// MarkRead отмечает уведомление прочитанным. Уже прочитанное — no-op.
func (s *Store) MarkRead(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("notification.MarkRead", time.Now())()
	n, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.RecipientID != userID {
		return ErrNotRecipient
	}
	if n.IsRead {
		return nil
	}
	n.IsRead = true
	if err := s.put(ctx, n); err != nil {
		return fmt.Errorf("notification.MarkRead: %w", err)
	}
	return nil
}

// MarkAllRead отмечает прочитанными все непрочитанные уведомления пользователя и возвращает их число.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int, error) {
	defer logger.DeferLogDuration("notification.MarkAllRead", time.Now())()
	list, err := s.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range list {
		if item.IsRead {
			continue
		}
		item.IsRead = true
		if err := s.put(ctx, item); err != nil {
			return n, fmt.Errorf("notification.MarkAllRead: %w", err)
		}
		n++
	}
	return n, nil
}

// List возвращает уведомления пользователя, новые первыми.
func (s *Store) List(ctx context.Context, userID string) ([]model.Notification, error) {
	docs, err := s.store.Query(ctx, storage.Where(storage.CollectionNotifications, fieldRecipientID, userID))
	if err != nil {
		return nil, fmt.Errorf("notification.List: %w", err)
	}
	return decodeNewestFirst(docs), nil
}

// Subscribe — живая выборка уведомлений пользователя (новые первыми), полный набор на каждое изменение.
func (s *Store) Subscribe(ctx context.Context, userID string, onUpdate func([]model.Notification)) (storage.Unsubscribe, error) {
	unsub, err := s.store.Subscribe(ctx, storage.Where(storage.CollectionNotifications, fieldRecipientID, userID), func(docs []storage.Document) {
		onUpdate(decodeNewestFirst(docs))
	})
	if err != nil {
		return nil, fmt.Errorf("notification.Subscribe: %w", err)
	}
	return unsub, nil
}

func (s *Store) put(ctx context.Context, n model.Notification) error {
	doc, err := storage.NewDocument(storage.CollectionNotifications, n.ID, map[string]string{
		fieldRecipientID: n.RecipientID,
	}, n)
	if err != nil {
		return err
	}
	return s.store.Write(ctx, doc)
}

func decodeNewestFirst(docs []storage.Document) []model.Notification {
	out := make([]model.Notification, 0, len(docs))
	for _, d := range docs {
		var n model.Notification
		if err := d.Decode(&n); err != nil {
			logger.Errorf("notification: skip broken record %s: %v", d.ID, err)
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
