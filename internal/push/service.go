// Package push доставляет уведомления об упоминаниях в браузер через Web Push (VAPID).
// Подписки браузеров лежат в живом хранилище, в коллекции push_subscriptions.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/metrics"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

const (
	fieldUserID    = "userId"
	maxSubsPerUser = 10
	pushTTL        = 30
)

var ErrInvalidSubscription = errors.New("subscription requires endpoint, keys.p256dh and keys.auth")

// Subscription: подписка из браузера (PushSubscription.toJSON()).
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type record struct {
	UserID       string       `json:"userId"`
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Payload: то, что получает service worker.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type sendFunc func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

type Service struct {
	store storage.LiveStore
	keys  *VAPIDKeys
	opts  *webpush.Options
	send  sendFunc
}

// NewService; keys == nil: подписки сохраняются, но отправка не выполняется.
func NewService(store storage.LiveStore, keys *VAPIDKeys, subscriber string) *Service {
	s := &Service{store: store, keys: keys, send: webpush.SendNotificationWithContext}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		if subscriber == "" {
			subscriber = "teamchat-push"
		}
		s.opts = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             pushTTL,
		}
	}
	return s
}

// PublicKey: ключ для pushManager.subscribe на клиенте; пусто, если push выключен.
func (s *Service) PublicKey() string {
	if s.opts == nil {
		return ""
	}
	return s.keys.PublicKey
}

func subscriptionID(endpoint string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(endpoint)).String()
}

// Subscribe сохраняет подписку; у пользователя остаются не больше maxSubsPerUser самых новых.
func (s *Service) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	defer logger.DeferLogDuration("push.Subscribe", time.Now())()
	if strings.TrimSpace(sub.Endpoint) == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return ErrInvalidSubscription
	}
	now, err := s.store.Now(ctx)
	if err != nil {
		return fmt.Errorf("push.Subscribe: %w", err)
	}
	doc, err := storage.NewDocument(storage.CollectionPushSubscriptions, subscriptionID(sub.Endpoint),
		map[string]string{fieldUserID: userID},
		record{UserID: userID, Subscription: sub, CreatedAt: now.UTC()})
	if err != nil {
		return fmt.Errorf("push.Subscribe: %w", err)
	}
	if err := s.store.Write(ctx, doc); err != nil {
		return fmt.Errorf("push.Subscribe: %w", err)
	}

	recs, err := s.list(ctx, userID)
	if err != nil {
		return fmt.Errorf("push.Subscribe: %w", err)
	}
	for len(recs) > maxSubsPerUser {
		if err := s.store.Delete(ctx, storage.CollectionPushSubscriptions, subscriptionID(recs[0].Subscription.Endpoint)); err != nil {
			return fmt.Errorf("push.Subscribe trim: %w", err)
		}
		recs = recs[1:]
	}
	return nil
}

// Unsubscribe удаляет подписку пользователя по endpoint. Чужую подписку не трогает.
func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	id := subscriptionID(endpoint)
	doc, err := s.store.Read(ctx, storage.CollectionPushSubscriptions, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("push.Unsubscribe: %w", err)
	}
	if doc.Fields[fieldUserID] != userID {
		return nil
	}
	if err := s.store.Delete(ctx, storage.CollectionPushSubscriptions, id); err != nil {
		return fmt.Errorf("push.Unsubscribe: %w", err)
	}
	return nil
}

// Subscriptions возвращает подписки пользователя, старые первыми.
func (s *Service) Subscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	recs, err := s.list(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Subscription, len(recs))
	for i, r := range recs {
		out[i] = r.Subscription
	}
	return out, nil
}

func (s *Service) list(ctx context.Context, userID string) ([]record, error) {
	docs, err := s.store.Query(ctx, storage.Where(storage.CollectionPushSubscriptions, fieldUserID, userID))
	if err != nil {
		return nil, err
	}
	recs := make([]record, 0, len(docs))
	for _, d := range docs {
		var r record
		if err := d.Decode(&r); err != nil {
			logger.Errorf("push: skip broken subscription %s: %v", d.ID, err)
			continue
		}
		recs = append(recs, r)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

// Notify отправляет push на все подписки пользователя. Ошибки только логируются;
// подписки, на которые сервис ответил 404/410, удаляются.
func (s *Service) Notify(ctx context.Context, userID string, p Payload) {
	if s.opts == nil {
		return
	}
	recs, err := s.list(ctx, userID)
	if err != nil {
		logger.Errorf("push notify %s: %v", userID, err)
		return
	}
	if len(recs) == 0 {
		return
	}
	body, _ := json.Marshal(p)
	for _, r := range recs {
		sub := &webpush.Subscription{
			Endpoint: r.Subscription.Endpoint,
			Keys:     webpush.Keys{P256dh: r.Subscription.Keys.P256dh, Auth: r.Subscription.Keys.Auth},
		}
		resp, err := s.send(ctx, body, sub, s.opts)
		if err != nil {
			metrics.PushDeliveries.WithLabelValues("error").Inc()
			logger.Errorf("push send %s: %v", shortEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			metrics.PushDeliveries.WithLabelValues("gone").Inc()
			if err := s.store.Delete(ctx, storage.CollectionPushSubscriptions, subscriptionID(sub.Endpoint)); err != nil {
				logger.Errorf("push: remove stale subscription: %v", err)
			}
		case resp.StatusCode >= 300:
			metrics.PushDeliveries.WithLabelValues("error").Inc()
			logger.Errorf("push send %s: status %d", shortEndpoint(sub.Endpoint), resp.StatusCode)
		default:
			metrics.PushDeliveries.WithLabelValues("ok").Inc()
		}
	}
}

// NotifyMention: хук рассылки упоминаний (mention.Hook).
func (s *Service) NotifyMention(ctx context.Context, n model.Notification, msg model.Message) {
	title := n.Title
	if n.ContextTitle != "" {
		title = n.ContextTitle + ": " + title
	}
	s.Notify(ctx, n.RecipientID, Payload{
		Title: title,
		Body:  n.Message,
		Data: map[string]string{
			"notificationId": n.ID,
			"teamId":         msg.TeamID,
			"messageId":      msg.ID,
			"url":            n.ActionURL,
		},
	})
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}
