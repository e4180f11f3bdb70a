package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound: документа по ключу нет.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable: хранилище недоступно (сеть, таймаут, закрыто). Повторы делает бэкенд.
	ErrUnavailable = errors.New("store unavailable")
)

// Collections used by the messaging subsystem.
const (
	CollectionMessages          = "messages"
	CollectionReadPositions     = "read_positions"
	CollectionNotifications     = "notifications"
	CollectionPushSubscriptions = "push_subscriptions"
)

// Document is the unit of storage: ключ (Collection, ID), индексируемые поля и JSON-тело.
type Document struct {
	Collection string            `json:"collection"`
	ID         string            `json:"id"`
	Fields     map[string]string `json:"fields,omitempty"`
	Data       json.RawMessage   `json:"data"`
}

// NewDocument кодирует v в JSON и собирает документ.
func NewDocument(collection, id string, fields map[string]string, v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("storage.NewDocument %s/%s: %w", collection, id, err)
	}
	return Document{Collection: collection, ID: id, Fields: fields, Data: data}, nil
}

// Decode разбирает тело документа в v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("storage.Decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Query выбирает документы коллекции по одному индексируемому полю. Пустой Field выбирает всю коллекцию.
type Query struct {
	Collection string
	Field      string
	Value      string
}

// Where: короткая запись запроса по индексу.
func Where(collection, field, value string) Query {
	return Query{Collection: collection, Field: field, Value: value}
}

// Matches сообщает, попадает ли документ в выборку.
func (q Query) Matches(d Document) bool {
	if d.Collection != q.Collection {
		return false
	}
	if q.Field == "" {
		return true
	}
	return d.Fields[q.Field] == q.Value
}

func (q Query) String() string {
	if q.Field == "" {
		return q.Collection
	}
	return q.Collection + "[" + q.Field + "=" + q.Value + "]"
}

// Unsubscribe останавливает подписку. Идемпотентна, безопасна после Close хранилища.
type Unsubscribe func()

// LiveStore is a live key-value store: запись, чтение и подписки, которые
// на каждое изменение отдают полный текущий набор подходящих документов.
// Реализации: memory.Client (тесты и -dev), redis.Client.
type LiveStore interface {
	Write(ctx context.Context, doc Document) error
	Read(ctx context.Context, collection, id string) (Document, error)
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	// Subscribe сначала отдаёт набор на момент регистрации, затем полный набор после каждого изменения.
	Subscribe(ctx context.Context, q Query, fn func([]Document)) (Unsubscribe, error)
	// Now: время хранилища, источник серверных меток времени.
	Now(ctx context.Context) (time.Time, error)
	Close() error
}

// Unavailable оборачивает ошибку драйвера так, что errors.Is(err, ErrUnavailable) == true.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
