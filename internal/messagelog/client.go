// Package messagelog — клиент журнала сообщений команды поверх живого хранилища.
// Append проверяет членство по каталогу в момент вызова; Edit/Delete проверок не делают
// (владельца проверяет вызывающая сторона).
package messagelog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/teamchat/internal/directory"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

const (
	fieldTeamID   = "teamId"
	fieldSenderID = "senderId"
)

// minStep — шаг, на который сдвигается метка времени, если часы хранилища не ушли вперёд.
const minStep = time.Microsecond

type Client struct {
	store storage.LiveStore
	dir   directory.Directory

	mu   sync.Mutex
	last map[string]time.Time // последняя выданная метка по команде

	updateMu sync.Mutex // чтение-правка-запись документа сообщения (Edit, AddReaction)
}

func New(store storage.LiveStore, dir directory.Directory) *Client {
	return &Client{
		store: store,
		dir:   dir,
		last:  make(map[string]time.Time),
	}
}

type appendOptions struct {
	replyTo *string
}

type AppendOption func(*appendOptions)

// WithReplyTo помечает сообщение как ответ на messageID.
func WithReplyTo(messageID string) AppendOption {
	return func(o *appendOptions) {
		if messageID != "" {
			id := messageID
			o.replyTo = &id
		}
	}
}

// Append добавляет сообщение и возвращает его id.
func (c *Client) Append(ctx context.Context, teamID, authorID, content string, opts ...AppendOption) (string, error) {
	m, err := c.Post(ctx, teamID, authorID, content, opts...)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// Post — Append, возвращающий сохранённое сообщение целиком (для рассылки упоминаний и событий).
func (c *Client) Post(ctx context.Context, teamID, authorID, content string, opts ...AppendOption) (model.Message, error) {
	defer logger.DeferLogDuration("messagelog.Append", time.Now())()
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrEmptyContent
	}
	var o appendOptions
	for _, fn := range opts {
		fn(&o)
	}

	author, ok, err := directory.IsActiveMember(ctx, c.dir, teamID, authorID)
	if errors.Is(err, directory.ErrTeamNotFound) {
		return model.Message{}, &AuthorizationError{TeamID: teamID, UserID: authorID}
	}
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return model.Message{}, fmt.Errorf("messagelog.Append roster: %w", err)
		}
		return model.Message{}, storage.Unavailable("messagelog.Append roster", err)
	}
	if !ok {
		return model.Message{}, &AuthorizationError{TeamID: teamID, UserID: authorID}
	}

	ts, err := c.nextTimestamp(ctx, teamID)
	if err != nil {
		return model.Message{}, fmt.Errorf("messagelog.Append: %w", err)
	}
	m := model.Message{
		ID:          ulid.Make().String(),
		TeamID:      teamID,
		SenderID:    authorID,
		SenderName:  author.UserName,
		SenderEmail: author.UserEmail,
		Content:     content,
		Timestamp:   ts,
		ReplyTo:     o.replyTo,
	}
	if err := c.put(ctx, m); err != nil {
		return model.Message{}, fmt.Errorf("messagelog.Append: %w", err)
	}
	return m, nil
}

// nextTimestamp берёт время хранилища и делает его строго возрастающим в пределах команды.
func (c *Client) nextTimestamp(ctx context.Context, teamID string) (time.Time, error) {
	now, err := c.store.Now(ctx)
	if err != nil {
		return time.Time{}, err
	}
	now = now.UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[teamID]; ok && !now.After(last) {
		now = last.Add(minStep)
	}
	c.last[teamID] = now
	return now, nil
}

// Watermark — последняя метка времени, выданная этим клиентом для команды (нулевое время, если не было).
func (c *Client) Watermark(teamID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[teamID]
}

// Subscribe вызывает onUpdate сразу с текущим журналом (по возрастанию времени) и затем на каждое изменение.
func (c *Client) Subscribe(ctx context.Context, teamID string, onUpdate func([]model.Message)) (storage.Unsubscribe, error) {
	unsub, err := c.store.Subscribe(ctx, storage.Where(storage.CollectionMessages, fieldTeamID, teamID), func(docs []storage.Document) {
		onUpdate(decodeSorted(docs))
	})
	if err != nil {
		return nil, fmt.Errorf("messagelog.Subscribe %s: %w", teamID, err)
	}
	return unsub, nil
}

// List возвращает текущий журнал команды по возрастанию времени.
func (c *Client) List(ctx context.Context, teamID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("messagelog.List", time.Now())()
	docs, err := c.store.Query(ctx, storage.Where(storage.CollectionMessages, fieldTeamID, teamID))
	if err != nil {
		return nil, fmt.Errorf("messagelog.List: %w", err)
	}
	return decodeSorted(docs), nil
}

func (c *Client) Get(ctx context.Context, messageID string) (model.Message, error) {
	doc, err := c.store.Read(ctx, storage.CollectionMessages, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("messagelog.Get: %w", err)
	}
	var m model.Message
	if err := doc.Decode(&m); err != nil {
		return model.Message{}, fmt.Errorf("messagelog.Get: %w", err)
	}
	return m, nil
}

// Edit меняет текст и ставит IsEdited. Метка времени не меняется.
func (c *Client) Edit(ctx context.Context, messageID, newContent string) (model.Message, error) {
	defer logger.DeferLogDuration("messagelog.Edit", time.Now())()
	if strings.TrimSpace(newContent) == "" {
		return model.Message{}, ErrEmptyContent
	}
	c.updateMu.Lock()
	defer c.updateMu.Unlock()
	m, err := c.Get(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	m.Content = newContent
	m.IsEdited = true
	if err := c.put(ctx, m); err != nil {
		return model.Message{}, fmt.Errorf("messagelog.Edit: %w", err)
	}
	return m, nil
}

// Delete удаляет запись из журнала без надгробия. Повторное удаление — не ошибка.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	defer logger.DeferLogDuration("messagelog.Delete", time.Now())()
	if err := c.store.Delete(ctx, storage.CollectionMessages, messageID); err != nil {
		return fmt.Errorf("messagelog.Delete: %w", err)
	}
	return nil
}

// AddReaction добавляет реакцию пользователя. Повтор той же пары (user, emoji) ничего не меняет.
func (c *Client) AddReaction(ctx context.Context, messageID, userID, emoji string) (model.Message, error) {
	defer logger.DeferLogDuration("messagelog.AddReaction", time.Now())()
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return model.Message{}, ErrEmptyContent
	}
	c.updateMu.Lock()
	defer c.updateMu.Unlock()
	m, err := c.Get(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if m.HasReaction(userID, emoji) {
		return m, nil
	}
	now, err := c.store.Now(ctx)
	if err != nil {
		return model.Message{}, fmt.Errorf("messagelog.AddReaction: %w", err)
	}
	m.Reactions = append(m.Reactions, model.Reaction{UserID: userID, Emoji: emoji, CreatedAt: now.UTC()})
	if err := c.put(ctx, m); err != nil {
		return model.Message{}, fmt.Errorf("messagelog.AddReaction: %w", err)
	}
	return m, nil
}

// ClearTeam удаляет все сообщения команды и возвращает их число.
func (c *Client) ClearTeam(ctx context.Context, teamID string) (int, error) {
	defer logger.DeferLogDuration("messagelog.ClearTeam", time.Now())()
	docs, err := c.store.Query(ctx, storage.Where(storage.CollectionMessages, fieldTeamID, teamID))
	if err != nil {
		return 0, fmt.Errorf("messagelog.ClearTeam: %w", err)
	}
	n := 0
	for _, d := range docs {
		if err := c.store.Delete(ctx, storage.CollectionMessages, d.ID); err != nil {
			return n, fmt.Errorf("messagelog.ClearTeam: %w", err)
		}
		n++
	}
	return n, nil
}

func (c *Client) put(ctx context.Context, m model.Message) error {
	doc, err := storage.NewDocument(storage.CollectionMessages, m.ID, map[string]string{
		fieldTeamID:   m.TeamID,
		fieldSenderID: m.SenderID,
	}, m)
	if err != nil {
		return err
	}
	return c.store.Write(ctx, doc)
}

func decodeSorted(docs []storage.Document) []model.Message {
	out := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		var m model.Message
		if err := d.Decode(&m); err != nil {
			logger.Errorf("messagelog: skip broken message %s: %v", d.ID, err)
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out
}
