// Package redis implements the live store on top of Redis: документы в ключах, индексы в множествах,
// уведомления об изменениях через Pub/Sub (каждое уведомление: перечитывание выборки).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/storage"
)

const (
	defaultPrefix = "tc"
	// reloadTimeout: лимит на перечитывание выборки подписки после уведомления.
	reloadTimeout = 5 * time.Second
)

type Client struct {
	cli    *redis.Client
	prefix string

	mu     sync.Mutex
	subs   map[*storage.Subscription]*redis.PubSub
	closed bool
}

var _ storage.LiveStore = (*Client)(nil)

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFromClient(cli, defaultPrefix), nil
}

// NewFromClient оборачивает готовый клиент (например, указывающий на тестовый Redis).
func NewFromClient(cli *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Client{cli: cli, prefix: prefix, subs: make(map[*storage.Subscription]*redis.PubSub)}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*storage.Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	return c.cli.Close()
}

func (c *Client) docKey(collection, id string) string {
	return c.prefix + ":doc:" + collection + ":" + id
}

func (c *Client) indexKey(q storage.Query) string {
	if q.Field == "" {
		return c.prefix + ":idx:" + q.Collection
	}
	return c.prefix + ":idx:" + q.Collection + ":" + q.Field + ":" + q.Value
}

func (c *Client) channel(q storage.Query) string {
	if q.Field == "" {
		return c.prefix + ":chg:" + q.Collection
	}
	return c.prefix + ":chg:" + q.Collection + ":" + q.Field + ":" + q.Value
}

// queriesFor возвращает все выборки, в которые попадает документ: вся коллекция и каждое индексируемое поле.
func queriesFor(d storage.Document) []storage.Query {
	qs := []storage.Query{{Collection: d.Collection}}
	for f, v := range d.Fields {
		qs = append(qs, storage.Where(d.Collection, f, v))
	}
	return qs
}

// Now возвращает время сервера Redis (TIME): единые метки для всех клиентов.
func (c *Client) Now(ctx context.Context) (time.Time, error) {
	t, err := c.cli.Time(ctx).Result()
	if err != nil {
		return time.Time{}, storage.Unavailable("redis.Now", err)
	}
	return t.UTC(), nil
}

func (c *Client) Read(ctx context.Context, collection, id string) (storage.Document, error) {
	raw, err := c.cli.Get(ctx, c.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.Document{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Document{}, storage.Unavailable("redis.Read", err)
	}
	var d storage.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return storage.Document{}, fmt.Errorf("redis.Read decode %s/%s: %w", collection, id, err)
	}
	return d, nil
}

func (c *Client) Write(ctx context.Context, doc storage.Document) error {
	defer logger.DeferLogDuration("redis.Write", time.Now())()
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis.Write encode %s/%s: %w", doc.Collection, doc.ID, err)
	}
	old, err := c.Read(ctx, doc.Collection, doc.ID)
	existed := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	_, err = c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.docKey(doc.Collection, doc.ID), raw, 0)
		if existed {
			for _, q := range queriesFor(old) {
				pipe.SRem(ctx, c.indexKey(q), doc.ID)
			}
		}
		for _, q := range queriesFor(doc) {
			pipe.SAdd(ctx, c.indexKey(q), doc.ID)
		}
		for _, ch := range c.changedChannels(doc, old, existed) {
			pipe.Publish(ctx, ch, doc.ID)
		}
		return nil
	})
	if err != nil {
		return storage.Unavailable("redis.Write", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	defer logger.DeferLogDuration("redis.Delete", time.Now())()
	old, err := c.Read(ctx, collection, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.docKey(collection, id))
		for _, q := range queriesFor(old) {
			pipe.SRem(ctx, c.indexKey(q), id)
		}
		for _, ch := range c.changedChannels(storage.Document{}, old, true) {
			pipe.Publish(ctx, ch, id)
		}
		return nil
	})
	if err != nil {
		return storage.Unavailable("redis.Delete", err)
	}
	return nil
}

func (c *Client) changedChannels(doc, old storage.Document, existed bool) []string {
	seen := make(map[string]struct{}, 4)
	var out []string
	add := func(d storage.Document) {
		for _, q := range queriesFor(d) {
			ch := c.channel(q)
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			out = append(out, ch)
		}
	}
	if doc.Collection != "" {
		add(doc)
	}
	if existed {
		add(old)
	}
	return out
}

func (c *Client) Query(ctx context.Context, q storage.Query) ([]storage.Document, error) {
	ids, err := c.cli.SMembers(ctx, c.indexKey(q)).Result()
	if err != nil {
		return nil, storage.Unavailable("redis.Query", err)
	}
	if len(ids) == 0 {
		return []storage.Document{}, nil
	}
	sort.Strings(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.docKey(q.Collection, id)
	}
	vals, err := c.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storage.Unavailable("redis.Query", err)
	}
	out := make([]storage.Document, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Индекс пережил документ (гонка с Delete): пропускаем.
			continue
		}
		var d storage.Document
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			logger.Errorf("redis.Query decode %s: %v", keys[i], err)
			continue
		}
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Subscribe подписывается на канал изменений выборки, затем читает начальный снапшот
// и ставит его в очередь до возврата; ошибка этого чтения возвращается вызывающему.
// Дальше выборка перечитывается на каждое уведомление. Пачка уведомлений,
// накопившаяся за время перечитывания, схлопывается в одно перечитывание.
func (c *Client) Subscribe(ctx context.Context, q storage.Query, fn func([]storage.Document)) (storage.Unsubscribe, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, storage.Unavailable("redis.Subscribe", errors.New("client closed"))
	}
	c.mu.Unlock()

	ps := c.cli.Subscribe(ctx, c.channel(q))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, storage.Unavailable("redis.Subscribe", err)
	}
	// Канал уже слушается: изменение после этого чтения придёт уведомлением.
	initial, err := c.Query(ctx, q)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis.Subscribe initial %s: %w", q, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	var sub *storage.Subscription
	sub = storage.NewSubscription(q, fn, func() {
		cancel()
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
		if err := ps.Close(); err != nil {
			logger.Debugf("redis pubsub close %s: %v", q, err)
		}
	})
	c.mu.Lock()
	c.subs[sub] = ps
	c.mu.Unlock()

	sub.Push(initial)
	go c.watch(loopCtx, sub, ps)
	return sub.Unsubscribe, nil
}

func (c *Client) watch(ctx context.Context, sub *storage.Subscription, ps *redis.PubSub) {
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case _, ok := <-ch:
					if !ok {
						return
					}
				default:
					break drain
				}
			}
			if sub.Closed() {
				return
			}
			c.reload(ctx, sub)
		}
	}
}

func (c *Client) reload(ctx context.Context, sub *storage.Subscription) {
	rctx, cancel := context.WithTimeout(ctx, reloadTimeout)
	defer cancel()
	docs, err := c.Query(rctx, sub.Query())
	if err != nil {
		if ctx.Err() == nil {
			logger.Errorf("redis subscription %s reload: %v", sub.Query(), err)
		}
		return
	}
	sub.Push(docs)
}

// FlushPrefix удаляет все ключи хранилища (для тестов и сброса dev-окружения).
func (c *Client) FlushPrefix(ctx context.Context) error {
	iter := c.cli.Scan(ctx, 0, c.prefix+":*", 500).Iterator()
	for iter.Next(ctx) {
		if err := c.cli.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
