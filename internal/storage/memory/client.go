// Package memory implements the live store in process memory, для тестов и режима -dev без Redis.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teamchat/internal/storage"
)

type Client struct {
	clock clockwork.Clock

	mu     sync.RWMutex
	docs   map[string]map[string]storage.Document
	subs   map[*storage.Subscription]struct{}
	closed bool
}

type Option func(*Client)

// WithClock подменяет источник времени для Now (в тестах: clockwork.NewFakeClock()).
func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

func New(opts ...Option) *Client {
	c := &Client{
		clock: clockwork.NewRealClock(),
		docs:  make(map[string]map[string]storage.Document),
		subs:  make(map[*storage.Subscription]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ storage.LiveStore = (*Client)(nil)

// Close останавливает все подписки. Дальнейшие операции возвращают ErrUnavailable.
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
	c.subs = make(map[*storage.Subscription]struct{})
	c.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	return nil
}

func (c *Client) Now(ctx context.Context) (time.Time, error) {
	return c.clock.Now().UTC(), nil
}

func (c *Client) Write(ctx context.Context, doc storage.Document) error {
	if err := ctx.Err(); err != nil {
		return storage.Unavailable("memory.Write", err)
	}
	doc = clone(doc)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.Unavailable("memory.Write", errClosed)
	}
	coll, ok := c.docs[doc.Collection]
	if !ok {
		coll = make(map[string]storage.Document)
		c.docs[doc.Collection] = coll
	}
	old, existed := coll[doc.ID]
	coll[doc.ID] = doc
	c.notifyLocked(doc, old, existed)
	return nil
}

func (c *Client) Read(ctx context.Context, collection, id string) (storage.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return storage.Document{}, storage.Unavailable("memory.Read", errClosed)
	}
	d, ok := c.docs[collection][id]
	if !ok {
		return storage.Document{}, storage.ErrNotFound
	}
	return clone(d), nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.Unavailable("memory.Delete", errClosed)
	}
	old, ok := c.docs[collection][id]
	if !ok {
		return nil
	}
	delete(c.docs[collection], id)
	c.notifyLocked(storage.Document{}, old, true)
	return nil
}

func (c *Client) Query(ctx context.Context, q storage.Query) ([]storage.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, storage.Unavailable("memory.Query", errClosed)
	}
	return c.snapshotLocked(q), nil
}

// Subscribe регистрирует подписчика и ставит в очередь начальный снапшот под той же блокировкой,
// поэтому ни одно изменение между регистрацией и первым снапшотом не теряется.
func (c *Client) Subscribe(ctx context.Context, q storage.Query, fn func([]storage.Document)) (storage.Unsubscribe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, storage.Unavailable("memory.Subscribe", errClosed)
	}
	var sub *storage.Subscription
	sub = storage.NewSubscription(q, fn, func() {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
	})
	c.subs[sub] = struct{}{}
	sub.Push(c.snapshotLocked(q))
	return sub.Unsubscribe, nil
}

// notifyLocked рассылает новый снапшот подписчикам, чья выборка затронута изменением
// (документ подходил до изменения или подходит после).
func (c *Client) notifyLocked(doc, old storage.Document, existed bool) {
	for s := range c.subs {
		q := s.Query()
		if (doc.Collection != "" && q.Matches(doc)) || (existed && q.Matches(old)) {
			s.Push(c.snapshotLocked(q))
		}
	}
}

func (c *Client) snapshotLocked(q storage.Query) []storage.Document {
	coll := c.docs[q.Collection]
	out := make([]storage.Document, 0, len(coll))
	for _, d := range coll {
		if q.Matches(d) {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clone(d storage.Document) storage.Document {
	out := storage.Document{Collection: d.Collection, ID: d.ID}
	if d.Fields != nil {
		out.Fields = make(map[string]string, len(d.Fields))
		for k, v := range d.Fields {
			out.Fields[k] = v
		}
	}
	if d.Data != nil {
		out.Data = append([]byte(nil), d.Data...)
	}
	return out
}
