package storage

import (
	"sync"
	"sync/atomic"

	"github.com/teamchat/internal/logger"
)

// Subscription доставляет снапшоты одного подписчика строго по порядку:
// очередь FIFO, которую разбирает одна горутина. Между подписками порядок не гарантируется.
type Subscription struct {
	query   Query
	fn      func([]Document)
	onClose func()

	mu     sync.Mutex
	queue  [][]Document
	wake   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	// deliverMu держится на проверке closed и вызове колбэка.
	deliverMu  sync.Mutex
	delivering atomic.Bool
}

// NewSubscription запускает горутину доставки. onClose вызывается один раз при отписке.
func NewSubscription(q Query, fn func([]Document), onClose func()) *Subscription {
	s := &Subscription{
		query:   q,
		fn:      fn,
		onClose: onClose,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Subscription) Query() Query { return s.query }

// Push ставит снапшот в очередь, не блокируясь.
func (s *Subscription) Push(snapshot []Document) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, snapshot)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			if !s.deliver(next) {
				return
			}
		}
	}
}

// deliver вызывает колбэк, если подписка ещё жива. false означает, что она остановлена.
func (s *Subscription) deliver(snapshot []Document) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.delivering.Store(true)
	defer s.delivering.Store(false)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("subscription %s: callback panic: %v", s.query, r)
		}
	}()
	s.fn(snapshot)
	return true
}

// Unsubscribe останавливает доставку. Безопасно вызывать много раз и из самого колбэка.
// После возврата новый колбэк не начнётся: доставка, уже прошедшая проверку, дожидается.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.mu.Lock()
		s.queue = nil
		s.mu.Unlock()
		if !s.delivering.Load() {
			s.deliverMu.Lock()
			s.deliverMu.Unlock()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Closed сообщает, была ли подписка остановлена.
func (s *Subscription) Closed() bool { return s.closed.Load() }
