// Package readstate хранит позиции чтения (user, team) и выводит из них счётчики непрочитанного.
package readstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
	"github.com/teamchat/internal/storage"
)

// DefaultBatchWindow: окно, в котором изменения нескольких команд сливаются в один колбэк.
const DefaultBatchWindow = 16 * time.Millisecond

const (
	fieldUserID = "userId"
	fieldTeamID = "teamId"
)

// MessageLog: то, что трекеру нужно от журнала сообщений.
type MessageLog interface {
	Subscribe(ctx context.Context, teamID string, onUpdate func([]model.Message)) (storage.Unsubscribe, error)
	// Watermark: последняя известная метка времени команды; позиция чтения не ставится раньше неё.
	Watermark(teamID string) time.Time
}

type Tracker struct {
	store storage.LiveStore
	log   MessageLog
	clock clockwork.Clock
	batch time.Duration

	sf singleflight.Group

	recentMu sync.Mutex
	recent   map[string]recentWrite // последние записи позиций, по ключу (user, team)
}

type recentWrite struct {
	pos model.ReadPosition
	at  time.Time
}

type Option func(*Tracker)

func WithClock(c clockwork.Clock) Option { return func(t *Tracker) { t.clock = c } }

// WithBatchWindow задаёт окно склейки колбэков SubscribeUnread.
func WithBatchWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.batch = d
		}
	}
}

func New(store storage.LiveStore, log MessageLog, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		log:    log,
		clock:  clockwork.NewRealClock(),
		batch:  DefaultBatchWindow,
		recent: make(map[string]recentWrite),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// MarkRead ставит позицию чтения на текущее время хранилища. Одновременные вызовы
// для одной пары (user, team) сливаются в одну запись, повторные в пределах окна склейки
// пропускаются, пока позиция покрывает Watermark команды.
func (t *Tracker) MarkRead(ctx context.Context, userID, teamID string) (model.ReadPosition, error) {
	key := model.ReadPositionID(userID, teamID)
	if pos, ok := t.coveredRecently(key, teamID); ok {
		return pos, nil
	}
	v, err, shared := t.sf.Do(key, func() (any, error) {
		if pos, ok := t.coveredRecently(key, teamID); ok {
			return pos, nil
		}
		defer logger.DeferLogDuration("readstate.MarkRead", time.Now())()
		now, err := t.store.Now(ctx)
		if err != nil {
			return nil, err
		}
		now = now.UTC()
		if wm := t.log.Watermark(teamID); wm.After(now) {
			now = wm
		}
		pos := model.ReadPosition{UserID: userID, TeamID: teamID, Timestamp: now}
		doc, err := storage.NewDocument(storage.CollectionReadPositions, key, map[string]string{
			fieldUserID: userID,
			fieldTeamID: teamID,
		}, pos)
		if err != nil {
			return nil, err
		}
		if err := t.store.Write(ctx, doc); err != nil {
			return nil, err
		}
		t.recentMu.Lock()
		t.recent[key] = recentWrite{pos: pos, at: t.clock.Now()}
		t.recentMu.Unlock()
		return pos, nil
	})
	if err != nil {
		return model.ReadPosition{}, fmt.Errorf("readstate.MarkRead: %w", err)
	}
	if shared {
		logger.Debugf("readstate.MarkRead %s: collapsed", key)
	}
	return v.(model.ReadPosition), nil
}

// coveredRecently сообщает, была ли позиция записана в пределах окна склейки
// и не появилось ли с тех пор сообщений новее неё.
func (t *Tracker) coveredRecently(key, teamID string) (model.ReadPosition, bool) {
	t.recentMu.Lock()
	defer t.recentMu.Unlock()
	w, ok := t.recent[key]
	if !ok {
		return model.ReadPosition{}, false
	}
	if t.clock.Since(w.at) >= t.batch {
		delete(t.recent, key)
		return model.ReadPosition{}, false
	}
	if t.log.Watermark(teamID).After(w.pos.Timestamp) {
		return model.ReadPosition{}, false
	}
	return w.pos, true
}

// Position возвращает позицию чтения или nil, если пользователь команду ещё не открывал.
func (t *Tracker) Position(ctx context.Context, userID, teamID string) (*model.ReadPosition, error) {
	doc, err := t.store.Read(ctx, storage.CollectionReadPositions, model.ReadPositionID(userID, teamID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("readstate.Position: %w", err)
	}
	var pos model.ReadPosition
	if err := doc.Decode(&pos); err != nil {
		return nil, fmt.Errorf("readstate.Position: %w", err)
	}
	return &pos, nil
}

// ComputeUnread считает непрочитанное по переданному набору сообщений и сохранённой позиции.
func (t *Tracker) ComputeUnread(ctx context.Context, userID, teamID string, messages []model.Message) (int, error) {
	pos, err := t.Position(ctx, userID, teamID)
	if err != nil {
		return 0, err
	}
	return CountUnread(userID, pos, messages), nil
}

// SubscribeUnread держит живую карту team → unread. Первый колбэк приходит, когда загружены
// все команды и позиции; дальше изменения за одно окно склейки дают один колбэк,
// и только если карта изменилась.
func (t *Tracker) SubscribeUnread(ctx context.Context, userID string, teamIDs []string, onChange func(map[string]int)) (storage.Unsubscribe, error) {
	w := &unreadWatch{
		tracker:  t,
		userID:   userID,
		onChange: onChange,
		messages: make(map[string][]model.Message),
		loaded:   make(map[string]bool),
	}
	seen := make(map[string]bool, len(teamIDs))
	for _, id := range teamIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		w.teams = append(w.teams, id)
	}

	unsubPos, err := t.store.Subscribe(ctx, storage.Where(storage.CollectionReadPositions, fieldUserID, userID), w.onPositions)
	if err != nil {
		return nil, fmt.Errorf("readstate.SubscribeUnread: %w", err)
	}
	w.unsubs = append(w.unsubs, unsubPos)
	for _, teamID := range w.teams {
		teamID := teamID
		unsub, err := t.log.Subscribe(ctx, teamID, func(ms []model.Message) { w.onMessages(teamID, ms) })
		if err != nil {
			w.stop()
			return nil, fmt.Errorf("readstate.SubscribeUnread %s: %w", teamID, err)
		}
		w.unsubs = append(w.unsubs, unsub)
	}
	return w.stop, nil
}

type unreadWatch struct {
	tracker  *Tracker
	userID   string
	teams    []string
	onChange func(map[string]int)
	unsubs   []storage.Unsubscribe

	mu          sync.Mutex
	messages    map[string][]model.Message
	loaded      map[string]bool
	positions   map[string]model.ReadPosition
	posLoaded   bool
	timer       clockwork.Timer
	closed      bool
	delivering  bool
	lastEmitted map[string]int

	cbMu sync.Mutex
	once sync.Once
}

func (w *unreadWatch) onMessages(teamID string, ms []model.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages[teamID] = ms
	w.loaded[teamID] = true
	w.scheduleLocked()
}

func (w *unreadWatch) onPositions(docs []storage.Document) {
	positions := make(map[string]model.ReadPosition, len(docs))
	for _, d := range docs {
		var pos model.ReadPosition
		if err := d.Decode(&pos); err != nil {
			logger.Errorf("readstate: skip broken position %s: %v", d.ID, err)
			continue
		}
		positions[pos.TeamID] = pos
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.positions = positions
	w.posLoaded = true
	w.scheduleLocked()
}

func (w *unreadWatch) scheduleLocked() {
	if w.closed || w.timer != nil {
		return
	}
	w.timer = w.tracker.clock.AfterFunc(w.tracker.batch, w.flush)
}

func (w *unreadWatch) flush() {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()

	w.mu.Lock()
	w.timer = nil
	if w.closed || !w.readyLocked() {
		w.mu.Unlock()
		return
	}
	counts := make(map[string]int, len(w.teams))
	for _, teamID := range w.teams {
		var pos *model.ReadPosition
		if p, ok := w.positions[teamID]; ok {
			pos = &p
		}
		counts[teamID] = CountUnread(w.userID, pos, w.messages[teamID])
	}
	if w.lastEmitted != nil && sameCounts(w.lastEmitted, counts) {
		w.mu.Unlock()
		return
	}
	w.lastEmitted = counts
	w.delivering = true
	w.mu.Unlock()

	out := make(map[string]int, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	w.onChange(out)

	w.mu.Lock()
	w.delivering = false
	w.mu.Unlock()
}

func (w *unreadWatch) readyLocked() bool {
	if !w.posLoaded {
		return false
	}
	for _, teamID := range w.teams {
		if !w.loaded[teamID] {
			return false
		}
	}
	return true
}

// stop идемпотентна. После возврата колбэк не начнётся; вызов изнутри колбэка не ждёт сам себя.
func (w *unreadWatch) stop() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		inCallback := w.delivering
		w.mu.Unlock()
		if !inCallback {
			// ждём flush, который уже прошёл проверку closed
			w.cbMu.Lock()
			w.cbMu.Unlock()
		}
		for _, u := range w.unsubs {
			u()
		}
	})
}

func sameCounts(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
