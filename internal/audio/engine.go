// Package audio — движок звуковых сигналов: один на процесс, с общим окном тишины между сигналами.
//
// Состояния: Idle → Scheduled → Playing → Idle. Запросы внутри окна сливаются в один
// отложенный сигнал (звучит последний запрошенный kind). До Unlock запросы молча игнорируются.
package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/metrics"
)

// DefaultCooldown — минимальная пауза между концом одного сигнала и началом следующего.
const DefaultCooldown = 300 * time.Millisecond

type State int

const (
	Idle State = iota
	Scheduled
	Playing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Playing:
		return "playing"
	}
	return "unknown"
}

// FlagStore хранит флаг soundNotificationsEnabled между запусками.
type FlagStore interface {
	SoundEnabled() bool
	SetSoundEnabled(enabled bool) error
	// OnChange вызывается при изменении флага извне (другой процесс, ручная правка файла).
	OnChange(fn func(enabled bool))
}

type Engine struct {
	clock    clockwork.Clock
	synth    Synth
	flags    FlagStore
	cooldown time.Duration

	unlocked atomic.Bool
	enabled  atomic.Bool

	mu         sync.Mutex
	state      State
	lastDone   time.Time
	pending    CueKind
	hasPending bool
	timer      clockwork.Timer
	gen        uint64
	closed     bool
	wg         sync.WaitGroup
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cooldown = d
		}
	}
}

// WithFlagStore подключает сохранённый флаг включения звука и следит за его внешними изменениями.
func WithFlagStore(f FlagStore) Option { return func(e *Engine) { e.flags = f } }

func NewEngine(synth Synth, opts ...Option) *Engine {
	e := &Engine{
		clock:    clockwork.NewRealClock(),
		synth:    synth,
		cooldown: DefaultCooldown,
	}
	for _, o := range opts {
		o(e)
	}
	e.enabled.Store(true)
	if e.flags != nil {
		e.enabled.Store(e.flags.SoundEnabled())
		e.flags.OnChange(func(enabled bool) {
			e.enabled.Store(enabled)
			logger.Infof("audio: sound notifications %s (external change)", onOff(enabled))
		})
	}
	return e
}

// Unlock — сигнал первого действия пользователя. Срабатывает один раз и больше не сбрасывается.
func (e *Engine) Unlock() {
	if e.unlocked.CompareAndSwap(false, true) {
		logger.Debugf("audio: unlocked")
	}
}

func (e *Engine) Unlocked() bool { return e.unlocked.Load() }

// SetEnabled действует на все последующие RequestCue. Уже запланированный или звучащий сигнал не отменяется.
func (e *Engine) SetEnabled(enabled bool) error {
	e.enabled.Store(enabled)
	if e.flags != nil {
		return e.flags.SetSoundEnabled(enabled)
	}
	return nil
}

func (e *Engine) Enabled() bool { return e.enabled.Load() }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RequestCue просит сыграть сигнал. Никогда не блокируется на воспроизведении.
func (e *Engine) RequestCue(kind CueKind) {
	if !kind.Valid() {
		kind = CueGeneric
	}
	if !e.unlocked.Load() {
		metrics.Cues.WithLabelValues(string(kind), "locked").Inc()
		return
	}
	if !e.enabled.Load() {
		metrics.Cues.WithLabelValues(string(kind), "disabled").Inc()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	switch e.state {
	case Idle:
		now := e.clock.Now()
		if e.lastDone.IsZero() || now.Sub(e.lastDone) >= e.cooldown {
			e.startLocked(kind)
			metrics.Cues.WithLabelValues(string(kind), "played").Inc()
			return
		}
		e.state = Scheduled
		e.pending = kind
		e.hasPending = true
		e.timer = e.clock.AfterFunc(e.cooldown-now.Sub(e.lastDone), e.fire(e.gen))
		metrics.Cues.WithLabelValues(string(kind), "scheduled").Inc()
	case Scheduled:
		e.pending = kind
		metrics.Cues.WithLabelValues(string(kind), "coalesced").Inc()
	case Playing:
		// отложится на окно после окончания текущего сигнала
		coalesced := e.hasPending
		e.pending = kind
		e.hasPending = true
		if coalesced {
			metrics.Cues.WithLabelValues(string(kind), "coalesced").Inc()
		} else {
			metrics.Cues.WithLabelValues(string(kind), "scheduled").Inc()
		}
	}
}

func (e *Engine) fire(gen uint64) func() {
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen != gen || e.closed || e.state != Scheduled {
			return
		}
		e.timer = nil
		kind := e.pending
		e.startLocked(kind)
	}
}

func (e *Engine) startLocked(kind CueKind) {
	e.state = Playing
	e.pending = ""
	e.hasPending = false
	gen := e.gen
	e.wg.Add(1)
	go e.play(gen, kind)
}

func (e *Engine) play(gen uint64, kind CueKind) {
	defer e.wg.Done()
	if err := e.synth.Play(ToneFor(kind)); err != nil {
		logger.Errorf("audio: play %s: %v", kind, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// после Reset сигнал доигрывает, но окно тишины от него не отсчитывается
	if e.gen == gen {
		e.lastDone = e.clock.Now()
	}
	if e.hasPending && !e.closed {
		e.state = Scheduled
		e.timer = e.clock.AfterFunc(e.cooldown, e.fire(e.gen))
		return
	}
	e.state = Idle
}

// Reset сбрасывает окно тишины и отложенный сигнал (для тестов). Флаг разблокировки не трогает.
// Звучащий сигнал доигрывает: до его конца движок остаётся в Playing.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.state != Playing {
		e.state = Idle
	}
	e.lastDone = time.Time{}
	e.pending = ""
	e.hasPending = false
}

// Close отменяет отложенный сигнал и ждёт окончания звучащего.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.hasPending = false
	e.mu.Unlock()
	e.wg.Wait()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
