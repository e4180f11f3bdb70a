package audio

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSynth запоминает сыгранные сигналы и считает одновременные воспроизведения.
type recordingSynth struct {
	mu      sync.Mutex
	played  []Tone
	active  atomic.Int32
	overlap atomic.Bool
	hold    chan struct{}
}

func (s *recordingSynth) Play(t Tone) error {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	if s.hold != nil {
		<-s.hold
	}
	s.mu.Lock()
	s.played = append(s.played, t)
	s.mu.Unlock()
	return nil
}

func (s *recordingSynth) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

func (s *recordingSynth) last() Tone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played[len(s.played)-1]
}

type memFlags struct {
	mu       sync.Mutex
	enabled  bool
	onChange func(bool)
}

func (f *memFlags) SoundEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *memFlags) SetSoundEnabled(b bool) error {
	f.mu.Lock()
	f.enabled = b
	f.mu.Unlock()
	return nil
}

func (f *memFlags) OnChange(fn func(bool)) { f.onChange = fn }

func newEngine(t *testing.T, synth Synth, opts ...Option) (*Engine, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	e := NewEngine(synth, append([]Option{WithClock(clock)}, opts...)...)
	t.Cleanup(e.Close)
	return e, clock
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State() != Playing }, time.Second, time.Millisecond)
}

func TestRequestBeforeUnlockIsSilent(t *testing.T) {
	synth := &recordingSynth{}
	e, clock := newEngine(t, synth)

	for i := 0; i < 5; i++ {
		e.RequestCue(CueMention)
	}
	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, synth.count())
	assert.Equal(t, Idle, e.State())

	e.Unlock()
	e.Unlock()
	assert.True(t, e.Unlocked())
	e.RequestCue(CueGeneric)
	require.Eventually(t, func() bool { return synth.count() == 1 }, time.Second, time.Millisecond)
}

func TestCooldownCoalescesBurst(t *testing.T) {
	synth := &recordingSynth{}
	e, clock := newEngine(t, synth)
	e.Unlock()

	e.RequestCue(CueGeneric)
	require.Eventually(t, func() bool { return synth.count() == 1 }, time.Second, time.Millisecond)
	waitIdle(t, e)

	e.RequestCue(CueGeneric)
	e.RequestCue(CueReceived)
	e.RequestCue(CueMention)
	assert.Equal(t, Scheduled, e.State())

	clock.Advance(DefaultCooldown - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, synth.count(), "nothing may play inside the cooldown window")

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return synth.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, ToneFor(CueMention), synth.last(), "last requested kind wins")

	waitIdle(t, e)
	clock.Advance(10 * DefaultCooldown)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, synth.count(), "only one deferred cue per window")
}

func TestRequestWhilePlayingIsDeferredOnce(t *testing.T) {
	synth := &recordingSynth{hold: make(chan struct{})}
	e, clock := newEngine(t, synth)
	e.Unlock()

	e.RequestCue(CueSent)
	require.Eventually(t, func() bool { return synth.active.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, Playing, e.State())

	for i := 0; i < 10; i++ {
		e.RequestCue(CueReceived)
	}
	synth.hold <- struct{}{}
	require.Eventually(t, func() bool { return e.State() == Scheduled }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		clock.Advance(DefaultCooldown)
		return synth.active.Load() == 1
	}, time.Second, time.Millisecond)
	synth.hold <- struct{}{}

	require.Eventually(t, func() bool { return synth.count() == 2 }, time.Second, time.Millisecond)
	waitIdle(t, e)
	assert.Equal(t, Idle, e.State())
	assert.False(t, synth.overlap.Load())
	assert.Equal(t, ToneFor(CueReceived), synth.last())
}

func TestPlaysImmediatelyAfterCooldown(t *testing.T) {
	synth := &recordingSynth{}
	e, clock := newEngine(t, synth, WithCooldown(100*time.Millisecond))
	e.Unlock()

	e.RequestCue(CueGeneric)
	require.Eventually(t, func() bool { return synth.count() == 1 }, time.Second, time.Millisecond)
	waitIdle(t, e)

	clock.Advance(100 * time.Millisecond)
	e.RequestCue(CueSent)
	require.Eventually(t, func() bool { return synth.count() == 2 }, time.Second, time.Millisecond)
}

func TestSetEnabledPersistsAndSilences(t *testing.T) {
	flags := &memFlags{enabled: true}
	synth := &recordingSynth{}
	e, _ := newEngine(t, synth, WithFlagStore(flags))
	e.Unlock()

	require.NoError(t, e.SetEnabled(false))
	assert.False(t, flags.SoundEnabled())
	assert.False(t, e.Enabled())

	e.RequestCue(CueMention)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, synth.count())
	assert.Equal(t, Idle, e.State())

	// внешнее изменение флага
	flags.onChange(true)
	assert.True(t, e.Enabled())
	e.RequestCue(CueMention)
	require.Eventually(t, func() bool { return synth.count() == 1 }, time.Second, time.Millisecond)
}

func TestStartsDisabledFromFlagStore(t *testing.T) {
	e, _ := newEngine(t, &recordingSynth{}, WithFlagStore(&memFlags{enabled: false}))
	assert.False(t, e.Enabled())
}

func TestDisableDoesNotCancelScheduled(t *testing.T) {
	synth := &recordingSynth{}
	e, clock := newEngine(t, synth)
	e.Unlock()

	e.RequestCue(CueGeneric)
	require.Eventually(t, func() bool { return synth.count() == 1 }, time.Second, time.Millisecond)
	waitIdle(t, e)
	e.RequestCue(CueMention)
	require.Equal(t, Scheduled, e.State())

	require.NoError(t, e.SetEnabled(false))
	clock.Advance(DefaultCooldown)
	require.Eventually(t, func() bool { return synth.count() == 2 }, time.Second, time.Millisecond)
}

func TestResetClearsCooldown(t *testing.T) {
	synth := &recordingSynth{}
	e, _ := newEngine(t, synth)
	e.Unlock()

	e.RequestCue(CueGeneric)
	require.Eventually(t, func() bool { return synth.count() == 1 }, time.Second, time.Millisecond)
	waitIdle(t, e)
	e.RequestCue(CueGeneric)
	require.Equal(t, Scheduled, e.State())

	e.Reset()
	assert.Equal(t, Idle, e.State())
	assert.True(t, e.Unlocked())
	e.RequestCue(CueSent)
	require.Eventually(t, func() bool { return synth.count() == 2 }, time.Second, time.Millisecond)
}

func TestResetWhilePlayingDoesNotOverlap(t *testing.T) {
	synth := &recordingSynth{hold: make(chan struct{})}
	e, clock := newEngine(t, synth)
	e.Unlock()

	e.RequestCue(CueMention)
	require.Eventually(t, func() bool { return synth.active.Load() == 1 }, time.Second, time.Millisecond)

	e.Reset()
	assert.Equal(t, Playing, e.State())
	e.RequestCue(CueSent)
	assert.Equal(t, int32(1), synth.active.Load())

	synth.hold <- struct{}{}
	require.Eventually(t, func() bool { return e.State() == Scheduled }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		clock.Advance(DefaultCooldown)
		return synth.active.Load() == 1
	}, time.Second, time.Millisecond)
	synth.hold <- struct{}{}

	require.Eventually(t, func() bool { return synth.count() == 2 }, time.Second, time.Millisecond)
	waitIdle(t, e)
	assert.False(t, synth.overlap.Load())
	assert.Equal(t, ToneFor(CueSent), synth.last())
}

func TestTonesAreDistinct(t *testing.T) {
	kinds := []CueKind{CueGeneric, CueMention, CueSent, CueReceived}
	for i, a := range kinds {
		assert.NotEmpty(t, ToneFor(a).Notes)
		assert.Positive(t, ToneFor(a).Length())
		for _, b := range kinds[i+1:] {
			assert.NotEqual(t, ToneFor(a), ToneFor(b), "%s vs %s", a, b)
		}
	}
	assert.Equal(t, ToneFor(CueGeneric), ToneFor("unknown"))
}
