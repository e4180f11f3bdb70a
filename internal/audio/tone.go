package audio

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"
)

// CueKind — класс события, для которого звучит сигнал.
type CueKind string

const (
	CueGeneric  CueKind = "generic"
	CueMention  CueKind = "mention"
	CueSent     CueKind = "sent"
	CueReceived CueKind = "received"
)

func (k CueKind) Valid() bool {
	switch k {
	case CueGeneric, CueMention, CueSent, CueReceived:
		return true
	}
	return false
}

// Note — одна нота сигнала.
type Note struct {
	Freq     float64
	Duration time.Duration
}

// Tone — пара нот с паузой между ними.
type Tone struct {
	Notes []Note
	Gap   time.Duration
}

// Length — полная длительность сигнала.
func (t Tone) Length() time.Duration {
	var d time.Duration
	for i, n := range t.Notes {
		if i > 0 {
			d += t.Gap
		}
		d += n.Duration
	}
	return d
}

// Упоминание — восходящая пара выше остальных, чтобы его нельзя было спутать с обычным сигналом.
var tones = map[CueKind]Tone{
	CueGeneric: {
		Notes: []Note{{Freq: 660, Duration: 90 * time.Millisecond}, {Freq: 660, Duration: 60 * time.Millisecond}},
		Gap:   40 * time.Millisecond,
	},
	CueMention: {
		Notes: []Note{{Freq: 880, Duration: 110 * time.Millisecond}, {Freq: 1320, Duration: 140 * time.Millisecond}},
		Gap:   30 * time.Millisecond,
	},
	CueSent: {
		Notes: []Note{{Freq: 520, Duration: 50 * time.Millisecond}, {Freq: 780, Duration: 50 * time.Millisecond}},
		Gap:   20 * time.Millisecond,
	},
	CueReceived: {
		Notes: []Note{{Freq: 740, Duration: 80 * time.Millisecond}, {Freq: 555, Duration: 100 * time.Millisecond}},
		Gap:   30 * time.Millisecond,
	},
}

// ToneFor возвращает сигнал для kind; неизвестный kind звучит как generic.
func ToneFor(kind CueKind) Tone {
	if t, ok := tones[kind]; ok {
		return t
	}
	return tones[CueGeneric]
}

// Synth проигрывает сигнал и возвращается, когда звук закончился.
type Synth interface {
	Play(tone Tone) error
}

// BeepSynth играет ноты через системный динамик (beeep).
type BeepSynth struct{}

func (BeepSynth) Play(tone Tone) error {
	for i, n := range tone.Notes {
		if i > 0 && tone.Gap > 0 {
			time.Sleep(tone.Gap)
		}
		if err := beeep.Beep(n.Freq, int(n.Duration/time.Millisecond)); err != nil {
			return fmt.Errorf("beep %.0fHz: %w", n.Freq, err)
		}
	}
	return nil
}

// SilentSynth только выдерживает длительность сигнала (сервер, CI без звука).
type SilentSynth struct{}

func (SilentSynth) Play(tone Tone) error {
	time.Sleep(tone.Length())
	return nil
}
