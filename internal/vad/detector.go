// Package vad implements the energy-based voice endpoint detector that
// decides when a spoken turn has started and ended.
//
// The detector is a per-session state machine fed one PCM frame at a time.
// A frame whose RMS energy exceeds the configured threshold is classified as
// speech; anything else is silence. Pre-speech silence is discarded without
// buffering so an idle line costs no memory. Once speech is heard, frames are
// buffered until the silence run reaches the configured duration, at which
// point the turn is finalized — or discarded as noise if it carried less than
// the minimum cumulative speech.
//
// A Detector is not safe for concurrent use; each session owns exactly one
// and feeds it from a single goroutine.
package vad

import (
	"bytes"
	"fmt"
	"time"

	"github.com/voicelinehq/voiceline/pkg/audio"
)

// Signal is the detector's verdict after consuming one frame.
type Signal int

const (
	// SignalNone means the frame changed nothing: either pre-speech silence
	// or a continuation of the current turn.
	SignalNone Signal = iota

	// SignalTurnStarted fires on the first speech frame of a new turn.
	SignalTurnStarted

	// SignalTurnEnded fires on the silence frame that completes the
	// configured silence run after sufficient speech. The buffered turn
	// audio is available via TakeClip.
	SignalTurnEnded

	// SignalTurnDiscarded fires when the silence run completes but the turn
	// carried less than the minimum speech duration — a cough or a click,
	// not an utterance. The buffer is dropped.
	SignalTurnDiscarded
)

// String returns the signal name for logging.
func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalTurnStarted:
		return "turn_started"
	case SignalTurnEnded:
		return "turn_ended"
	case SignalTurnDiscarded:
		return "turn_discarded"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Config holds the detector's tuning parameters. All of them vary with
// microphone gain and room noise, so deployments must be able to override
// each one.
type Config struct {
	// SampleRate is the PCM sample rate in Hz of the frames fed to the
	// detector. Must match the transport's negotiated rate.
	SampleRate int

	// Channels is the channel count of incoming frames. The pipeline is
	// mono; values above 1 still work but thresholds are calibrated for 1.
	Channels int

	// EnergyThreshold is the RMS level (raw 16-bit sample units, max 32767)
	// at or above which a frame counts as speech.
	EnergyThreshold float64

	// SilenceDuration is how long silence must persist after speech before
	// the turn is considered finished.
	SilenceDuration time.Duration

	// MinSpeechDuration is the minimum cumulative speech a turn must carry
	// to be finalized rather than discarded as noise.
	MinSpeechDuration time.Duration

	// MaxTurnDuration bounds the audio buffered for one turn. When the
	// buffer reaches this length the turn is finalized immediately, ending
	// the turn mid-speech rather than growing without bound.
	MaxTurnDuration time.Duration
}

// Default detector parameters. Chosen for 16 kHz mono input from a typical
// browser microphone.
const (
	DefaultEnergyThreshold   = 500.0
	DefaultSilenceDuration   = 1500 * time.Millisecond
	DefaultMinSpeechDuration = 500 * time.Millisecond
	DefaultMaxTurnDuration   = 30 * time.Second
)

// withDefaults fills zero-value fields with the package defaults.
func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = DefaultSilenceDuration
	}
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if c.MaxTurnDuration <= 0 {
		c.MaxTurnDuration = DefaultMaxTurnDuration
	}
	return c
}

// Detector classifies a frame stream into turns. Zero value is not usable;
// construct with New.
type Detector struct {
	cfg Config

	buf        bytes.Buffer
	hasSpeech  bool
	speechDur  time.Duration
	silenceRun time.Duration
}

// New creates a Detector with cfg. Zero-value fields fall back to the
// package defaults.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Feed consumes one PCM frame and returns the resulting signal.
//
// The frame's length determines its duration at the configured sample
// format; callers may feed frames of any size, though 10–100 ms frames give
// the detector its specified resolution.
func (d *Detector) Feed(frame []byte) Signal {
	if len(frame) == 0 {
		return SignalNone
	}
	frameDur := audio.FrameDuration(len(frame), d.cfg.SampleRate, d.cfg.Channels)
	speech := audio.RMS(frame) >= d.cfg.EnergyThreshold

	if speech {
		started := !d.hasSpeech
		d.hasSpeech = true
		d.silenceRun = 0
		d.speechDur += frameDur
		d.buf.Write(frame)
		if d.buf.Len() > d.maxBufferBytes() {
			return d.finalize()
		}
		if started {
			return SignalTurnStarted
		}
		return SignalNone
	}

	// Silence before any speech is discarded, not buffered.
	if !d.hasSpeech {
		return SignalNone
	}

	// Trailing silence inside a turn is buffered so the transcription
	// provider sees natural pauses, but only until the run completes.
	d.buf.Write(frame)
	d.silenceRun += frameDur
	if d.silenceRun >= d.cfg.SilenceDuration {
		return d.finalize()
	}
	return SignalNone
}

// finalize ends the current turn, deciding between a real utterance and
// discarded noise, and resets the per-turn counters. The buffer survives
// only for SignalTurnEnded so TakeClip can collect it.
func (d *Detector) finalize() Signal {
	short := d.speechDur < d.cfg.MinSpeechDuration
	d.hasSpeech = false
	d.speechDur = 0
	d.silenceRun = 0
	if short {
		d.buf.Reset()
		return SignalTurnDiscarded
	}
	return SignalTurnEnded
}

// TakeClip returns the buffered audio of the just-finalized turn and clears
// the buffer. Valid only immediately after Feed returned SignalTurnEnded;
// at any other time it returns an empty clip.
func (d *Detector) TakeClip() audio.Clip {
	if d.buf.Len() == 0 {
		return audio.Clip{SampleRate: d.cfg.SampleRate, Channels: d.cfg.Channels}
	}
	pcm := make([]byte, d.buf.Len())
	copy(pcm, d.buf.Bytes())
	d.buf.Reset()
	return audio.Clip{PCM: pcm, SampleRate: d.cfg.SampleRate, Channels: d.cfg.Channels}
}

// Reset clears all detector state, dropping any buffered audio. Use when a
// session leaves the listening state so stale audio from an aborted turn
// cannot leak into the next one.
func (d *Detector) Reset() {
	d.buf.Reset()
	d.hasSpeech = false
	d.speechDur = 0
	d.silenceRun = 0
}

func (d *Detector) maxBufferBytes() int {
	bytesPerSecond := d.cfg.SampleRate * d.cfg.Channels * 2
	return int(d.cfg.MaxTurnDuration.Seconds() * float64(bytesPerSecond))
}
