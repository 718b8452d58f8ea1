package speech

import (
	"encoding/binary"
	"math"
	"sync"
)

// DefaultThresholdDB is the energy level, in dBFS, above which a window
// counts as voiced. Roughly matches a browser speech-events threshold of -50.
const DefaultThresholdDB = -50.0

// WindowMs is the analysis window length. Energy is computed per window and
// edges fire on window boundaries.
const WindowMs = 100

// SampleRate is the expected input rate for PCM16LE mono frames.
const SampleRate = 16000

// onWindows is the number of consecutive voiced windows required before the
// speaking edge fires; offWindows the consecutive silent windows for the
// matching downward edge. The asymmetry avoids chatter on brief pauses.
const (
	onWindows  = 2
	offWindows = 4
)

// Events carries the edge callbacks. Either may be nil.
type Events struct {
	OnSpeaking func()
	OnStopped  func()
}

// Monitor detects start and stop of user speech from a live PCM16LE mono
// stream. It is edge-triggered: OnSpeaking fires once per voiced run,
// OnStopped once on the matching downward edge. While disabled (microphone
// muted) incoming audio is discarded so the avatar's own output leaking into
// the input cannot trigger spurious edges.
type Monitor struct {
	mu        sync.Mutex
	events    Events
	threshold float64 // RMS threshold in absolute int16 units

	started  bool
	enabled  bool
	speaking bool

	window    []int16
	voicedRun int
	silentRun int
}

// NewMonitor constructs a monitor with the default threshold.
func NewMonitor(events Events) *Monitor {
	return &Monitor{
		events:    events,
		threshold: rmsFromDB(DefaultThresholdDB),
	}
}

// rmsFromDB converts a dBFS level to an absolute RMS threshold for int16 PCM.
func rmsFromDB(db float64) float64 {
	return 32768.0 * math.Pow(10, db/20)
}

// Start begins accepting audio. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.enabled = true
	m.resetLocked()
}

// Stop tears the monitor down and releases buffered audio. Idempotent. A
// speaking run in progress is closed without emitting the downward edge.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	m.resetLocked()
}

// SetEnabled gates event emission. Disable while the microphone is muted.
func (m *Monitor) SetEnabled(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled == on {
		return
	}
	m.enabled = on
	// Muting mid-utterance drops the run silently; unmuting starts clean.
	m.resetLocked()
}

// Speaking reports whether a voiced run is currently open.
func (m *Monitor) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaking
}

func (m *Monitor) resetLocked() {
	m.window = m.window[:0]
	m.voicedRun = 0
	m.silentRun = 0
	m.speaking = false
}

// FeedPCM16 accepts arbitrary-length PCM16LE mono audio and processes any
// complete analysis windows it fills. Edge callbacks are invoked without the
// internal lock held.
func (m *Monitor) FeedPCM16(pcm []byte) {
	var fire []func()
	m.mu.Lock()
	if !m.started || !m.enabled {
		m.mu.Unlock()
		return
	}
	samplesPerWindow := SampleRate * WindowMs / 1000
	for i := 0; i+1 < len(pcm); i += 2 {
		m.window = append(m.window, int16(binary.LittleEndian.Uint16(pcm[i:i+2])))
		if len(m.window) < samplesPerWindow {
			continue
		}
		voiced := rms(m.window) >= m.threshold
		m.window = m.window[:0]
		if cb := m.onWindowLocked(voiced); cb != nil {
			fire = append(fire, cb)
		}
	}
	m.mu.Unlock()
	for _, cb := range fire {
		cb()
	}
}

// onWindowLocked applies hysteresis and returns the callback to fire, if any.
func (m *Monitor) onWindowLocked(voiced bool) func() {
	if voiced {
		m.voicedRun++
		m.silentRun = 0
		if !m.speaking && m.voicedRun >= onWindows {
			m.speaking = true
			return m.events.OnSpeaking
		}
		return nil
	}
	m.silentRun++
	m.voicedRun = 0
	if m.speaking && m.silentRun >= offWindows {
		m.speaking = false
		return m.events.OnStopped
	}
	return nil
}

func rms(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}
