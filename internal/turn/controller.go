// Package turn implements the conversation state machine: it reacts to
// speech edges, decides what each turn needs (more input, a photo, a
// clinician lookup or a generated reply) and drives the avatar's speech.
package turn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DineshTeja/aria/internal/classify"
	"github.com/DineshTeja/aria/internal/clinic"
	"github.com/DineshTeja/aria/internal/metrics"
	"github.com/DineshTeja/aria/internal/store"
	"github.com/DineshTeja/aria/internal/transcript"
)

// State names the phases of the turn state machine.
type State string

const (
	StateIdle          State = "idle"
	StateUserSpeaking  State = "user_speaking"
	StateEvaluating    State = "evaluating"
	StateAwaitingPhoto State = "awaiting_photo"
	StateGenerating    State = "generating"
	StateSpeaking      State = "speaking"
)

// Classifier decides the turn's branch.
type Classifier interface {
	Evaluate(ctx context.Context, transcript, previousAnalysis string) (classify.Result, error)
}

// Generator produces the assistant reply.
type Generator interface {
	Respond(ctx context.Context, transcript, photoAnalysis string) (clinic.Response, error)
}

// Finder runs the clinician lookup.
type Finder interface {
	Locate(ctx context.Context, transcript string, patient clinic.Patient, known []store.Clinician) (clinic.Located, error)
}

// Speaker is the avatar surface the controller talks through.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Active() bool
	Reconnect() error
	Mute() error
	Unmute() error
}

// Events are the controller's outward notifications. Any may be nil.
type Events struct {
	OnPhotoRequested func()
	OnArticles       func([]store.KnowledgeItem)
	OnClinicians     func([]store.Clinician)
	OnMicChanged     func(enabled bool)
	OnError          func(error)
}

// Config tunes the controller's only timeout: how long to wait for a
// transcript message after the user stops speaking.
type Config struct {
	TranscriptWait time.Duration
	PollInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.TranscriptWait <= 0 {
		c.TranscriptWait = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// token identifies one turn of one session. Async completions present their
// token before mutating shared state; a stale token is discarded silently.
type token struct {
	session uuid.UUID
	seq     uint64
}

// Controller is the per-session turn state machine. All transitions are
// serialized through its mutex; model calls run outside the lock and
// revalidate their token on completion.
type Controller struct {
	classifier Classifier
	generator  Generator
	finder     Finder
	speaker    Speaker
	transcript *transcript.Accumulator
	patient    clinic.Patient
	events     Events
	cfg        Config
	log        zerolog.Logger

	mu             sync.Mutex
	state          State
	avatarSpeaking bool
	micEnabled     bool
	photoAnalysis  string
	photoSupplied  bool
	clinicians     []store.Clinician
	articles       []store.KnowledgeItem
	session        uuid.UUID
	seq            uint64
	active         bool
}

// NewController wires the controller. The transcript accumulator is shared
// with whatever feeds avatar message events into it.
func NewController(classifier Classifier, generator Generator, finder Finder, speaker Speaker,
	acc *transcript.Accumulator, patient clinic.Patient, events Events, cfg Config, log zerolog.Logger) *Controller {
	return &Controller{
		classifier: classifier,
		generator:  generator,
		finder:     finder,
		speaker:    speaker,
		transcript: acc,
		patient:    patient,
		events:     events,
		cfg:        cfg.withDefaults(),
		log:        log.With().Str("component", "turn").Logger(),
		state:      StateIdle,
	}
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AvatarSpeaking reports whether a speak call is in flight.
func (c *Controller) AvatarSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avatarSpeaking
}

// Clinicians returns the session's cached clinician list.
func (c *Controller) Clinicians() []store.Clinician {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]store.Clinician, len(c.clinicians))
	copy(cp, c.clinicians)
	return cp
}

// Articles returns the knowledge items fetched by the last generation.
func (c *Controller) Articles() []store.KnowledgeItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]store.KnowledgeItem, len(c.articles))
	copy(cp, c.articles)
	return cp
}

// StartSession resets all per-session state and invalidates every pending
// async completion from a previous session.
func (c *Controller) StartSession() {
	c.mu.Lock()
	c.session = uuid.New()
	c.seq++
	c.state = StateIdle
	c.avatarSpeaking = false
	// Left false so the setMic below always unmutes the hardware, even when
	// a previous session tore down while muted.
	c.micEnabled = false
	c.photoAnalysis = ""
	c.photoSupplied = false
	c.clinicians = nil
	c.articles = nil
	c.active = true
	c.mu.Unlock()

	c.transcript.Reset()
	c.setMic(true)
	metrics.SessionsActive.Inc()
	c.log.Info().Str("session", c.session.String()).Msg("session started")
}

// EndSession invalidates in-flight work and resets to defaults. The
// transcript is cleared; a report should be compiled before ending if
// needed.
func (c *Controller) EndSession() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.seq++
	c.state = StateIdle
	c.avatarSpeaking = false
	c.photoAnalysis = ""
	c.photoSupplied = false
	c.clinicians = nil
	c.articles = nil
	c.mu.Unlock()

	c.transcript.Reset()
	metrics.SessionsActive.Dec()
	c.log.Info().Msg("session ended")
}

// OnUserSpeaking handles the upward speech edge.
func (c *Controller) OnUserSpeaking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.avatarSpeaking {
		return
	}
	if c.state == StateIdle {
		c.state = StateUserSpeaking
	}
}

// OnUserStoppedSpeaking handles the downward speech edge and, when the
// machine is free, starts a turn. The edge is ignored while the avatar is
// speaking or another turn is in flight.
func (c *Controller) OnUserStoppedSpeaking(ctx context.Context) {
	c.mu.Lock()
	if !c.active || c.avatarSpeaking || c.state != StateUserSpeaking {
		c.mu.Unlock()
		return
	}
	c.state = StateEvaluating
	c.seq++
	tok := token{session: c.session, seq: c.seq}
	c.mu.Unlock()

	go c.runTurn(ctx, tok)
}

// valid reports whether the token still belongs to the live turn.
func (c *Controller) valid(tok token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && tok.session == c.session && tok.seq == c.seq
}

// abort returns the machine to IDLE if the token is still current.
func (c *Controller) abort(tok token, outcome string) {
	c.mu.Lock()
	if c.active && tok.session == c.session && tok.seq == c.seq {
		c.state = StateIdle
	}
	c.mu.Unlock()
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (c *Controller) runTurn(ctx context.Context, tok token) {
	if !c.waitForTranscript(ctx, tok) {
		c.abort(tok, "aborted")
		return
	}

	text := c.transcript.Text()

	// An interruption signals urgency: skip classification entirely.
	if c.transcript.LastAssistantInterrupted() {
		c.log.Debug().Msg("assistant was interrupted, skipping classification")
		c.generate(ctx, tok, text)
		return
	}

	c.mu.Lock()
	previousAnalysis := c.photoAnalysis
	photoSupplied := c.photoSupplied
	c.mu.Unlock()

	result, err := c.classifier.Evaluate(ctx, text, previousAnalysis)
	if !c.valid(tok) {
		return
	}
	if err != nil {
		c.fail(tok, err)
		return
	}

	switch {
	case result.RequestingProfessionals:
		// The locator short-circuits on a cached list, so repeat requests
		// stay cheap.
		c.locateClinicians(ctx, tok, text)
	case result.NeedsPhoto && !photoSupplied:
		c.requestPhoto(ctx, tok)
	default:
		c.generate(ctx, tok, text)
	}
}

// waitForTranscript polls until at least one transcript message exists or
// the wait window elapses.
func (c *Controller) waitForTranscript(ctx context.Context, tok token) bool {
	deadline := time.Now().Add(c.cfg.TranscriptWait)
	for {
		if !c.valid(tok) {
			return false
		}
		if c.transcript.Len() > 0 {
			return true
		}
		if time.Now().After(deadline) {
			c.log.Debug().Msg("no transcript arrived, aborting turn")
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *Controller) locateClinicians(ctx context.Context, tok token, text string) {
	c.mu.Lock()
	known := c.clinicians
	c.mu.Unlock()

	located, err := c.finder.Locate(ctx, text, c.patient, known)
	if !c.valid(tok) {
		return
	}
	if err != nil {
		c.fail(tok, err)
		return
	}

	c.mu.Lock()
	c.clinicians = located.Clinicians
	c.mu.Unlock()
	if c.events.OnClinicians != nil {
		c.events.OnClinicians(located.Clinicians)
	}
	c.speakAndFinish(ctx, tok, located.Message, "clinicians")
}

// requestPhoto mutes the microphone, speaks the fixed photo prompt and
// parks the machine in AWAITING_PHOTO until SubmitPhoto or SkipPhoto.
func (c *Controller) requestPhoto(ctx context.Context, tok token) {
	c.mu.Lock()
	if !(c.active && tok.session == c.session && tok.seq == c.seq) || c.avatarSpeaking {
		c.mu.Unlock()
		return
	}
	c.avatarSpeaking = true
	c.state = StateSpeaking
	c.mu.Unlock()

	c.setMic(false)
	err := c.speak(ctx, clinic.PhotoRequestPrompt)

	c.mu.Lock()
	c.avatarSpeaking = false
	if c.active && tok.session == c.session && tok.seq == c.seq {
		if err != nil {
			c.state = StateIdle
		} else {
			c.state = StateAwaitingPhoto
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.setMic(true)
		c.report(err)
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return
	}
	if c.events.OnPhotoRequested != nil {
		c.events.OnPhotoRequested()
	}
	metrics.TurnsTotal.WithLabelValues("photo_requested").Inc()
}

// SubmitPhoto resumes an AWAITING_PHOTO turn with the analyzed description.
func (c *Controller) SubmitPhoto(ctx context.Context, analysis string) {
	c.resumeAfterPhoto(ctx, analysis, true)
}

// SkipPhoto resumes an AWAITING_PHOTO turn without a photo.
func (c *Controller) SkipPhoto(ctx context.Context) {
	c.resumeAfterPhoto(ctx, "", false)
}

func (c *Controller) resumeAfterPhoto(ctx context.Context, analysis string, supplied bool) {
	c.mu.Lock()
	if !c.active || c.state != StateAwaitingPhoto {
		c.mu.Unlock()
		return
	}
	// Leave AWAITING_PHOTO before releasing the lock so a duplicate submit
	// (or a submit racing a skip) fails this guard instead of starting a
	// second generation on the same token.
	c.state = StateGenerating
	if supplied {
		c.photoAnalysis = analysis
		c.photoSupplied = true
	}
	tok := token{session: c.session, seq: c.seq}
	c.mu.Unlock()

	c.setMic(true)
	go c.generate(ctx, tok, c.transcript.Text())
}

func (c *Controller) generate(ctx context.Context, tok token, text string) {
	c.mu.Lock()
	if !(c.active && tok.session == c.session && tok.seq == c.seq) || c.avatarSpeaking {
		c.mu.Unlock()
		return
	}
	c.state = StateGenerating
	analysis := c.photoAnalysis
	c.mu.Unlock()

	resp, err := c.generator.Respond(ctx, text, analysis)
	if !c.valid(tok) {
		return
	}
	if err != nil {
		c.fail(tok, err)
		return
	}

	c.mu.Lock()
	c.articles = resp.Articles
	c.mu.Unlock()
	if len(resp.Articles) > 0 && c.events.OnArticles != nil {
		c.events.OnArticles(resp.Articles)
	}
	c.speakAndFinish(ctx, tok, resp.Answer, "spoken")
}

// speakAndFinish owns the speaking flag for the rest of the turn: it is the
// only place the flag is set, and no evaluation or generation may begin
// while it is held.
func (c *Controller) speakAndFinish(ctx context.Context, tok token, text, outcome string) {
	c.mu.Lock()
	if !(c.active && tok.session == c.session && tok.seq == c.seq) || c.avatarSpeaking {
		c.mu.Unlock()
		return
	}
	c.avatarSpeaking = true
	c.state = StateSpeaking
	c.mu.Unlock()

	err := c.speak(ctx, text)

	c.mu.Lock()
	c.avatarSpeaking = false
	if c.active && tok.session == c.session && tok.seq == c.seq {
		c.state = StateIdle
	}
	c.mu.Unlock()

	if err != nil {
		c.report(err)
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
}

// speak delivers text through the avatar with exactly one
// reconnect-and-retry on failure.
func (c *Controller) speak(ctx context.Context, text string) error {
	attempt := func() error {
		if !c.speaker.Active() {
			if err := c.speaker.Reconnect(); err != nil {
				return err
			}
		}
		return c.speaker.Speak(ctx, text)
	}
	err := attempt()
	if err == nil {
		return nil
	}
	c.log.Warn().Err(err).Msg("speak failed, reconnecting once")
	metrics.SpeakRetries.Inc()
	if rerr := c.speaker.Reconnect(); rerr != nil {
		return rerr
	}
	return c.speaker.Speak(ctx, text)
}

func (c *Controller) fail(tok token, err error) {
	c.report(err)
	c.abort(tok, "failed")
}

func (c *Controller) report(err error) {
	c.log.Error().Err(err).Msg("turn failed")
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}

func (c *Controller) setMic(on bool) {
	c.mu.Lock()
	changed := c.micEnabled != on
	c.micEnabled = on
	c.mu.Unlock()
	if !changed {
		return
	}
	var err error
	if on {
		err = c.speaker.Unmute()
	} else {
		err = c.speaker.Mute()
	}
	if err != nil {
		c.log.Warn().Err(err).Bool("on", on).Msg("microphone toggle failed")
	}
	if c.events.OnMicChanged != nil {
		c.events.OnMicChanged(on)
	}
}

// MicEnabled reports the microphone flag.
func (c *Controller) MicEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micEnabled
}
