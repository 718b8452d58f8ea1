// Package avatar implements the websocket client for the embodied avatar
// service: session lifecycle, talk commands and the message stream the
// conversation pipeline consumes.
package avatar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventType discriminates events emitted on the session's event channel.
type EventType string

const (
	EventMessage      EventType = "message"
	EventHistory      EventType = "history"
	EventSpeakStarted EventType = "speak_started"
	EventSpeakEnded   EventType = "speak_ended"
	EventAudio        EventType = "audio"
	EventClosed       EventType = "closed"
	EventError        EventType = "error"
)

// MessageEvent is one message-stream update from the avatar service.
// Content is a delta for streamed assistant messages, keyed by ID.
type MessageEvent struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	Interrupted bool   `json:"interrupted"`
}

// Event is delivered on the session's event channel. Audio carries the
// user's input tap as PCM16LE frames when the service forwards it.
type Event struct {
	Type    EventType
	Message MessageEvent
	History []MessageEvent
	Audio   []byte
	Err     error
}

// Options configures a Session.
type Options struct {
	URL                  string
	APIKey               string
	PersonaID            string
	DisableBrains        bool
	DisableFillerPhrases bool
}

const (
	handshakeTimeout = 10 * time.Second
	readyTimeout     = 10 * time.Second
	eventBuffer      = 100
)

// Session is a websocket client for one avatar session. Connect and Close
// are idempotent; the event channel survives reconnects.
type Session struct {
	opts Options
	log  zerolog.Logger

	events chan Event

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	stopCh    chan struct{}
	readyCh   chan struct{}

	writeMu sync.Mutex

	speakMu sync.Mutex
	pending map[string]chan struct{}
}

// NewSession constructs a Session. Call Connect before use.
func NewSession(opts Options, log zerolog.Logger) *Session {
	return &Session{
		opts:    opts,
		log:     log.With().Str("component", "avatar").Logger(),
		events:  make(chan Event, eventBuffer),
		pending: make(map[string]chan struct{}),
	}
}

// Events returns the event channel. It is never closed by reconnects.
func (s *Session) Events() <-chan Event { return s.events }

// Active reports whether the session is currently connected.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

type command struct {
	Type                 string `json:"type"`
	ID                   string `json:"id,omitempty"`
	Text                 string `json:"text,omitempty"`
	PersonaID            string `json:"persona_id,omitempty"`
	DisableBrains        bool   `json:"disable_brains,omitempty"`
	DisableFillerPhrases bool   `json:"disable_filler_phrases,omitempty"`
}

type serverMessage struct {
	Type        string         `json:"type"`
	ID          string         `json:"id"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	Interrupted bool           `json:"interrupted"`
	Messages    []MessageEvent `json:"messages"`
	Error       string         `json:"error"`
}

// Connect dials the avatar service, starts the session and waits for the
// session_ready acknowledgement. Calling Connect on a live session is a
// no-op.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if s.opts.URL == "" {
		s.mu.Unlock()
		return fmt.Errorf("avatar URL is empty")
	}

	headers := http.Header{}
	if s.opts.APIKey != "" {
		headers.Set("Authorization", "Bearer "+s.opts.APIKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, resp, err := dialer.Dial(s.opts.URL, headers)
	if err != nil {
		if resp != nil {
			s.log.Error().Int("status", resp.StatusCode).Msg("avatar connection refused")
		}
		s.mu.Unlock()
		return fmt.Errorf("connect to avatar service: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.stopCh = make(chan struct{})
	s.readyCh = make(chan struct{})
	readyCh := s.readyCh
	s.mu.Unlock()

	go s.readLoop(conn)

	if err := s.send(command{
		Type:                 "start_session",
		PersonaID:            s.opts.PersonaID,
		DisableBrains:        s.opts.DisableBrains,
		DisableFillerPhrases: s.opts.DisableFillerPhrases,
	}); err != nil {
		_ = s.Close()
		return err
	}

	select {
	case <-readyCh:
	case <-time.After(readyTimeout):
		_ = s.Close()
		return fmt.Errorf("avatar session not ready after %s", readyTimeout)
	}

	s.log.Info().Str("persona", s.opts.PersonaID).Msg("avatar session started")
	return nil
}

// Close ends the session and tears down the connection. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	if s.conn != nil {
		s.writeMu.Lock()
		_ = s.conn.WriteJSON(command{Type: "end_session"})
		s.writeMu.Unlock()
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil

	// Pending speak waiters unblock via stopCh and report the closure.
	s.speakMu.Lock()
	for id := range s.pending {
		delete(s.pending, id)
	}
	s.speakMu.Unlock()

	s.log.Info().Msg("avatar session closed")
	return nil
}

// Reconnect tears down the current connection and establishes a fresh
// session. The event channel is preserved.
func (s *Session) Reconnect() error {
	if err := s.Close(); err != nil {
		return err
	}
	return s.Connect()
}

// Speak sends a talk command and blocks until the avatar finishes speaking
// it, the context is cancelled, or the connection drops.
func (s *Session) Speak(ctx context.Context, text string) error {
	s.mu.RLock()
	stopCh := s.stopCh
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		return fmt.Errorf("avatar session not connected")
	}

	id := uuid.NewString()
	done := make(chan struct{})
	s.speakMu.Lock()
	s.pending[id] = done
	s.speakMu.Unlock()
	defer func() {
		s.speakMu.Lock()
		delete(s.pending, id)
		s.speakMu.Unlock()
	}()

	if err := s.send(command{Type: "talk", ID: id, Text: text}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return fmt.Errorf("avatar session closed while speaking")
	}
}

// Mute disables the avatar's audio input stream.
func (s *Session) Mute() error { return s.send(command{Type: "mute_input_audio"}) }

// Unmute re-enables the avatar's audio input stream.
func (s *Session) Unmute() error { return s.send(command{Type: "unmute_input_audio"}) }

func (s *Session) send(cmd command) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("avatar session not connected")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Type, err)
	}
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			dropped := s.connected && s.conn == conn
			if dropped {
				s.connected = false
			}
			s.mu.Unlock()
			if dropped {
				s.log.Warn().Err(err).Msg("avatar connection dropped")
				s.emit(Event{Type: EventClosed, Err: err})
			}
			return
		}
		if mt == websocket.BinaryMessage {
			s.emit(Event{Type: EventAudio, Audio: data})
			continue
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn().Err(err).Msg("malformed avatar message")
			continue
		}
		s.handle(msg)
	}
}

func (s *Session) handle(msg serverMessage) {
	switch msg.Type {
	case "session_ready":
		s.mu.RLock()
		ready := s.readyCh
		s.mu.RUnlock()
		if ready != nil {
			select {
			case <-ready:
			default:
				close(ready)
			}
		}
	case "message_stream_event":
		s.emit(Event{Type: EventMessage, Message: MessageEvent{
			ID:          msg.ID,
			Role:        msg.Role,
			Content:     msg.Content,
			Interrupted: msg.Interrupted,
		}})
	case "message_history":
		s.emit(Event{Type: EventHistory, History: msg.Messages})
	case "speak_started":
		s.emit(Event{Type: EventSpeakStarted, Message: MessageEvent{ID: msg.ID}})
	case "speak_ended":
		s.speakMu.Lock()
		if ch, ok := s.pending[msg.ID]; ok {
			close(ch)
			delete(s.pending, msg.ID)
		}
		s.speakMu.Unlock()
		s.emit(Event{Type: EventSpeakEnded, Message: MessageEvent{ID: msg.ID}})
	case "error":
		s.log.Warn().Str("error", msg.Error).Msg("avatar service error")
		s.emit(Event{Type: EventError, Err: fmt.Errorf("avatar: %s", msg.Error)})
	default:
		s.log.Debug().Str("type", msg.Type).Msg("unhandled avatar message")
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("type", string(ev.Type)).Msg("event buffer full, dropping")
	}
}
