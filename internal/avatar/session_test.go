package avatar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// fakeAvatarServer acks start_session, completes talk commands after a short
// delay and can push arbitrary server messages.
type fakeAvatarServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	talks int
}

func (f *fakeAvatarServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	go func() {
		for {
			var cmd map[string]any
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			switch cmd["type"] {
			case "start_session":
				_ = conn.WriteJSON(map[string]any{"type": "session_ready"})
			case "talk":
				f.mu.Lock()
				f.talks++
				f.mu.Unlock()
				id, _ := cmd["id"].(string)
				_ = conn.WriteJSON(map[string]any{"type": "speak_started", "id": id})
				_ = conn.WriteJSON(map[string]any{"type": "speak_ended", "id": id})
			}
		}
	}()
}

func (f *fakeAvatarServer) push(msg map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.WriteJSON(msg)
	}
}

func (f *fakeAvatarServer) talkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.talks
}

func newTestSession(t *testing.T) (*Session, *fakeAvatarServer) {
	t.Helper()
	fake := &fakeAvatarServer{t: t}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := NewSession(Options{URL: wsURL, PersonaID: "aria"}, zerolog.Nop())
	t.Cleanup(func() { _ = s.Close() })
	return s, fake
}

func TestConnectIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if !s.Active() {
		t.Fatal("session should be active after Connect")
	}
}

func TestSpeakWaitsForSpeakEnded(t *testing.T) {
	s, fake := newTestSession(t)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Speak(ctx, "Hello, how can I help?"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if fake.talkCount() != 1 {
		t.Fatalf("expected 1 talk command, got %d", fake.talkCount())
	}
}

func TestSpeakFailsWhenNotConnected(t *testing.T) {
	s := NewSession(Options{URL: "ws://127.0.0.1:1"}, zerolog.Nop())
	if err := s.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("expected an error when not connected")
	}
}

func TestMessageEventsDelivered(t *testing.T) {
	s, fake := newTestSession(t)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	fake.push(map[string]any{
		"type": "message_stream_event", "id": "m1",
		"role": "assistant", "content": "Hello", "interrupted": false,
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type != EventMessage {
				continue
			}
			if ev.Message.ID != "m1" || ev.Message.Content != "Hello" {
				t.Fatalf("unexpected message event: %+v", ev.Message)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for message event")
		}
	}
}

func TestCloseIsIdempotentAndReconnectWorks(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.Active() {
		t.Fatal("session should be inactive after Close")
	}

	if err := s.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !s.Active() {
		t.Fatal("session should be active after Reconnect")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Speak(ctx, "still here"); err != nil {
		t.Fatalf("Speak after Reconnect: %v", err)
	}
}
