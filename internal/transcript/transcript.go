package transcript

import (
	"strings"
	"sync"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation transcript. Assistant messages
// carry the stream event ID they originated from so incremental deltas of the
// same utterance can be coalesced.
type Message struct {
	ID          string `json:"id,omitempty"`
	Role        Role   `json:"role"`
	Content     string `json:"content"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// Accumulator buffers speech-to-text fragments into an ordered transcript.
// It is safe for concurrent use; reads see a consistent snapshot while
// appends are in flight.
type Accumulator struct {
	mu       sync.Mutex
	messages []Message
}

// NewAccumulator creates an empty transcript buffer.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append adds a fragment to the transcript. An assistant fragment whose ID
// matches the last stored message extends that message in place, unless the
// fragment content is already a suffix of it (the upstream service re-delivers
// overlapping deltas on resync).
func (a *Accumulator) Append(msg Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if msg.Role == RoleAssistant && msg.ID != "" && len(a.messages) > 0 {
		last := &a.messages[len(a.messages)-1]
		if last.Role == RoleAssistant && last.ID == msg.ID {
			if !strings.HasSuffix(last.Content, msg.Content) {
				last.Content += msg.Content
			}
			if msg.Interrupted {
				last.Interrupted = true
			}
			return
		}
	}
	a.messages = append(a.messages, msg)
}

// ReplaceAll swaps the buffer wholesale. Used when the upstream collaborator
// delivers a full history resync.
func (a *Accumulator) ReplaceAll(messages []Message) {
	cp := make([]Message, len(messages))
	copy(cp, messages)
	a.mu.Lock()
	a.messages = cp
	a.mu.Unlock()
}

// Snapshot returns a copy of the ordered message sequence.
func (a *Accumulator) Snapshot() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]Message, len(a.messages))
	copy(cp, a.messages)
	return cp
}

// Text returns the full ordered concatenation of message contents, one line
// per message. This is the form handed to every downstream model call.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var b strings.Builder
	for i, m := range a.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// Len reports the number of buffered messages.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

// Reset clears the buffer at a session boundary.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.messages = nil
	a.mu.Unlock()
}

// LastAssistantInterrupted reports whether the most recent assistant message
// was cut off by the user talking over it.
func (a *Accumulator) LastAssistantInterrupted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].Role == RoleAssistant {
			return a.messages[i].Interrupted
		}
	}
	return false
}
