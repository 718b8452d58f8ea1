package clinic

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/DineshTeja/aria/internal/llm"
	"github.com/DineshTeja/aria/internal/transcript"
)

// Reporter compiles the conversation into a one-shot diagnostic report.
type Reporter struct {
	llm    llm.Client
	models Models
	log    zerolog.Logger
}

// NewReporter constructs a Reporter.
func NewReporter(client llm.Client, models Models, log zerolog.Logger) *Reporter {
	return &Reporter{
		llm:    client,
		models: models,
		log:    log.With().Str("component", "reporter").Logger(),
	}
}

// Compile turns the conversation history into a structured Markdown report.
// The standing disclaimer is always appended.
func (r *Reporter) Compile(ctx context.Context, history []transcript.Message) (string, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: reportSystemPrompt})
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == transcript.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: reportRequest})

	out, err := r.llm.Complete(ctx, llm.Request{
		Model:       r.models.Chat,
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   1500,
	})
	if err != nil {
		return "", fmt.Errorf("compile report: %w", err)
	}
	return out + "\n\n" + ReportDisclaimer, nil
}
