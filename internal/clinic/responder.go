// Package clinic implements the server-side pipeline services: response
// generation, clinician location, report compilation, image analysis and
// knowledge search.
package clinic

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/DineshTeja/aria/internal/llm"
	"github.com/DineshTeja/aria/internal/store"
)

// Models names the models the pipeline services use.
type Models struct {
	Chat       string
	Classify   string
	Specialist string
	Vision     string
	Embedding  string
}

// KnowledgeSearcher is the similarity-search operation the responder needs.
type KnowledgeSearcher interface {
	MatchDocuments(ctx context.Context, embedding []float32, threshold float64, count int) ([]store.KnowledgeItem, error)
}

// Response is the outcome of one generation cycle.
type Response struct {
	Answer       string
	Articles     []store.KnowledgeItem
	HasDiagnosis bool
}

const (
	matchThreshold = 0.5
	matchCount     = 5
)

// Responder assembles the multi-source prompt and requests the final reply.
type Responder struct {
	llm    llm.Client
	search KnowledgeSearcher // nil disables knowledge enrichment
	models Models
	log    zerolog.Logger
}

// NewResponder constructs a Responder. search may be nil.
func NewResponder(client llm.Client, search KnowledgeSearcher, models Models, log zerolog.Logger) *Responder {
	return &Responder{
		llm:    client,
		search: search,
		models: models,
		log:    log.With().Str("component", "responder").Logger(),
	}
}

// Respond runs the full pipeline and returns the whole reply at once.
func (r *Responder) Respond(ctx context.Context, transcript, photoAnalysis string) (Response, error) {
	return r.respond(ctx, transcript, photoAnalysis, nil)
}

// RespondStream runs the same pipeline but forwards reply chunks to onChunk
// as they arrive. The returned Response carries the concatenated text.
func (r *Responder) RespondStream(ctx context.Context, transcript, photoAnalysis string, onChunk func(string)) (Response, error) {
	return r.respond(ctx, transcript, photoAnalysis, onChunk)
}

func (r *Responder) respond(ctx context.Context, transcript, photoAnalysis string, onChunk func(string)) (Response, error) {
	opinion, err := r.specialistOpinion(ctx, transcript)
	if err != nil {
		return Response{}, err
	}

	articles := r.fetchKnowledge(ctx, opinion)

	var user strings.Builder
	fmt.Fprintf(&user, "Patient input: %s", transcript)
	fmt.Fprintf(&user, "\n\nAdditional information from specialized medical model: %s", opinion)
	if photoAnalysis != "" {
		fmt.Fprintf(&user, "\n\nHere is a description of a picture of the condition: %s", photoAnalysis)
	}
	if len(articles) > 0 {
		user.WriteString("\n\nSupporting medical knowledge:")
		for _, a := range articles {
			fmt.Fprintf(&user, "\n- %s: %s", a.Tag, a.Summary)
		}
	}

	req := llm.Request{
		Model: r.models.Chat,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: responderSystemPrompt},
			{Role: llm.RoleUser, Content: user.String()},
		},
		Temperature: 0.7,
		MaxTokens:   1000,
	}

	var full string
	if onChunk != nil {
		full, err = r.llm.Stream(ctx, req, onChunk)
	} else {
		full, err = r.llm.Complete(ctx, req)
	}
	if err != nil {
		return Response{}, fmt.Errorf("generate reply: %w", err)
	}

	hasDiagnosis := strings.Contains(full, DiagnosisTag)
	return Response{
		Answer:       stripSentinels(full),
		Articles:     articles,
		HasDiagnosis: hasDiagnosis,
	}, nil
}

// specialistOpinion is the narrower, independent model call summarizing the
// symptoms without conversational framing.
func (r *Responder) specialistOpinion(ctx context.Context, transcript string) (string, error) {
	out, err := r.llm.Complete(ctx, llm.Request{
		Model: r.models.Specialist,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: specialistSystemPrompt},
			{Role: llm.RoleUser, Content: "Provide medical analysis for these symptoms: " + transcript},
		},
		Temperature: 0.5,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("specialist opinion: %w", err)
	}
	return out, nil
}

// fetchKnowledge looks up supporting excerpts for the specialist opinion.
// Retrieval failures degrade to an empty result so the turn still completes.
func (r *Responder) fetchKnowledge(ctx context.Context, opinion string) []store.KnowledgeItem {
	if r.search == nil || opinion == "" {
		return nil
	}
	embedding, err := r.llm.Embed(ctx, r.models.Embedding, opinion)
	if err != nil {
		r.log.Warn().Err(err).Msg("embedding failed, skipping knowledge enrichment")
		return nil
	}
	items, err := r.search.MatchDocuments(ctx, embedding, matchThreshold, matchCount)
	if err != nil {
		r.log.Warn().Err(err).Msg("knowledge search failed, continuing without excerpts")
		return nil
	}
	return items
}

// BuildGraph summarizes article texts into a Mermaid flow chart. A model
// clean-up pass is attempted; its failure falls back to the unprocessed
// graph rather than failing the call.
func (r *Responder) BuildGraph(ctx context.Context, articles []string) (string, error) {
	raw, err := r.llm.Complete(ctx, llm.Request{
		Model: r.models.Specialist,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: graphExtractPrompt},
			{Role: llm.RoleUser, Content: strings.Join(articles, "\n")},
		},
		Temperature: 0.2,
		MaxTokens:   800,
	})
	if err != nil {
		return "", fmt.Errorf("graph extraction: %w", err)
	}

	graph := mermaidFromRelations(raw)

	fixed, err := r.llm.Complete(ctx, llm.Request{
		Model: r.models.Chat,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: graphFixPrompt},
			{Role: llm.RoleUser, Content: graph},
		},
		Temperature: 0.7,
		MaxTokens:   1500,
	})
	if err != nil || strings.TrimSpace(fixed) == "" {
		r.log.Warn().Err(err).Msg("mermaid clean-up failed, returning raw graph")
		return graph, nil
	}
	return fixed, nil
}

// mermaidFromRelations converts "A|rel|B" lines into a graph TD definition.
func mermaidFromRelations(raw string) string {
	var edges []string
	for _, line := range strings.Split(raw, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
		if len(parts) != 3 {
			continue
		}
		src := nodeID(parts[0])
		rel := strings.ToLower(strings.TrimSpace(parts[1]))
		dst := nodeID(parts[2])
		if src == "" || dst == "" {
			continue
		}
		edges = append(edges, fmt.Sprintf("%s --> |%s| %s", src, rel, dst))
	}
	return "graph TD " + strings.Join(edges, " ")
}

func nodeID(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
}

func stripSentinels(s string) string {
	s = strings.ReplaceAll(s, DiagnosisTag, "")
	s = strings.ReplaceAll(s, MoreInfoTag, "")
	return strings.TrimSpace(s)
}
