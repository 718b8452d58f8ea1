// Package classify issues the strict binary-decision model calls used to
// branch the turn state machine.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/DineshTeja/aria/internal/llm"
)

// ErrUnexpectedToken is returned when the model produces anything other than
// the two expected tokens. Callers branch on the boolean, so a malformed
// answer must fail loudly rather than default.
var ErrUnexpectedToken = errors.New("classifier returned unexpected token")

const photoNeedPrompt = `You are an AI medical assistant. Your task is to determine if a visual inspection would be beneficial for diagnosing the patient's condition based on their input and any previous picture analysis.

Instructions:
1. Analyze the patient's current description carefully.
2. Consider the previous picture analysis provided.
3. Determine if the previous picture analysis is still relevant to the current patient input.
4. If the previous picture analysis is no longer relevant to the current context, recommend taking a new picture.
5. Also recommend a new picture if the patient is describing a new or changed visible physical symptom on their outer body.
6. Assess whether a new visual inspection could provide valuable additional information for diagnosis.
7. Respond with a single character:
   - '0' if a new picture is NOT needed
   - '1' if a new picture IS needed for better assessment

Important: If the previous picture analysis is not relevant to the current patient input, this strongly indicates that a new picture (1) is needed. But if the previous picture analysis is even closely related to the current patient input, this indicates that a new picture is NOT needed (0).

Previous picture analysis: {previousPictureAnalysis}
Current patient input: {patientInput}

Response (0 or 1):`

const professionalRequestPrompt = `You are an AI medical assistant. Your task is to determine whether or not the user is explicitly requesting to see relevant medical professionals in their area.

Respond with a single character:
   - '0' if the user is NOT explicitly requesting to see relevant medical professionals in their area
   - '1' if the user is explicitly requesting to see relevant medical professionals in their area

Response (0 or 1):`

// Result carries both classification outcomes for one turn.
type Result struct {
	NeedsPhoto              bool
	RequestingProfessionals bool
}

// Completer is the single model operation the gateway needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Gateway wraps the two yes/no model calls.
type Gateway struct {
	llm   Completer
	model string
	log   zerolog.Logger
}

// NewGateway constructs a Gateway using the given classification model.
func NewGateway(client Completer, model string, log zerolog.Logger) *Gateway {
	return &Gateway{llm: client, model: model, log: log.With().Str("component", "classify").Logger()}
}

// PhotoNeed decides whether this turn should request a photo, given any
// previous photo analysis already on file.
func (g *Gateway) PhotoNeed(ctx context.Context, transcript, previousAnalysis string) (bool, error) {
	if previousAnalysis == "" {
		previousAnalysis = "none"
	}
	prompt := strings.NewReplacer(
		"{patientInput}", transcript,
		"{previousPictureAnalysis}", previousAnalysis,
	).Replace(photoNeedPrompt)

	out, err := g.llm.Complete(ctx, llm.Request{
		Model:     g.model,
		Messages:  []llm.Message{{Role: llm.RoleSystem, Content: prompt}},
		MaxTokens: 2,
		TopP:      1,
	})
	if err != nil {
		return false, fmt.Errorf("photo-need classification: %w", err)
	}
	return parseToken(out)
}

// ProfessionalRequest decides whether the user is explicitly asking to be
// connected with a clinician.
func (g *Gateway) ProfessionalRequest(ctx context.Context, transcript string) (bool, error) {
	out, err := g.llm.Complete(ctx, llm.Request{
		Model: g.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: professionalRequestPrompt},
			{Role: llm.RoleUser, Content: transcript},
		},
		MaxTokens: 2,
		TopP:      1,
	})
	if err != nil {
		return false, fmt.Errorf("professional-request classification: %w", err)
	}
	return parseToken(out)
}

// Evaluate issues both checks concurrently and waits for both.
func (g *Gateway) Evaluate(ctx context.Context, transcript, previousAnalysis string) (Result, error) {
	type outcome struct {
		value bool
		err   error
	}
	photoCh := make(chan outcome, 1)
	profCh := make(chan outcome, 1)

	go func() {
		v, err := g.PhotoNeed(ctx, transcript, previousAnalysis)
		photoCh <- outcome{v, err}
	}()
	go func() {
		v, err := g.ProfessionalRequest(ctx, transcript)
		profCh <- outcome{v, err}
	}()

	photo := <-photoCh
	prof := <-profCh
	if photo.err != nil {
		return Result{}, photo.err
	}
	if prof.err != nil {
		return Result{}, prof.err
	}
	g.log.Debug().Bool("needs_photo", photo.value).Bool("requesting_professionals", prof.value).Msg("classified turn")
	return Result{NeedsPhoto: photo.value, RequestingProfessionals: prof.value}, nil
}

func parseToken(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnexpectedToken, s)
	}
}
