package clinic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/DineshTeja/aria/internal/llm"
	"github.com/DineshTeja/aria/internal/store"
)

// Patient carries the locale details the directory queries are scoped by.
type Patient struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth string `json:"dateOfBirth"`
	Gender      string `json:"gender"`
	Locality    string `json:"locality"`
	Region      string `json:"region"`
}

// Directory is the clinician lookup the locator depends on.
type Directory interface {
	FindClinicians(ctx context.Context, specialty, locality, region string, limit int) ([]store.Clinician, error)
}

// Located is the locator's result: a spoken recommendation plus the records
// behind it.
type Located struct {
	Message    string
	Clinicians []store.Clinician
}

const maxClinicians = 10

// Locator classifies the required specialty and queries the directory.
type Locator struct {
	llm    llm.Client
	dir    Directory // nil disables directory lookup
	models Models
	log    zerolog.Logger
}

// NewLocator constructs a Locator. dir may be nil.
func NewLocator(client llm.Client, dir Directory, models Models, log zerolog.Logger) *Locator {
	return &Locator{
		llm:    client,
		dir:    dir,
		models: models,
		log:    log.With().Str("component", "locator").Logger(),
	}
}

// Locate finds clinicians for the patient's complaint. If clinicians are
// already cached for the session it short-circuits and returns them
// unchanged.
func (l *Locator) Locate(ctx context.Context, transcript string, patient Patient, known []store.Clinician) (Located, error) {
	if len(known) > 0 {
		return Located{Message: CachedCliniciansMessage, Clinicians: known}, nil
	}

	specialty, err := l.classifySpecialty(ctx, transcript)
	if err != nil {
		return Located{}, err
	}
	l.log.Debug().Str("specialty", specialty).Msg("classified required specialty")

	// Two scoped queries: exact locality+region first, then region only.
	// Directory failures degrade to an empty list (the conversation goes on
	// without the enrichment).
	local := l.query(ctx, specialty, patient.Locality, patient.Region)
	regional := l.query(ctx, specialty, "", patient.Region)

	clinicians := MergeClinicians(local, regional, maxClinicians)

	message, err := l.recommend(ctx, transcript, clinicians)
	if err != nil {
		return Located{}, err
	}
	return Located{Message: message, Clinicians: clinicians}, nil
}

func (l *Locator) query(ctx context.Context, specialty, locality, region string) []store.Clinician {
	if l.dir == nil {
		return nil
	}
	out, err := l.dir.FindClinicians(ctx, specialty, locality, region, maxClinicians)
	if err != nil {
		l.log.Warn().Err(err).Str("locality", locality).Msg("directory query failed")
		return nil
	}
	return out
}

// classifySpecialty picks one entry from the fixed taxonomy. Any answer
// outside the taxonomy is a contract violation, not a guess to be accepted.
func (l *Locator) classifySpecialty(ctx context.Context, transcript string) (string, error) {
	prompt := strings.Replace(specialtySystemPrompt, "{specialties}", strings.Join(Specialties, "\n"), 1)
	out, err := l.llm.Complete(ctx, llm.Request{
		Model: l.models.Classify,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: transcript},
		},
		MaxTokens: 16,
	})
	if err != nil {
		return "", fmt.Errorf("specialty classification: %w", err)
	}
	candidate := strings.TrimSpace(out)
	for _, s := range Specialties {
		if strings.EqualFold(candidate, s) {
			return s, nil
		}
	}
	return "", fmt.Errorf("specialty classification: %q is not in the taxonomy", candidate)
}

func (l *Locator) recommend(ctx context.Context, transcript string, clinicians []store.Clinician) (string, error) {
	doctorsJSON, err := json.Marshal(clinicians)
	if err != nil {
		return "", err
	}
	prompt := strings.NewReplacer(
		"{patientInput}", transcript,
		"{doctors}", string(doctorsJSON),
	).Replace(recommendPrompt)

	out, err := l.llm.Complete(ctx, llm.Request{
		Model:       l.models.Chat,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("clinician recommendation: %w", err)
	}
	return out, nil
}

// MergeClinicians concatenates the result sets, removes duplicate links
// keeping first-seen ordering, and truncates to limit.
func MergeClinicians(primary, secondary []store.Clinician, limit int) []store.Clinician {
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	merged := make([]store.Clinician, 0, limit)
	for _, list := range [][]store.Clinician{primary, secondary} {
		for _, c := range list {
			if _, dup := seen[c.Link]; dup {
				continue
			}
			seen[c.Link] = struct{}{}
			merged = append(merged, c)
			if len(merged) == limit {
				return merged
			}
		}
	}
	return merged
}
