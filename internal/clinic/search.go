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

// SearchPlan is the rewritten query plus its category labels.
type SearchPlan struct {
	InformedQuery string   `json:"informed_query"`
	Categories    []string `json:"category"`
}

// SearchPlanner asks a model to rewrite a free-text query into an informed
// search query with category labels.
type SearchPlanner struct {
	llm    llm.Client
	models Models
	log    zerolog.Logger
}

// NewSearchPlanner constructs a SearchPlanner.
func NewSearchPlanner(client llm.Client, models Models, log zerolog.Logger) *SearchPlanner {
	return &SearchPlanner{
		llm:    client,
		models: models,
		log:    log.With().Str("component", "search_planner").Logger(),
	}
}

// Plan rewrites the query and filters the returned categories against the
// valid taxonomy. Unknown labels are dropped, not failed on.
func (p *SearchPlanner) Plan(ctx context.Context, query string) (SearchPlan, error) {
	prompt := strings.Replace(searchPlanPrompt, "{categories}", strings.Join(KnowledgeCategories, "\n"), 1)
	out, err := p.llm.Complete(ctx, llm.Request{
		Model: p.models.Classify,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: query},
		},
		Temperature: 0.2,
		JSONOutput:  true,
	})
	if err != nil {
		return SearchPlan{}, fmt.Errorf("search plan: %w", err)
	}

	var plan SearchPlan
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		return SearchPlan{}, fmt.Errorf("search plan: decode %q: %w", out, err)
	}
	if plan.InformedQuery == "" {
		plan.InformedQuery = query
	}

	valid := plan.Categories[:0]
	for _, c := range plan.Categories {
		for _, known := range KnowledgeCategories {
			if strings.EqualFold(c, known) {
				valid = append(valid, known)
				break
			}
		}
	}
	plan.Categories = valid
	return plan, nil
}

// KnowledgeIndex is the category-filtered similarity search the knowledge
// service depends on.
type KnowledgeIndex interface {
	SearchKnowledge(ctx context.Context, embedding []float32, categories []string, threshold float64, limit, offset int) ([]store.KnowledgeItem, error)
}

// KnowledgeSearch plans, embeds and runs a knowledge-base search.
type KnowledgeSearch struct {
	llm     llm.Client
	planner *SearchPlanner
	index   KnowledgeIndex
	models  Models
}

// NewKnowledgeSearch constructs a KnowledgeSearch.
func NewKnowledgeSearch(client llm.Client, planner *SearchPlanner, index KnowledgeIndex, models Models) *KnowledgeSearch {
	return &KnowledgeSearch{llm: client, planner: planner, index: index, models: models}
}

// Search runs the full pipeline: plan, embed the informed query, search.
func (s *KnowledgeSearch) Search(ctx context.Context, query string, limit, offset int) (SearchPlan, []store.KnowledgeItem, error) {
	plan, err := s.planner.Plan(ctx, query)
	if err != nil {
		return SearchPlan{}, nil, err
	}
	embedding, err := s.llm.Embed(ctx, s.models.Embedding, plan.InformedQuery)
	if err != nil {
		return plan, nil, fmt.Errorf("embed query: %w", err)
	}
	items, err := s.index.SearchKnowledge(ctx, embedding, plan.Categories, matchThreshold, limit, offset)
	if err != nil {
		return plan, nil, err
	}
	return plan, items, nil
}

// ClinicianDirectory is the browse query the physician search wraps.
type ClinicianDirectory interface {
	SearchClinicians(ctx context.Context, query, region string, limit, offset int) ([]store.Clinician, error)
}

// PhysicianSearch is the directory browse service.
type PhysicianSearch struct {
	dir ClinicianDirectory
}

// NewPhysicianSearch constructs a PhysicianSearch.
func NewPhysicianSearch(dir ClinicianDirectory) *PhysicianSearch {
	return &PhysicianSearch{dir: dir}
}

// Search proxies to the directory with clamped pagination.
func (s *PhysicianSearch) Search(ctx context.Context, query, region string, limit, offset int) ([]store.Clinician, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.dir.SearchClinicians(ctx, query, region, limit, offset)
}
