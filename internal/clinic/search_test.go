package clinic

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/DineshTeja/aria/internal/llm"
	"github.com/DineshTeja/aria/internal/store"
)

type fakeIndex struct {
	categories []string
	limit      int
	offset     int
	items      []store.KnowledgeItem
}

func (i *fakeIndex) SearchKnowledge(_ context.Context, _ []float32, categories []string, _ float64, limit, offset int) ([]store.KnowledgeItem, error) {
	i.categories = categories
	i.limit = limit
	i.offset = offset
	return i.items, nil
}

func TestPlanFiltersUnknownCategories(t *testing.T) {
	client := &fakeLLM{complete: func(req llm.Request) (string, error) {
		return `{"informed_query":"chest pain differential diagnosis","category":["Cardiovascular","Astrology","respiratory"]}`, nil
	}}
	p := NewSearchPlanner(client, Models{}, zerolog.Nop())

	plan, err := p.Plan(context.Background(), "my chest hurts")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.InformedQuery != "chest pain differential diagnosis" {
		t.Fatalf("unexpected informed query: %q", plan.InformedQuery)
	}
	if len(plan.Categories) != 2 || plan.Categories[0] != "Cardiovascular" || plan.Categories[1] != "Respiratory" {
		t.Fatalf("category filtering wrong: %+v", plan.Categories)
	}
}

func TestPlanFallsBackToOriginalQuery(t *testing.T) {
	client := &fakeLLM{complete: func(req llm.Request) (string, error) {
		return `{"informed_query":"","category":[]}`, nil
	}}
	p := NewSearchPlanner(client, Models{}, zerolog.Nop())

	plan, err := p.Plan(context.Background(), "my chest hurts")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.InformedQuery != "my chest hurts" {
		t.Fatalf("empty informed query should fall back to the input, got %q", plan.InformedQuery)
	}
}

func TestKnowledgeSearchPipeline(t *testing.T) {
	client := &fakeLLM{
		complete: func(req llm.Request) (string, error) {
			return `{"informed_query":"persistent cough causes","category":["Respiratory"]}`, nil
		},
		embed: func(model, input string) ([]float32, error) {
			if input != "persistent cough causes" {
				t.Fatalf("should embed the informed query, got %q", input)
			}
			return []float32{0.1}, nil
		},
	}
	index := &fakeIndex{items: []store.KnowledgeItem{{Tag: "cough"}}}
	s := NewKnowledgeSearch(client, NewSearchPlanner(client, Models{}, zerolog.Nop()), index, Models{})

	plan, items, err := s.Search(context.Background(), "I keep coughing", 5, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected the index results, got %+v", items)
	}
	if len(plan.Categories) != 1 || index.categories[0] != "Respiratory" {
		t.Fatalf("categories not forwarded: %+v", index.categories)
	}
	if index.limit != 5 || index.offset != 10 {
		t.Fatalf("pagination not forwarded: limit=%d offset=%d", index.limit, index.offset)
	}
}

type fakeBrowse struct {
	limit, offset int
}

func (b *fakeBrowse) SearchClinicians(_ context.Context, _, _ string, limit, offset int) ([]store.Clinician, error) {
	b.limit, b.offset = limit, offset
	return nil, nil
}

func TestPhysicianSearchClampsPagination(t *testing.T) {
	dir := &fakeBrowse{}
	s := NewPhysicianSearch(dir)

	if _, err := s.Search(context.Background(), "derm", "", 500, -3); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if dir.limit != 20 || dir.offset != 0 {
		t.Fatalf("pagination not clamped: limit=%d offset=%d", dir.limit, dir.offset)
	}
}
