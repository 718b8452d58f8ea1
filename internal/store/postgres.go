// Package store implements the knowledge-base and clinician-directory
// repository over Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Clinician is a read-only directory record. Link is the unique key used for
// deduplication.
type Clinician struct {
	Name      string `json:"name"`
	Specialty string `json:"speciality"`
	Locality  string `json:"locality"`
	Region    string `json:"region"`
	Link      string `json:"link"`
}

// KnowledgeItem is a ranked knowledge-base record returned by similarity
// search.
type KnowledgeItem struct {
	Tag        string  `json:"tag"`
	Category   string  `json:"category"`
	Summary    string  `json:"summary"`
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
}

// Repository wraps the database handle.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// vectorLiteral renders an embedding as a pgvector input literal.
func vectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// MatchDocuments runs the similarity search function over the knowledge base.
func (r *Repository) MatchDocuments(ctx context.Context, embedding []float32, threshold float64, count int) ([]KnowledgeItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tag, category, summary, url, similarity
		   FROM match_documents($1::vector, $2, $3)`,
		vectorLiteral(embedding), threshold, count)
	if err != nil {
		return nil, fmt.Errorf("match_documents: %w", err)
	}
	defer rows.Close()
	return scanKnowledge(rows)
}

// SearchKnowledge runs the similarity search restricted to the given
// categories, with pagination. An empty category list means no filter.
func (r *Repository) SearchKnowledge(ctx context.Context, embedding []float32, categories []string, threshold float64, limit, offset int) ([]KnowledgeItem, error) {
	query := `SELECT tag, category, summary, url, similarity
	            FROM match_documents($1::vector, $2, $3)`
	args := []any{vectorLiteral(embedding), threshold, limit + offset}
	if len(categories) > 0 {
		query += ` WHERE category = ANY($4)`
		args = append(args, pq.Array(categories))
	}
	query += fmt.Sprintf(` ORDER BY similarity DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	defer rows.Close()
	return scanKnowledge(rows)
}

func scanKnowledge(rows *sql.Rows) ([]KnowledgeItem, error) {
	var items []KnowledgeItem
	for rows.Next() {
		var it KnowledgeItem
		var url sql.NullString
		if err := rows.Scan(&it.Tag, &it.Category, &it.Summary, &url, &it.Similarity); err != nil {
			return nil, err
		}
		it.URL = url.String
		items = append(items, it)
	}
	return items, rows.Err()
}

// FindClinicians queries the directory by specialty and region, optionally
// scoped to an exact locality.
func (r *Repository) FindClinicians(ctx context.Context, specialty, locality, region string, limit int) ([]Clinician, error) {
	query := `SELECT name, speciality, locality, region, link
	            FROM new_doctors
	           WHERE speciality = $1 AND region = $2`
	args := []any{specialty, region}
	if locality != "" {
		query += ` AND locality = $3`
		args = append(args, locality)
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clinician lookup: %w", err)
	}
	defer rows.Close()
	return scanClinicians(rows)
}

// SearchClinicians is the directory browse query: case-insensitive match on
// name or specialty, optional region filter, stable ordering, pagination.
func (r *Repository) SearchClinicians(ctx context.Context, query, region string, limit, offset int) ([]Clinician, error) {
	sqlQuery := `SELECT name, speciality, locality, region, link
	               FROM new_doctors
	              WHERE (name ILIKE $1 OR speciality ILIKE $1)`
	args := []any{"%" + query + "%"}
	if region != "" {
		sqlQuery += ` AND region = $2`
		args = append(args, region)
	}
	sqlQuery += fmt.Sprintf(` ORDER BY name LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("clinician search: %w", err)
	}
	defer rows.Close()
	return scanClinicians(rows)
}

func scanClinicians(rows *sql.Rows) ([]Clinician, error) {
	var out []Clinician
	for rows.Next() {
		var c Clinician
		if err := rows.Scan(&c.Name, &c.Specialty, &c.Locality, &c.Region, &c.Link); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
