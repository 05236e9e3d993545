package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDimensionMismatch is returned for embeddings of the wrong size
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// RuleRepository is the pgvector-backed style rule index
type RuleRepository struct {
	db  *pgxpool.Pool
	dim int
}

// NewRuleRepository creates a new rule repository for embeddings of size dim
func NewRuleRepository(db *pgxpool.Pool, dim int) *RuleRepository {
	return &RuleRepository{db: db, dim: dim}
}

// formatVector formats an embedding vector as a pgvector literal
func formatVector(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%.6f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// TriggerPattern builds the case-insensitive Postgres regex stored beside a
// trigger. Ends that are word characters get word boundaries so "art" does
// not match inside "start".
func TriggerPattern(trigger string) string {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		return ""
	}
	pattern := regexp.QuoteMeta(trigger)
	first, _ := utf8.DecodeRuneInString(trigger)
	if isWordRune(first) {
		pattern = `\m` + pattern
	}
	last, _ := utf8.DecodeLastRuneInString(trigger)
	if isWordRune(last) {
		pattern += `\M`
	}
	return pattern
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

const ruleColumns = `
	r.id, r.name, r.guideline, COALESCE(r.url, ''), COALESCE(r.rule_type, ''), r.tags,
	COALESCE(array_agg(t.trigger ORDER BY t.trigger) FILTER (WHERE t.trigger IS NOT NULL), '{}')`

func scanRule(row pgx.Row, extra ...any) (models.Rule, error) {
	var rule models.Rule
	dest := append([]any{
		&rule.ID,
		&rule.Name,
		&rule.Guideline,
		&rule.URL,
		&rule.RuleType,
		&rule.Tags,
		&rule.Triggers,
	}, extra...)
	err := row.Scan(dest...)
	return rule, err
}

// VectorSearch returns the k rules nearest to embedding by cosine distance.
// Score is the cosine similarity.
func (r *RuleRepository) VectorSearch(ctx context.Context, embedding []float32, k int) ([]models.ScoredRule, error) {
	if len(embedding) != r.dim {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, r.dim, len(embedding))
	}

	query := `
		SELECT ` + ruleColumns + `,
			1 - (r.embedding <=> $1::vector) AS similarity
		FROM style_rules r
		LEFT JOIN rule_triggers t ON t.rule_id = r.id
		WHERE r.embedding IS NOT NULL
		GROUP BY r.id
		ORDER BY r.embedding <=> $1::vector
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, formatVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query style rules: %w", err)
	}
	defer rows.Close()

	var hits []models.ScoredRule
	for rows.Next() {
		var score float64
		rule, err := scanRule(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("failed to scan style rule: %w", err)
		}
		hits = append(hits, models.ScoredRule{Rule: rule, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating style rules: %w", err)
	}
	return hits, nil
}

// KeywordSearch returns rules with a trigger term occurring in text as a whole
// word or phrase, or equal
// to one of terms, plus rules whose full-text index matches a term as a phrase.
func (r *RuleRepository) KeywordSearch(ctx context.Context, text string, terms []string) ([]models.Rule, error) {
	if terms == nil {
		terms = []string{}
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM style_rules r
		LEFT JOIN rule_triggers t ON t.rule_id = r.id
		WHERE r.id IN (
			SELECT rt.rule_id FROM rule_triggers rt
			WHERE $1 ~* rt.pattern
				OR lower(rt.trigger) = ANY(SELECT lower(x) FROM unnest($2::text[]) AS x)
			UNION
			SELECT sr.id FROM style_rules sr
			WHERE EXISTS (
				SELECT 1 FROM unnest($2::text[]) AS term
				WHERE sr.search_vector @@ phraseto_tsquery('english', term)
			)
		)
		GROUP BY r.id
		ORDER BY r.id`

	rows, err := r.db.Query(ctx, query, text, terms)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule triggers: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan style rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating style rules: %w", err)
	}
	return rules, nil
}

// GetByID retrieves a rule by id
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*models.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM style_rules r
		LEFT JOIN rule_triggers t ON t.rule_id = r.id
		WHERE r.id = $1
		GROUP BY r.id`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get style rule: %w", err)
	}
	return &rule, nil
}

// Count returns the number of indexed rules
func (r *RuleRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM style_rules").Scan(&n)
	return n, err
}

// UpsertBatch stores rules with their embeddings and replaces their triggers
// in one transaction. embeddings[i] belongs to rules[i].
func (r *RuleRepository) UpsertBatch(ctx context.Context, rules []models.Rule, embeddings [][]float32) error {
	if len(rules) != len(embeddings) {
		return fmt.Errorf("got %d embeddings for %d rules", len(embeddings), len(rules))
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, rule := range rules {
		if len(embeddings[i]) != r.dim {
			return fmt.Errorf("rule %s: %w: want %d, got %d", rule.ID, ErrDimensionMismatch, r.dim, len(embeddings[i]))
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO style_rules (id, name, guideline, url, rule_type, tags, embedding)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7::vector)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				guideline = EXCLUDED.guideline,
				url = EXCLUDED.url,
				rule_type = EXCLUDED.rule_type,
				tags = EXCLUDED.tags,
				embedding = EXCLUDED.embedding,
				updated_at = NOW()`,
			rule.ID, rule.Name, rule.Guideline, rule.URL, rule.RuleType, nonNil(rule.Tags), formatVector(embeddings[i]),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert rule %s: %w", rule.ID, err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM rule_triggers WHERE rule_id = $1", rule.ID); err != nil {
			return fmt.Errorf("failed to clear triggers for %s: %w", rule.ID, err)
		}
		for _, trigger := range rule.Triggers {
			trigger = strings.TrimSpace(trigger)
			if trigger == "" {
				continue
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO rule_triggers (rule_id, trigger, pattern) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
				rule.ID, trigger, TriggerPattern(trigger),
			)
			if err != nil {
				return fmt.Errorf("failed to insert trigger %q for %s: %w", trigger, rule.ID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
