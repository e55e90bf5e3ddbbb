package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"anagami/internal/domain"
)

const knowledgeColumns = `id,scope,language,title,body,tags,created_at,updated_at`

func scanKnowledge(row rowScanner) (domain.KnowledgeSnippet, error) {
	var k domain.KnowledgeSnippet
	err := row.Scan(&k.ID, &k.Scope, &k.Language, &k.Title, &k.Body, &k.Tags, &k.CreatedAt, &k.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return k, ErrNotFound
	}
	return k, err
}

func (r Repo) InsertKnowledge(ctx context.Context, tx *sql.Tx, k domain.KnowledgeSnippet) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO knowledge_snippets(`+knowledgeColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		k.ID, normalizeScope(k.Scope), k.Language, k.Title, k.Body, k.Tags, k.CreatedAt, k.UpdatedAt)
	return err
}

func (r Repo) UpdateKnowledge(ctx context.Context, tx *sql.Tx, k domain.KnowledgeSnippet) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE knowledge_snippets SET title=?, body=?, tags=?, language=?, updated_at=? WHERE id=?`,
		k.Title, k.Body, k.Tags, k.Language, k.UpdatedAt, k.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteKnowledge(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM knowledge_snippets WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetKnowledge(ctx context.Context, id string) (domain.KnowledgeSnippet, error) {
	return scanKnowledge(r.DB.QueryRowContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_snippets WHERE id=?`, id))
}

// ListKnowledge returns the newest snippets for the scope, optionally narrowed by language.
func (r Repo) ListKnowledge(ctx context.Context, scope, language string, limit int) ([]domain.KnowledgeSnippet, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_snippets WHERE scope=?`
	args := []any{normalizeScope(scope)}
	if language != "" {
		query += ` AND language=?`
		args = append(args, language)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limitOr(limit, 100))
	return r.queryKnowledge(ctx, query, args...)
}

// SearchKnowledge returns the newest snippets whose tags contain any of the
// tokens, compared case-insensitively. Tokens must already be lowercased.
func (r Repo) SearchKnowledge(ctx context.Context, scope, language string, tokens []string, limit int) ([]domain.KnowledgeSnippet, error) {
	if len(tokens) == 0 {
		return r.ListKnowledge(ctx, scope, language, limit)
	}
	match := make([]string, 0, len(tokens))
	args := []any{normalizeScope(scope), language}
	for _, tok := range tokens {
		match = append(match, `LOWER(tags) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(tok)+"%")
	}
	args = append(args, limitOr(limit, 5))
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_snippets WHERE scope=? AND language=? AND (` +
		strings.Join(match, " OR ") + `) ORDER BY created_at DESC, rowid DESC LIMIT ?`
	return r.queryKnowledge(ctx, query, args...)
}

func (r Repo) queryKnowledge(ctx context.Context, query string, args ...any) ([]domain.KnowledgeSnippet, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.KnowledgeSnippet
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

const templateColumns = `id,scope,language,name,body,is_active,created_at,updated_at`

func scanTemplate(row rowScanner) (domain.Template, error) {
	var t domain.Template
	var active int
	err := row.Scan(&t.ID, &t.Scope, &t.Language, &t.Name, &t.Body, &active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	t.IsActive = active == 1
	return t, err
}

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO templates(`+templateColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, normalizeScope(t.Scope), t.Language, t.Name, t.Body, boolInt(t.IsActive), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE templates SET name=?, body=?, language=?, is_active=?, updated_at=? WHERE id=?`,
		t.Name, t.Body, t.Language, boolInt(t.IsActive), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteTemplate(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return scanTemplate(r.DB.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=?`, id))
}

// ListTemplates returns templates for the scope, newest first.
func (r Repo) ListTemplates(ctx context.Context, scope, language string, activeOnly bool, limit int) ([]domain.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE scope=?`
	args := []any{normalizeScope(scope)}
	if language != "" {
		query += ` AND language=?`
		args = append(args, language)
	}
	if activeOnly {
		query += ` AND is_active=1`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limitOr(limit, 100))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

const ruleColumns = `id,scope,service,min_price,max_price,currency,notes,created_at`

func (r Repo) InsertPricingRule(ctx context.Context, tx *sql.Tx, pr domain.PricingRule) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO pricing_rules(`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		pr.ID, normalizeScope(pr.Scope), pr.Service, pr.MinPrice, pr.MaxPrice, pr.Currency, pr.Notes, pr.CreatedAt)
	return err
}

func (r Repo) DeletePricingRule(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM pricing_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// ListPricingRules returns the newest rules for the scope.
func (r Repo) ListPricingRules(ctx context.Context, scope string, limit int) ([]domain.PricingRule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM pricing_rules WHERE scope=? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		normalizeScope(scope), limitOr(limit, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PricingRule
	for rows.Next() {
		var pr domain.PricingRule
		if err := rows.Scan(&pr.ID, &pr.Scope, &pr.Service, &pr.MinPrice, &pr.MaxPrice, &pr.Currency, &pr.Notes, &pr.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, pr)
	}
	return res, rows.Err()
}
