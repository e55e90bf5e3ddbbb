package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"anagami/internal/domain"
)

const promptColumns = `id,scope,language,kind,version,content,is_active,created_by,created_at`

func scanPrompt(row rowScanner) (domain.Prompt, error) {
	var p domain.Prompt
	var active int
	var createdBy sql.NullString
	err := row.Scan(&p.ID, &p.Scope, &p.Language, &p.Kind, &p.Version, &p.Content, &active, &createdBy, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	p.IsActive = active == 1
	p.CreatedBy = createdBy.String
	return p, err
}

// NextPromptVersion returns max(version)+1 within the prompt scope.
func (r Repo) NextPromptVersion(ctx context.Context, tx *sql.Tx, scope, language, kind string) (int, error) {
	var v int
	err := r.on(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0)+1 FROM prompts WHERE scope=? AND language=? AND kind=?`,
		normalizeScope(scope), language, kind).Scan(&v)
	return v, err
}

func (r Repo) InsertPrompt(ctx context.Context, tx *sql.Tx, p domain.Prompt) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO prompts(`+promptColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, normalizeScope(p.Scope), p.Language, p.Kind, p.Version, p.Content, boolInt(p.IsActive), nullable(p.CreatedBy), p.CreatedAt)
	return err
}

func (r Repo) GetPrompt(ctx context.Context, id string) (domain.Prompt, error) {
	return scanPrompt(r.DB.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id=?`, id))
}

func (r Repo) GetPromptTx(ctx context.Context, tx *sql.Tx, id string) (domain.Prompt, error) {
	return scanPrompt(tx.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id=?`, id))
}

// ActivePrompt returns the active prompt for the scope, highest version first.
func (r Repo) ActivePrompt(ctx context.Context, scope, language, kind string) (domain.Prompt, error) {
	return scanPrompt(r.DB.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts
WHERE scope=? AND language=? AND kind=? AND is_active=1 ORDER BY version DESC LIMIT 1`, normalizeScope(scope), language, kind))
}

type PromptFilters struct {
	Scope    string
	Language string
	Kind     string
}

func (r Repo) ListPrompts(ctx context.Context, f PromptFilters) ([]domain.Prompt, error) {
	var clauses []string
	var args []any
	if f.Scope != "" {
		clauses = append(clauses, "scope=?")
		args = append(args, normalizeScope(f.Scope))
	}
	if f.Language != "" {
		clauses = append(clauses, "language=?")
		args = append(args, f.Language)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+promptColumns+` FROM prompts `+where+` ORDER BY scope, language, kind, version DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountActivePrompts(ctx context.Context, scope, language, kind string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompts WHERE scope=? AND language=? AND kind=? AND is_active=1`,
		normalizeScope(scope), language, kind).Scan(&n)
	return n, err
}
