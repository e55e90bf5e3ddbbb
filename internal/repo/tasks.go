package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"anagami/internal/domain"
)

const taskColumns = `id,module,language,input_text,company,industry,budget,timeline,status,created_by,approved_by,approved_at,created_at,updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var company, industry, budget, timeline, approvedBy, approvedAt sql.NullString
	err := row.Scan(&t.ID, &t.Module, &t.Language, &t.InputText, &company, &industry, &budget, &timeline,
		&t.Status, &t.CreatedBy, &approvedBy, &approvedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Company = company.String
	t.Industry = industry.String
	t.Budget = budget.String
	t.Timeline = timeline.String
	t.ApprovedBy = stringPtr(approvedBy)
	t.ApprovedAt = stringPtr(approvedAt)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Module, t.Language, t.InputText, nullable(t.Company), nullable(t.Industry), nullable(t.Budget), nullable(t.Timeline),
		t.Status, t.CreatedBy, nullableStringPtr(t.ApprovedBy), nullableStringPtr(t.ApprovedAt), t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTaskStatus writes status and approval stamp together so the
// approved_by/status check constraint always sees a consistent row.
func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, approved_by=?, approved_at=?, updated_at=? WHERE id=?`,
		t.Status, nullableStringPtr(t.ApprovedBy), nullableStringPtr(t.ApprovedAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) TouchTask(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at=? WHERE id=?`, updatedAt, id)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	Module          string
	Status          string
	CreatedBy       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Module != "" {
		clauses = append(clauses, "module=?")
		args = append(args, f.Module)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limitOr(f.Limit, 50))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpsertSectionDraft writes the model draft for one section, leaving content_final untouched.
func (r Repo) UpsertSectionDraft(ctx context.Context, tx *sql.Tx, s domain.TaskSection) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_sections(task_id,section_type,position,content_draft,content_final,updated_at) VALUES (?,?,?,?,NULL,?)
ON CONFLICT(task_id, section_type) DO UPDATE SET content_draft=excluded.content_draft, position=excluded.position, updated_at=excluded.updated_at`,
		s.TaskID, s.SectionType, s.Position, s.ContentDraft, s.UpdatedAt)
	return err
}

// UpsertSectionFinal writes the human-edited final for one section, leaving content_draft untouched.
func (r Repo) UpsertSectionFinal(ctx context.Context, tx *sql.Tx, s domain.TaskSection) error {
	final := ""
	if s.ContentFinal != nil {
		final = *s.ContentFinal
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO task_sections(task_id,section_type,position,content_draft,content_final,updated_at) VALUES (?,?,?,'',?,?)
ON CONFLICT(task_id, section_type) DO UPDATE SET content_final=excluded.content_final, updated_at=excluded.updated_at`,
		s.TaskID, s.SectionType, s.Position, final, s.UpdatedAt)
	return err
}

func (r Repo) ListSections(ctx context.Context, taskID string) ([]domain.TaskSection, error) {
	return r.listSections(ctx, r.DB, taskID)
}

func (r Repo) ListSectionsTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.TaskSection, error) {
	return r.listSections(ctx, tx, taskID)
}

func (r Repo) listSections(ctx context.Context, q querier, taskID string) ([]domain.TaskSection, error) {
	rows, err := q.QueryContext(ctx, `SELECT task_id,section_type,position,content_draft,content_final,updated_at FROM task_sections WHERE task_id=? ORDER BY position, section_type`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskSection
	for rows.Next() {
		var s domain.TaskSection
		var final sql.NullString
		if err := rows.Scan(&s.TaskID, &s.SectionType, &s.Position, &s.ContentDraft, &final, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.ContentFinal = stringPtr(final)
		res = append(res, s)
	}
	return res, rows.Err()
}
