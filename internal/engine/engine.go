package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"anagami/internal/config"
	"anagami/internal/domain"
	"anagami/internal/engine/auth"
	"anagami/internal/events"
	"anagami/internal/generation"
	"anagami/internal/platform/logger"
	"anagami/internal/pricing"
	"anagami/internal/repo"
)

const maxTaskInput = 8000

// Generator produces section drafts for a task.
type Generator interface {
	Generate(ctx context.Context, in generation.Input) (generation.Output, error)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Auth      auth.Service
	Catalog   *config.Catalog
	Generator Generator
	Pricing   pricing.Service
	Log       *logger.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cat *config.Catalog, gen Generator) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Auth:      auth.Service{DB: db},
		Catalog:   cat,
		Generator: gen,
		Pricing:   pricing.Service{Repo: r},
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) audit(ctx context.Context, tx *sql.Tx, evtType, kind, id, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, kind, id, actorID, payload)
}

// ValidationError is a caller-correctable input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// ConflictError reports an operation that is not allowed in the entity's current state.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func normalizeLanguage(lang string) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch lang {
	case "":
		return "bg", nil
	case "bg", "en":
		return lang, nil
	}
	return "", invalid("language", "invalid language %q", lang)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Module    string
	Language  string
	InputText string
	Company   string
	Industry  string
	Budget    string
	Timeline  string
	ActorID   string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	m, ok := e.Catalog.Module(strings.TrimSpace(opts.Module))
	if !ok || m.Internal {
		return domain.Task{}, invalid("module", "invalid module %q", opts.Module)
	}
	input := strings.TrimSpace(opts.InputText)
	if input == "" {
		return domain.Task{}, invalid("input_text", "input_text is required")
	}
	if utf8.RuneCountInString(input) > maxTaskInput {
		return domain.Task{}, invalid("input_text", "input_text exceeds %d characters", maxTaskInput)
	}
	lang, err := normalizeLanguage(opts.Language)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	t := domain.Task{
		ID:        uuid.NewString(),
		Module:    m.Code,
		Language:  lang,
		InputText: input,
		Company:   strings.TrimSpace(opts.Company),
		Industry:  strings.TrimSpace(opts.Industry),
		Budget:    strings.TrimSpace(opts.Budget),
		Timeline:  strings.TrimSpace(opts.Timeline),
		Status:    domain.TaskStatusDraft,
		CreatedBy: opts.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.Require(ctx, tx, opts.ActorID, auth.RoleAgent); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.audit(ctx, tx, events.TaskCreate, "task", t.ID, opts.ActorID, events.EventPayload{"module": t.Module, "language": t.Language}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTask returns the task with its sections in label order.
func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, []domain.TaskSection, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, nil, err
	}
	sections, err := e.Repo.ListSections(ctx, id)
	return t, sections, err
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.TaskStatusDraft:
		if newStatus == domain.TaskStatusReviewed {
			return nil
		}
		if newStatus == domain.TaskStatusApproved {
			return ConflictError{Message: "task must be generated before approval"}
		}
	case domain.TaskStatusReviewed:
		if newStatus == domain.TaskStatusReviewed || newStatus == domain.TaskStatusApproved {
			return nil
		}
	case domain.TaskStatusApproved:
		return ConflictError{Message: "task already approved"}
	}
	return ConflictError{Message: fmt.Sprintf("invalid task status transition %s -> %s", oldStatus, newStatus)}
}

// GenerateTask runs the model for the task and stores the drafts. The model is
// called outside any transaction; a failure leaves the task untouched.
func (e Engine) GenerateTask(ctx context.Context, taskID, actorID string) (domain.Task, []domain.TaskSection, error) {
	if e.Generator == nil {
		return domain.Task{}, nil, fmt.Errorf("generator not configured")
	}
	if err := e.Auth.Require(ctx, nil, actorID, auth.RoleAgent); err != nil {
		return domain.Task{}, nil, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, nil, err
	}
	if err := ensureTaskTransition(t.Status, domain.TaskStatusReviewed); err != nil {
		return t, nil, err
	}
	out, err := e.Generator.Generate(ctx, generation.Input{
		Module:    t.Module,
		Language:  t.Language,
		InputText: t.InputText,
		Company:   t.Company,
		Industry:  t.Industry,
		Budget:    t.Budget,
		Timeline:  t.Timeline,
		ActorID:   actorID,
		Endpoint:  "/tasks/generate",
	})
	if err != nil {
		return t, nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, nil, err
	}
	defer tx.Rollback()

	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, nil, err
	}
	from := t.Status
	if err := ensureTaskTransition(t.Status, domain.TaskStatusReviewed); err != nil {
		return t, nil, err
	}
	now := e.stamp()
	for i, s := range out.Sections {
		if err := e.Repo.UpsertSectionDraft(ctx, tx, domain.TaskSection{
			TaskID:       t.ID,
			SectionType:  s.Type,
			Position:     i,
			ContentDraft: s.Content,
			UpdatedAt:    now,
		}); err != nil {
			return t, nil, fmt.Errorf("upsert section %s: %w", s.Type, err)
		}
	}
	t.Status = domain.TaskStatusReviewed
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskStatus(ctx, tx, t); err != nil {
		return t, nil, err
	}
	if err := e.audit(ctx, tx, events.TaskGenerate, "task", t.ID, actorID, events.EventPayload{
		"from_status": from,
		"to_status":   t.Status,
		"model":       out.Usage.Model,
		"sections":    len(out.Sections),
	}); err != nil {
		return t, nil, err
	}
	sections, err := e.Repo.ListSectionsTx(ctx, tx, t.ID)
	if err != nil {
		return t, nil, err
	}
	if err := tx.Commit(); err != nil {
		return t, nil, err
	}
	return t, sections, nil
}

// SectionFinal is a human edit for one section.
type SectionFinal struct {
	SectionType  string
	ContentFinal string
}

// SaveFinal stores human-edited content for the listed sections only.
func (e Engine) SaveFinal(ctx context.Context, taskID string, finals []SectionFinal, actorID string) ([]domain.TaskSection, error) {
	if len(finals) == 0 {
		return nil, invalid("sections", "sections are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := e.Auth.Require(ctx, tx, actorID, auth.RoleAgent); err != nil {
		return nil, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == domain.TaskStatusApproved {
		return nil, ConflictError{Message: "task already approved"}
	}
	m, ok := e.Catalog.Module(t.Module)
	if !ok {
		return nil, fmt.Errorf("module %s missing from catalog", t.Module)
	}
	position := map[string]int{}
	for i, key := range m.LabelKeys() {
		position[key] = i
	}
	now := e.stamp()
	updated := make([]string, 0, len(finals))
	for _, f := range finals {
		pos, ok := position[f.SectionType]
		if !ok {
			return nil, invalid("section_type", "invalid section_type %q for module %s", f.SectionType, t.Module)
		}
		content := f.ContentFinal
		if err := e.Repo.UpsertSectionFinal(ctx, tx, domain.TaskSection{
			TaskID:       t.ID,
			SectionType:  f.SectionType,
			Position:     pos,
			ContentFinal: &content,
			UpdatedAt:    now,
		}); err != nil {
			return nil, fmt.Errorf("save section %s: %w", f.SectionType, err)
		}
		updated = append(updated, f.SectionType)
	}
	if err := e.Repo.TouchTask(ctx, tx, t.ID, now); err != nil {
		return nil, err
	}
	if err := e.audit(ctx, tx, events.TaskSaveFinal, "task", t.ID, actorID, events.EventPayload{"sections": updated}); err != nil {
		return nil, err
	}
	sections, err := e.Repo.ListSectionsTx(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sections, nil
}

// Approve moves a reviewed task to approved. Approving an approved task is a
// no-op that keeps the original approver and timestamp.
func (e Engine) Approve(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.Require(ctx, tx, actorID, auth.RoleManager); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if t.Status == domain.TaskStatusApproved {
		return t, nil
	}
	if err := ensureTaskTransition(t.Status, domain.TaskStatusApproved); err != nil {
		return t, err
	}
	now := e.stamp()
	approver := actorID
	t.Status = domain.TaskStatusApproved
	t.ApprovedBy = &approver
	t.ApprovedAt = &now
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskStatus(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.audit(ctx, tx, events.TaskApprove, "task", t.ID, actorID, events.EventPayload{"approved_at": now}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}
