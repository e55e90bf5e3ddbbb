package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit event types.
const (
	TaskCreate      = "task.create"
	TaskGenerate    = "task.generate"
	TaskSaveFinal   = "task.save_final"
	TaskApprove     = "task.approve"
	PromptCreate    = "prompt.create"
	PromptActivate  = "prompt.activate"
	KnowledgeCreate = "knowledge.create"
	KnowledgeUpdate = "knowledge.update"
	KnowledgeDelete = "knowledge.delete"
	TemplateCreate  = "template.create"
	TemplateUpdate  = "template.update"
	TemplateDelete  = "template.delete"
	RuleCreate      = "pricing_rule.create"
	RuleDelete      = "pricing_rule.delete"
	ListCreate      = "price_list.create"
	ListActivate    = "price_list.activate"
	ListDelete      = "price_list.delete"
	ItemCreate      = "price_item.create"
	ItemDelete      = "price_item.delete"
	OfferCreate     = "offer.create"
	UserCreate      = "user.create"
	UserUpdate      = "user.update"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an audit event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
