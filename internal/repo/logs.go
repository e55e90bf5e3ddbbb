package repo

import (
	"context"
	"database/sql"

	"anagami/internal/domain"
)

func (r Repo) InsertUsage(ctx context.Context, u domain.UsageEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO usage_logs(endpoint,actor_id,model,tokens_in,tokens_out,created_at) VALUES (?,?,?,?,?,?)`,
		u.Endpoint, nullableStringPtr(u.ActorID), u.Model, u.TokensIn, u.TokensOut, u.CreatedAt)
	return err
}

func (r Repo) ListUsage(ctx context.Context, limit int) ([]domain.UsageEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,endpoint,actor_id,model,tokens_in,tokens_out,created_at FROM usage_logs ORDER BY id DESC LIMIT ?`, limitOr(limit, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UsageEntry
	for rows.Next() {
		var u domain.UsageEntry
		var actor sql.NullString
		if err := rows.Scan(&u.ID, &u.Endpoint, &actor, &u.Model, &u.TokensIn, &u.TokensOut, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.ActorID = stringPtr(actor)
		res = append(res, u)
	}
	return res, rows.Err()
}

// InsertRequestLog appends a request log row and prunes the table to the newest keep rows.
func (r Repo) InsertRequestLog(ctx context.Context, l domain.RequestLog, keep int) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO request_logs(ip,endpoint,status_code,created_at) VALUES (?,?,?,?)`,
		l.IP, l.Endpoint, l.StatusCode, l.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM request_logs WHERE id NOT IN (SELECT id FROM request_logs ORDER BY id DESC LIMIT ?)`, limitOr(keep, 100)); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) ListRequestLogs(ctx context.Context, limit int) ([]domain.RequestLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ip,endpoint,status_code,created_at FROM request_logs ORDER BY id DESC LIMIT ?`, limitOr(limit, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RequestLog
	for rows.Next() {
		var l domain.RequestLog
		if err := rows.Scan(&l.ID, &l.IP, &l.Endpoint, &l.StatusCode, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns the newest events, optionally filtered by type and entity.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events
WHERE (?='' OR type=?) AND (?='' OR entity_kind=?) AND (?='' OR entity_id=?)
ORDER BY id DESC LIMIT ?`, evtType, evtType, entityKind, entityKind, entityID, entityID, limitOr(limit, 50))
	if err != nil {
		return nil, err
	}
	return r.scanEvents(rows)
}

// EventsAfter returns events with id greater than cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limitOr(limit, 100))
	if err != nil {
		return nil, err
	}
	return r.scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
