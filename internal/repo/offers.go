package repo

import (
	"context"
	"database/sql"
	"errors"

	"anagami/internal/domain"
)

const offerColumns = `id,task_id,client_name,currency,vat_mode,pricing_configured,subtotal,vat_amount,total,breakdown,items_json,price_list_id,created_by,created_at`

func scanOffer(row rowScanner) (domain.Offer, error) {
	var o domain.Offer
	var taskID, priceListID sql.NullString
	var subtotal, vat, total sql.NullFloat64
	var configured int
	err := row.Scan(&o.ID, &taskID, &o.ClientName, &o.Currency, &o.VATMode, &configured, &subtotal, &vat, &total,
		&o.Breakdown, &o.ItemsJSON, &priceListID, &o.CreatedBy, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.TaskID = stringPtr(taskID)
	o.PriceListID = stringPtr(priceListID)
	o.PricingConfigured = configured == 1
	o.Subtotal = floatPtr(subtotal)
	o.VATAmount = floatPtr(vat)
	o.Total = floatPtr(total)
	return o, nil
}

func (r Repo) InsertOffer(ctx context.Context, tx *sql.Tx, o domain.Offer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO offers(`+offerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, nullableStringPtr(o.TaskID), o.ClientName, o.Currency, o.VATMode, boolInt(o.PricingConfigured),
		nullableFloatPtr(o.Subtotal), nullableFloatPtr(o.VATAmount), nullableFloatPtr(o.Total),
		o.Breakdown, o.ItemsJSON, nullableStringPtr(o.PriceListID), o.CreatedBy, o.CreatedAt)
	return err
}

func (r Repo) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	return scanOffer(r.DB.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=?`, id))
}

func (r Repo) ListOffers(ctx context.Context, limit int) ([]domain.Offer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers ORDER BY created_at DESC, id DESC LIMIT ?`, limitOr(limit, 50))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}
