package repo

import (
	"context"
	"database/sql"
	"errors"

	"anagami/internal/domain"
)

const priceListColumns = `id,name,currency,vat_percent,is_active,created_at`

func scanPriceList(row rowScanner) (domain.PriceList, error) {
	var pl domain.PriceList
	var active int
	err := row.Scan(&pl.ID, &pl.Name, &pl.Currency, &pl.VATPercent, &active, &pl.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return pl, ErrNotFound
	}
	pl.IsActive = active == 1
	return pl, err
}

func (r Repo) InsertPriceList(ctx context.Context, tx *sql.Tx, pl domain.PriceList) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO price_lists(`+priceListColumns+`) VALUES (?,?,?,?,0,?)`,
		pl.ID, pl.Name, pl.Currency, pl.VATPercent, pl.CreatedAt)
	return err
}

func (r Repo) GetPriceList(ctx context.Context, id string) (domain.PriceList, error) {
	return scanPriceList(r.DB.QueryRowContext(ctx, `SELECT `+priceListColumns+` FROM price_lists WHERE id=?`, id))
}

func (r Repo) GetPriceListTx(ctx context.Context, tx *sql.Tx, id string) (domain.PriceList, error) {
	return scanPriceList(tx.QueryRowContext(ctx, `SELECT `+priceListColumns+` FROM price_lists WHERE id=?`, id))
}

// ActivePriceList returns the single active list or ErrNotFound.
func (r Repo) ActivePriceList(ctx context.Context) (domain.PriceList, error) {
	return scanPriceList(r.DB.QueryRowContext(ctx, `SELECT `+priceListColumns+` FROM price_lists WHERE is_active=1 LIMIT 1`))
}

func (r Repo) ListPriceLists(ctx context.Context) ([]domain.PriceList, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+priceListColumns+` FROM price_lists ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PriceList
	for rows.Next() {
		pl, err := scanPriceList(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, pl)
	}
	return res, rows.Err()
}

func (r Repo) CountActivePriceLists(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_lists WHERE is_active=1`).Scan(&n)
	return n, err
}

// PriceListReferenced reports whether any offer snapshot points at the list.
func (r Repo) PriceListReferenced(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var one int
	err := r.on(tx).QueryRowContext(ctx, `SELECT 1 FROM offers WHERE price_list_id=? LIMIT 1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// DeletePriceList removes an inactive list together with its items.
func (r Repo) DeletePriceList(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM price_items WHERE price_list_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM price_lists WHERE id=? AND is_active=0`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

const priceItemColumns = `id,price_list_id,service_key,tier_min,tier_max,unit_price,is_active,created_at`

func (r Repo) InsertPriceItem(ctx context.Context, tx *sql.Tx, it domain.PriceItem) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO price_items(`+priceItemColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		it.ID, it.PriceListID, it.ServiceKey, it.TierMin, nullableFloatPtr(it.TierMax), it.UnitPrice, boolInt(it.IsActive), it.CreatedAt)
	return err
}

func (r Repo) DeletePriceItem(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM price_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// ListPriceItems returns the list's items ordered by service key and ascending tier_min.
func (r Repo) ListPriceItems(ctx context.Context, listID string, activeOnly bool) ([]domain.PriceItem, error) {
	query := `SELECT ` + priceItemColumns + ` FROM price_items WHERE price_list_id=?`
	if activeOnly {
		query += ` AND is_active=1`
	}
	query += ` ORDER BY service_key, tier_min, created_at`
	rows, err := r.DB.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PriceItem
	for rows.Next() {
		var it domain.PriceItem
		var tierMax sql.NullFloat64
		var active int
		if err := rows.Scan(&it.ID, &it.PriceListID, &it.ServiceKey, &it.TierMin, &tierMax, &it.UnitPrice, &active, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.TierMax = floatPtr(tierMax)
		it.IsActive = active == 1
		res = append(res, it)
	}
	return res, rows.Err()
}
