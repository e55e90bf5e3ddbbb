package repo

import (
	"context"
	"database/sql"
	"errors"
)

// activation holds the fixed statements for a table whose rows follow a
// single-active rule within a scope. Every statement takes the target id.
type activation struct {
	exists             string
	deactivateSiblings string
	activate           string
}

const promptDeactivateSiblings = `UPDATE prompts SET is_active=0 WHERE is_active=1 AND id<>?1
AND (scope, language, kind) = (SELECT scope, language, kind FROM prompts WHERE id=?1)`

var (
	promptActivation = activation{
		exists:             `SELECT 1 FROM prompts WHERE id=?`,
		deactivateSiblings: promptDeactivateSiblings,
		activate:           `UPDATE prompts SET is_active=1 WHERE id=?`,
	}
	priceListActivation = activation{
		exists:             `SELECT 1 FROM price_lists WHERE id=?`,
		deactivateSiblings: `UPDATE price_lists SET is_active=0 WHERE is_active=1 AND id<>?`,
		activate:           `UPDATE price_lists SET is_active=1 WHERE id=?`,
	}
)

func (r Repo) activate(ctx context.Context, tx *sql.Tx, a activation, id string) error {
	var exists int
	if err := tx.QueryRowContext(ctx, a.exists, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, a.deactivateSiblings, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, a.activate, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// ActivatePrompt makes the prompt the only active one in its (scope, language, kind).
func (r Repo) ActivatePrompt(ctx context.Context, tx *sql.Tx, id string) error {
	return r.activate(ctx, tx, promptActivation, id)
}

// ActivatePriceList makes the list the only active price list.
func (r Repo) ActivatePriceList(ctx context.Context, tx *sql.Tx, id string) error {
	return r.activate(ctx, tx, priceListActivation, id)
}
