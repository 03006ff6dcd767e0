// Package ledger implements the balance buckets every settlement moves money
// between. All mutating calls run inside the caller's transaction; a rejected
// transfer leaves nothing applied.
package ledger

import (
	"context"
	"database/sql"

	"ridenet/internal/engine/fault"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Balance returns the current balance of an account, or zero if the account
// was never touched.
func Balance(ctx context.Context, q querier, id string) (uint64, error) {
	var balance uint64
	err := q.QueryRowContext(ctx, `SELECT balance FROM ledger_accounts WHERE id=?`, id).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit adds funds to an account, creating it on first use.
func Credit(ctx context.Context, tx *sql.Tx, id string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_accounts(id, balance) VALUES (?,?) ON CONFLICT(id) DO UPDATE SET balance = balance + excluded.balance`,
		id, amount)
	return err
}

// Debit removes funds from an account. Overdrafts are rejected before any row
// changes.
func Debit(ctx context.Context, tx *sql.Tx, id string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	balance, err := Balance(ctx, tx, id)
	if err != nil {
		return err
	}
	if balance < amount {
		return fault.With(fault.InsufficientFunds,
			map[string]any{"account": id, "balance": balance, "required": amount},
			"account %s holds %d, needs %d", id, balance, amount)
	}
	_, err = tx.ExecContext(ctx, `UPDATE ledger_accounts SET balance = balance - ? WHERE id=?`, amount, id)
	return err
}

// Transfer moves amount from one account to another.
func Transfer(ctx context.Context, tx *sql.Tx, from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := Debit(ctx, tx, from, amount); err != nil {
		return err
	}
	return Credit(ctx, tx, to, amount)
}

// Drain moves the entire balance of from into to and deletes the source
// account row. It returns the amount moved. Used to close escrow accounts so
// stale escrow ids can never accumulate dust.
func Drain(ctx context.Context, tx *sql.Tx, from, to string) (uint64, error) {
	balance, err := Balance(ctx, tx, from)
	if err != nil {
		return 0, err
	}
	if balance > 0 {
		if err := Credit(ctx, tx, to, balance); err != nil {
			return 0, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_accounts WHERE id=?`, from); err != nil {
		return 0, err
	}
	return balance, nil
}
