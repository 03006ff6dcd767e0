package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"ridenet/internal/db"
	"ridenet/internal/engine/fault"
	"ridenet/internal/migrate"
)

func newTestTx(t *testing.T) (context.Context, *sql.Tx) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	t.Cleanup(func() { tx.Rollback() })
	return ctx, tx
}

func mustBalance(t *testing.T, ctx context.Context, tx *sql.Tx, id string) uint64 {
	t.Helper()
	b, err := Balance(ctx, tx, id)
	if err != nil {
		t.Fatalf("balance %s: %v", id, err)
	}
	return b
}

func TestCreditCreatesAndAccumulates(t *testing.T) {
	ctx, tx := newTestTx(t)
	if got := mustBalance(t, ctx, tx, "owner:alice"); got != 0 {
		t.Fatalf("untouched account = %d, want 0", got)
	}
	if err := Credit(ctx, tx, "owner:alice", 100); err != nil {
		t.Fatal(err)
	}
	if err := Credit(ctx, tx, "owner:alice", 50); err != nil {
		t.Fatal(err)
	}
	if got := mustBalance(t, ctx, tx, "owner:alice"); got != 150 {
		t.Fatalf("balance = %d, want 150", got)
	}
}

func TestDebitRejectsOverdraft(t *testing.T) {
	ctx, tx := newTestTx(t)
	if err := Credit(ctx, tx, "owner:alice", 100); err != nil {
		t.Fatal(err)
	}
	err := Debit(ctx, tx, "owner:alice", 101)
	var fe fault.Error
	if !errors.As(err, &fe) || fe.Kind != fault.InsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	// nothing applied
	if got := mustBalance(t, ctx, tx, "owner:alice"); got != 100 {
		t.Fatalf("balance = %d, want untouched 100", got)
	}
	if err := Debit(ctx, tx, "owner:alice", 100); err != nil {
		t.Fatalf("exact debit: %v", err)
	}
	if got := mustBalance(t, ctx, tx, "owner:alice"); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestDebitMissingAccount(t *testing.T) {
	ctx, tx := newTestTx(t)
	err := Debit(ctx, tx, "owner:ghost", 1)
	var fe fault.Error
	if !errors.As(err, &fe) || fe.Kind != fault.InsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	ctx, tx := newTestTx(t)
	if err := Credit(ctx, tx, "owner:alice", 300); err != nil {
		t.Fatal(err)
	}
	if err := Transfer(ctx, tx, "owner:alice", "owner:bob", 120); err != nil {
		t.Fatal(err)
	}
	if got := mustBalance(t, ctx, tx, "owner:alice"); got != 180 {
		t.Fatalf("alice = %d, want 180", got)
	}
	if got := mustBalance(t, ctx, tx, "owner:bob"); got != 120 {
		t.Fatalf("bob = %d, want 120", got)
	}
	// zero transfers are a no-op
	if err := Transfer(ctx, tx, "owner:ghost", "owner:bob", 0); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
}

func TestDrainClosesAccount(t *testing.T) {
	ctx, tx := newTestTx(t)
	if err := Credit(ctx, tx, "escrow:d-1/1", 777); err != nil {
		t.Fatal(err)
	}
	moved, err := Drain(ctx, tx, "escrow:d-1/1", "treasury:FRA")
	if err != nil || moved != 777 {
		t.Fatalf("drain = %d (%v), want 777", moved, err)
	}
	if got := mustBalance(t, ctx, tx, "treasury:FRA"); got != 777 {
		t.Fatalf("treasury = %d, want 777", got)
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_accounts WHERE id=?`, "escrow:d-1/1").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatal("drained account row should be deleted")
	}
	// draining an empty account is a no-op
	moved, err = Drain(ctx, tx, "escrow:d-1/1", "treasury:FRA")
	if err != nil || moved != 0 {
		t.Fatalf("second drain = %d (%v), want 0", moved, err)
	}
}
