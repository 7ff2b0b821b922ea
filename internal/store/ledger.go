package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/model"
)

// Ledger runs circulation transactions against the SQLite inventory and loan tables.
// The database must be opened with db.Open so that transactions take the
// write lock when they begin.
type Ledger struct {
	DB *sql.DB
}

// NewLedger returns a ledger backed by db.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{DB: db}
}

// InTx implements circulation.Store.
func (l *Ledger) InTx(ctx context.Context, fn func(tx circulation.Tx) error) error {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx *sql.Tx
}

func (t *ledgerTx) CountActiveLoans(ctx context.Context, memberID int64) (int, error) {
	query, args, err := sqlite.From("loans").
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("member_id").Eq(memberID), goqu.C("returned_at").IsNull()).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("building active loan count: %w", err)
	}

	var n int
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active loans: %w", err)
	}
	return n, nil
}

func (t *ledgerTx) AvailableCopies(ctx context.Context, bookID int64) ([]int64, error) {
	query, args, err := sqlite.From("copies").
		Select("id").
		Where(goqu.C("book_id").Eq(bookID), goqu.C("status").Eq(model.CopyStatusAvailable)).
		Order(goqu.C("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building available copies query: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing available copies: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning copy id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *ledgerTx) ClaimCopy(ctx context.Context, copyID int64) error {
	query, args, err := sqlite.Update("copies").
		Set(goqu.Record{"status": model.CopyStatusUnavailable}).
		Where(goqu.C("id").Eq(copyID), goqu.C("status").Eq(model.CopyStatusAvailable)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("building copy claim: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("claiming copy: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claiming copy: %w", err)
	}
	if n == 0 {
		return circulation.ErrCopyClaimed
	}
	return nil
}

func (t *ledgerTx) InsertLoan(ctx context.Context, memberID, copyID int64, borrowedAt, dueAt time.Time) (int64, error) {
	query, args, err := sqlite.Insert("loans").
		Rows(goqu.Record{
			"member_id":   memberID,
			"copy_id":     copyID,
			"borrowed_at": borrowedAt.UTC(),
			"due_at":      dueAt.UTC(),
		}).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("building loan insert: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting loan: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting loan id: %w", err)
	}
	return id, nil
}
