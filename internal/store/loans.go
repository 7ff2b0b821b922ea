package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/erazemk/knjiznica/internal/model"
)

// LoanFilter narrows ListLoans. Zero fields match everything.
type LoanFilter struct {
	MemberID   int64
	BookID     int64
	ActiveOnly bool
}

func loansWithDetails() *goqu.SelectDataset {
	return sqlite.From(goqu.T("loans").As("l")).
		InnerJoin(goqu.T("copies").As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("l.copy_id")))).
		InnerJoin(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("c.book_id")))).
		InnerJoin(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("l.member_id")))).
		Select(
			"l.id", "l.member_id", "l.copy_id", "l.borrowed_at", "l.due_at", "l.returned_at",
			"c.book_id", "b.title", "m.display_name",
		)
}

func scanLoan(row interface{ Scan(...any) error }, l *model.Loan) error {
	return row.Scan(&l.ID, &l.MemberID, &l.CopyID, &l.BorrowedAt, &l.DueAt, &l.ReturnedAt,
		&l.BookID, &l.BookTitle, &l.MemberName)
}

// GetLoan returns a loan with its book and member details, or nil if it does not exist.
func GetLoan(ctx context.Context, db *sql.DB, id int64) (*model.Loan, error) {
	query, args, err := loansWithDetails().
		Where(goqu.I("l.id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building loan query: %w", err)
	}

	l := &model.Loan{}
	err = scanLoan(db.QueryRowContext(ctx, query, args...), l)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting loan: %w", err)
	}
	return l, nil
}

// ListLoans returns loans matching f, newest first.
func ListLoans(ctx context.Context, db *sql.DB, f LoanFilter) ([]model.Loan, error) {
	ds := loansWithDetails()
	if f.MemberID != 0 {
		ds = ds.Where(goqu.I("l.member_id").Eq(f.MemberID))
	}
	if f.BookID != 0 {
		ds = ds.Where(goqu.I("c.book_id").Eq(f.BookID))
	}
	if f.ActiveOnly {
		ds = ds.Where(goqu.I("l.returned_at").IsNull())
	}

	query, args, err := ds.
		Order(goqu.I("l.borrowed_at").Desc(), goqu.I("l.id").Desc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building loans query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing loans: %w", err)
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		var l model.Loan
		if err := scanLoan(rows, &l); err != nil {
			return nil, fmt.Errorf("scanning loan: %w", err)
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}
