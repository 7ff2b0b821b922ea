package circulation

import (
	"context"
	"time"
)

// Store opens circulation transactions against the inventory store and loan ledger.
type Store interface {
	// InTx runs fn inside one transaction. The transaction commits only if fn
	// returns nil; any error, cancellation or panic rolls it back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes the borrow operation composes into one
// all-or-nothing unit.
type Tx interface {
	// CountActiveLoans counts loans of the member that have not been returned.
	CountActiveLoans(ctx context.Context, memberID int64) (int, error)

	// AvailableCopies lists available copy IDs of the book in ascending order.
	AvailableCopies(ctx context.Context, bookID int64) ([]int64, error)

	// ClaimCopy marks an available copy unavailable. It returns ErrCopyClaimed
	// if the copy was not available at the time of the write.
	ClaimCopy(ctx context.Context, copyID int64) error

	// InsertLoan records an active loan and returns its ID.
	InsertLoan(ctx context.Context, memberID, copyID int64, borrowedAt, dueAt time.Time) (int64, error)
}
