// Package circulation implements the borrow transaction: it enforces the
// per-member loan quota, picks one available copy of a book and records the
// loan, committing the copy status change and the loan record together.
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
)

const (
	// MaxActiveLoans is the number of simultaneous active loans a member may hold.
	MaxActiveLoans = 3

	// LoanPeriod is the time between borrowing and the due date.
	LoanPeriod = 14 * 24 * time.Hour
)

// Service runs circulation transactions. It keeps no mutable state between
// calls and is safe for concurrent use.
type Service struct {
	store  Store
	now    func() time.Time
	retry  retryPolicy
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service) error

// WithClock sets the time source used for borrow timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// WithMaxAttempts sets how many times a borrow that lost every claim is attempted.
func WithMaxAttempts(attempts int) Option {
	return func(s *Service) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		s.retry.maxAttempts = attempts
		return nil
	}
}

// WithBaseDelay sets the first backoff delay between conflicting attempts.
func WithBaseDelay(delay time.Duration) Option {
	return func(s *Service) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}
		s.retry.baseDelay = delay
		return nil
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// NewService creates a circulation service backed by store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	s := &Service{
		store: store,
		now:   time.Now,
		retry: retryPolicy{
			maxAttempts:  defaultMaxAttempts,
			baseDelay:    defaultBaseDelay,
			jitterFactor: defaultJitterFactor,
		},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Borrow lends one available copy of bookID to memberID.
//
// On success the returned loan carries the chosen copy and the due date. On
// failure nothing is committed and the error matches one of ErrInvalidRequest,
// ErrQuotaExceeded, ErrNoCopyAvailable, ErrConflict or ErrStoreUnavailable.
func (s *Service) Borrow(ctx context.Context, memberID, bookID int64) (*model.Loan, error) {
	if memberID <= 0 || bookID <= 0 {
		return nil, ErrInvalidRequest
	}

	var loan *model.Loan
	attempts, err := s.retry.run(ctx, func(ctx context.Context) error {
		l, err := s.borrowOnce(ctx, memberID, bookID)
		if err != nil {
			return err
		}
		loan = l
		return nil
	}, func(attempt int, delay time.Duration) {
		s.log().Warn("borrow conflict, retrying",
			"member_id", memberID, "book_id", bookID,
			"attempt", attempt+1, "delay", delay)
	})
	if err != nil {
		return nil, s.outcome(err, memberID, bookID, attempts)
	}

	s.log().Info("book borrowed",
		"member_id", memberID, "book_id", bookID,
		"copy_id", loan.CopyID, "loan_id", loan.ID, "due_at", loan.DueAt)
	return loan, nil
}

// borrowOnce runs one circulation transaction.
func (s *Service) borrowOnce(ctx context.Context, memberID, bookID int64) (*model.Loan, error) {
	var loan *model.Loan

	err := s.store.InTx(ctx, func(tx Tx) error {
		active, err := tx.CountActiveLoans(ctx, memberID)
		if err != nil {
			return fmt.Errorf("counting active loans: %w", err)
		}
		if active >= MaxActiveLoans {
			return ErrQuotaExceeded
		}

		candidates, err := tx.AvailableCopies(ctx, bookID)
		if err != nil {
			return fmt.Errorf("listing available copies: %w", err)
		}
		if len(candidates) == 0 {
			return ErrNoCopyAvailable
		}

		copyID, err := claimFirst(ctx, tx, candidates)
		if err != nil {
			return err
		}

		borrowedAt := s.now().UTC().Truncate(time.Second)
		dueAt := borrowedAt.Add(LoanPeriod)

		id, err := tx.InsertLoan(ctx, memberID, copyID, borrowedAt, dueAt)
		if err != nil {
			return fmt.Errorf("recording loan: %w", err)
		}

		loan = &model.Loan{
			ID:         id,
			MemberID:   memberID,
			CopyID:     copyID,
			BookID:     bookID,
			BorrowedAt: borrowedAt,
			DueAt:      dueAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// claimFirst claims the first candidate still available, in the given order.
func claimFirst(ctx context.Context, tx Tx, candidates []int64) (int64, error) {
	for _, copyID := range candidates {
		err := tx.ClaimCopy(ctx, copyID)
		if err == nil {
			return copyID, nil
		}
		if !errors.Is(err, ErrCopyClaimed) {
			return 0, fmt.Errorf("claiming copy %d: %w", copyID, err)
		}
	}
	return 0, ErrConflict
}

// outcome maps a failed borrow to its public error, logging store detail.
func (s *Service) outcome(err error, memberID, bookID int64, attempts int) error {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return ErrQuotaExceeded
	case errors.Is(err, ErrNoCopyAvailable):
		return ErrNoCopyAvailable
	case errors.Is(err, ErrConflict):
		s.log().Warn("borrow conflict, retries exhausted",
			"member_id", memberID, "book_id", bookID, "attempts", attempts)
		return ErrConflict
	}

	s.log().Error("borrow failed",
		"member_id", memberID, "book_id", bookID, "attempts", attempts, "error", err)
	return ErrStoreUnavailable
}
