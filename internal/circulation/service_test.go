package circulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, store Store, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithBaseDelay(time.Millisecond)}, opts...)
	svc, err := NewService(store, opts...)
	require.NoError(t, err)
	return svc
}

func TestBorrowSucceeds(t *testing.T) {
	store := newFakeStore()
	store.addCopy(10, 1)
	store.addCopy(11, 1)

	fixed := time.Date(2026, 3, 1, 9, 30, 15, 123456789, time.UTC)
	svc := newTestService(t, store, WithClock(func() time.Time { return fixed }))

	loan, err := svc.Borrow(context.Background(), 7, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(7), loan.MemberID)
	assert.Equal(t, int64(10), loan.CopyID, "lowest copy id is picked")
	assert.Equal(t, int64(1), loan.BookID)
	assert.Equal(t, fixed.Truncate(time.Second), loan.BorrowedAt)
	assert.Equal(t, 14*24*time.Hour, loan.DueAt.Sub(loan.BorrowedAt))
	assert.True(t, loan.Active())

	assert.False(t, store.available(10))
	assert.True(t, store.available(11))
	assert.Equal(t, 1, store.activeLoans(7))
}

func TestBorrowRejectsInvalidIdentifiers(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	for _, tc := range []struct{ member, book int64 }{{0, 1}, {1, 0}, {-1, 5}} {
		_, err := svc.Borrow(context.Background(), tc.member, tc.book)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
	assert.Zero(t, store.txCount, "validation happens before any store access")
}

func TestBorrowNoCopyAvailable(t *testing.T) {
	store := newFakeStore()
	store.addCopy(10, 1)
	store.addActiveLoan(2, 10)

	svc := newTestService(t, store)

	_, err := svc.Borrow(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrNoCopyAvailable)

	_, err = svc.Borrow(context.Background(), 1, 999)
	assert.ErrorIs(t, err, ErrNoCopyAvailable, "unknown book has no copies")

	assert.Equal(t, 0, store.activeLoans(1))
}

func TestBorrowQuotaExceeded(t *testing.T) {
	store := newFakeStore()
	for id := int64(1); id <= 4; id++ {
		store.addCopy(id, id)
	}
	store.addCopy(100, 50)
	for id := int64(1); id <= MaxActiveLoans; id++ {
		store.addActiveLoan(1, id)
	}

	svc := newTestService(t, store)

	_, err := svc.Borrow(context.Background(), 1, 50)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.True(t, store.available(100), "copy stays available")
	assert.Equal(t, MaxActiveLoans, store.activeLoans(1))
}

func TestBorrowReturnedLoansDoNotCountTowardsQuota(t *testing.T) {
	store := newFakeStore()
	store.addCopy(1, 1)
	store.addCopy(2, 2)
	store.addCopy(3, 3)
	store.addCopy(4, 4)
	store.addActiveLoan(1, 1)
	store.addActiveLoan(1, 2)
	store.addActiveLoan(1, 3)

	returned := time.Now()
	store.loans[0].ReturnedAt = &returned

	svc := newTestService(t, store)

	_, err := svc.Borrow(context.Background(), 1, 4)
	require.NoError(t, err)
	assert.Equal(t, MaxActiveLoans, store.activeLoans(1))
}

func TestBorrowTriesNextCandidateWhenClaimLost(t *testing.T) {
	store := newFakeStore()
	store.addCopy(10, 1)
	store.addCopy(11, 1)
	store.stolenClaims = 1

	svc := newTestService(t, store)

	loan, err := svc.Borrow(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), loan.CopyID)
	assert.Equal(t, 1, store.txCount, "fallback happens inside the same transaction")
}

func TestBorrowRetriesConflicts(t *testing.T) {
	store := newFakeStore()
	store.addCopy(10, 1)
	store.stolenClaims = 2

	svc := newTestService(t, store, WithMaxAttempts(3))

	loan, err := svc.Borrow(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), loan.CopyID)
	assert.Equal(t, 3, store.txCount)
}

func TestBorrowConflictAfterRetriesExhausted(t *testing.T) {
	store := newFakeStore()
	store.addCopy(10, 1)
	store.stolenClaims = 100

	svc := newTestService(t, store, WithMaxAttempts(3))

	_, err := svc.Borrow(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, store.txCount)
	assert.True(t, store.available(10))
	assert.Equal(t, 0, store.activeLoans(1))
}

func TestBorrowStoreFailureLeavesNoPartialState(t *testing.T) {
	store := newFakeStore()
	store.addCopy(10, 1)
	store.insertErr = errors.New("disk I/O error")

	svc := newTestService(t, store)

	_, err := svc.Borrow(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotContains(t, err.Error(), "disk", "store detail is not leaked")
	assert.True(t, store.available(10), "claim was rolled back")
	assert.Equal(t, 0, store.activeLoans(1))
	assert.Equal(t, 1, store.txCount, "infrastructure errors are not retried")
}

func TestBorrowStoreUnreachable(t *testing.T) {
	store := newFakeStore()
	store.beginErr = errors.New("connection refused")

	svc := newTestService(t, store)

	_, err := svc.Borrow(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestBorrowCancelledContext(t *testing.T) {
	store := newFakeStore()
	store.addCopy(10, 1)

	svc := newTestService(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Borrow(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, store.available(10))
}

func TestNewServiceOptions(t *testing.T) {
	_, err := NewService(nil)
	assert.ErrorIs(t, err, ErrNilStore)

	_, err = NewService(newFakeStore(), WithMaxAttempts(0))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	_, err = NewService(newFakeStore(), WithBaseDelay(-time.Second))
	assert.ErrorIs(t, err, ErrNegativeBaseDelay)
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{ErrInvalidRequest, "invalid_request"},
		{ErrQuotaExceeded, "quota_exceeded"},
		{ErrNoCopyAvailable, "no_copy_available"},
		{ErrConflict, "conflict"},
		{ErrStoreUnavailable, "store_unavailable"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err))
	}
}
