package circulation

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
)

// fakeStore is a serializable in-memory Store. Each InTx works on a snapshot
// that replaces the committed state only when fn returns nil.
type fakeStore struct {
	mu sync.Mutex

	copies map[int64]fakeCopy
	loans  []model.Loan

	beginErr  error
	insertErr error

	// stolenClaims makes that many ClaimCopy calls lose their compare-and-set.
	stolenClaims int

	txCount int
}

type fakeCopy struct {
	bookID    int64
	available bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{copies: map[int64]fakeCopy{}}
}

func (f *fakeStore) addCopy(copyID, bookID int64) {
	f.copies[copyID] = fakeCopy{bookID: bookID, available: true}
}

func (f *fakeStore) addActiveLoan(memberID, copyID int64) {
	c := f.copies[copyID]
	c.available = false
	f.copies[copyID] = c
	f.loans = append(f.loans, model.Loan{ID: int64(len(f.loans) + 1), MemberID: memberID, CopyID: copyID})
}

func (f *fakeStore) activeLoans(memberID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.loans {
		if l.MemberID == memberID && l.Active() {
			n++
		}
	}
	return n
}

func (f *fakeStore) available(copyID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copies[copyID].available
}

func (f *fakeStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if f.beginErr != nil {
		return f.beginErr
	}
	f.txCount++

	tx := &fakeTx{
		store:  f,
		copies: maps.Clone(f.copies),
		loans:  slices.Clone(f.loans),
	}
	if err := fn(tx); err != nil {
		return err
	}

	f.copies = tx.copies
	f.loans = tx.loans
	return nil
}

type fakeTx struct {
	store  *fakeStore
	copies map[int64]fakeCopy
	loans  []model.Loan
}

func (t *fakeTx) CountActiveLoans(_ context.Context, memberID int64) (int, error) {
	n := 0
	for _, l := range t.loans {
		if l.MemberID == memberID && l.Active() {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) AvailableCopies(_ context.Context, bookID int64) ([]int64, error) {
	var ids []int64
	for id, c := range t.copies {
		if c.bookID == bookID && c.available {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *fakeTx) ClaimCopy(_ context.Context, copyID int64) error {
	if t.store.stolenClaims > 0 {
		t.store.stolenClaims--
		return ErrCopyClaimed
	}
	c, ok := t.copies[copyID]
	if !ok || !c.available {
		return ErrCopyClaimed
	}
	c.available = false
	t.copies[copyID] = c
	return nil
}

func (t *fakeTx) InsertLoan(_ context.Context, memberID, copyID int64, borrowedAt, dueAt time.Time) (int64, error) {
	if t.store.insertErr != nil {
		return 0, t.store.insertErr
	}
	id := int64(len(t.loans) + 1)
	t.loans = append(t.loans, model.Loan{
		ID:         id,
		MemberID:   memberID,
		CopyID:     copyID,
		BorrowedAt: borrowedAt,
		DueAt:      dueAt,
	})
	return id, nil
}
