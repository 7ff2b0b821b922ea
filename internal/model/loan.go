package model

import "time"

// Loan records one copy lent to one member. A loan without ReturnedAt is active.
type Loan struct {
	ID         int64      `json:"id"`
	MemberID   int64      `json:"member_id"`
	CopyID     int64      `json:"copy_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`

	// Joined fields (not always populated).
	BookID     int64  `json:"book_id,omitempty"`
	BookTitle  string `json:"book_title,omitempty"`
	MemberName string `json:"member_name,omitempty"`
}

// Active reports whether the loan has not been returned.
func (l *Loan) Active() bool {
	return l.ReturnedAt == nil
}
