package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/erazemk/knjiznica/internal/model"
)

func seedMember(t *testing.T, database *sql.DB, username string) *model.Member {
	t.Helper()
	m, err := CreateMember(context.Background(), database, username, "", "hash", model.RoleMember)
	if err != nil {
		t.Fatalf("CreateMember(%s): %v", username, err)
	}
	return m
}

func seedBook(t *testing.T, database *sql.DB, title string, copies int) (*model.Book, []model.Copy) {
	t.Helper()
	ctx := context.Background()

	b, err := CreateBook(ctx, database, title, "Author", 2001, "fiction")
	if err != nil {
		t.Fatalf("CreateBook(%s): %v", title, err)
	}
	if copies == 0 {
		return b, nil
	}
	cs, err := AddCopies(ctx, database, b.ID, copies)
	if err != nil {
		t.Fatalf("AddCopies(%s): %v", title, err)
	}
	return b, cs
}

func copyStatus(t *testing.T, database *sql.DB, copyID int64) string {
	t.Helper()
	var status string
	if err := database.QueryRow(`SELECT status FROM copies WHERE id = ?`, copyID).Scan(&status); err != nil {
		t.Fatalf("reading copy %d status: %v", copyID, err)
	}
	return status
}

func countLoans(t *testing.T, database *sql.DB) int {
	t.Helper()
	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM loans`).Scan(&n); err != nil {
		t.Fatalf("counting loans: %v", err)
	}
	return n
}
