package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/erazemk/knjiznica/internal/model"
)

// AddCopies provisions count new available copies of a book and returns them.
func AddCopies(ctx context.Context, db *sql.DB, bookID int64, count int) ([]model.Copy, error) {
	if count <= 0 {
		return nil, fmt.Errorf("copy count must be positive, got %d", count)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM books WHERE id = ?)`, bookID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking book: %w", err)
	}
	if !exists {
		return nil, ErrBookNotFound
	}

	ids := make([]int64, 0, count)
	for range count {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO copies (book_id, status) VALUES (?, ?)`,
			bookID, model.CopyStatusAvailable,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting copy: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("getting copy id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing copies: %w", err)
	}

	copies, err := ListCopies(ctx, db, bookID)
	if err != nil {
		return nil, err
	}

	added := make([]model.Copy, 0, count)
	for _, c := range copies {
		if slices.Contains(ids, c.ID) {
			added = append(added, c)
		}
	}
	return added, nil
}

// ListCopies returns all copies of a book in ascending ID order.
func ListCopies(ctx context.Context, db *sql.DB, bookID int64) ([]model.Copy, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, book_id, status, created_at FROM copies WHERE book_id = ? ORDER BY id`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing copies: %w", err)
	}
	defer rows.Close()

	var copies []model.Copy
	for rows.Next() {
		var c model.Copy
		if err := rows.Scan(&c.ID, &c.BookID, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning copy: %w", err)
		}
		copies = append(copies, c)
	}
	return copies, rows.Err()
}
