package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/erazemk/knjiznica/internal/model"
)

// BookFilter narrows ListBooks. Empty fields match everything.
type BookFilter struct {
	Category string
	Author   string
	Query    string // title substring
}

// booksWithAvailability selects books joined with their available copy count.
func booksWithAvailability() *goqu.SelectDataset {
	return sqlite.From(goqu.T("books").As("b")).
		LeftJoin(goqu.T("copies").As("c"), goqu.On(
			goqu.I("c.book_id").Eq(goqu.I("b.id")),
			goqu.I("c.status").Eq(model.CopyStatusAvailable),
		)).
		Select(
			"b.id", "b.title", "b.author", "b.published_year", "b.category",
			"b.cover_mime", "b.created_at",
			goqu.COUNT(goqu.I("c.id")).As("available_copies"),
		).
		GroupBy(goqu.I("b.id"))
}

func scanBook(row interface{ Scan(...any) error }, b *model.Book) error {
	var year sql.NullInt64
	var category, coverMime sql.NullString
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &year, &category, &coverMime, &b.CreatedAt, &b.AvailableCopies); err != nil {
		return err
	}
	b.PublishedYear = int(year.Int64)
	b.Category = category.String
	b.CoverMime = coverMime.String
	return nil
}

// CreateBook adds a title to the catalog. A zero year or empty category is stored as NULL.
func CreateBook(ctx context.Context, db *sql.DB, title, author string, publishedYear int, category string) (*model.Book, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO books (title, author, published_year, category) VALUES (?, ?, ?, ?)`,
		title, author,
		sql.NullInt64{Int64: int64(publishedYear), Valid: publishedYear != 0},
		sql.NullString{String: category, Valid: category != ""},
	)
	if err != nil {
		return nil, fmt.Errorf("creating book: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting book id: %w", err)
	}

	return GetBook(ctx, db, id)
}

// GetBook returns a book with its available copy count, or nil if it does not exist.
func GetBook(ctx context.Context, db *sql.DB, id int64) (*model.Book, error) {
	query, args, err := booksWithAvailability().
		Where(goqu.I("b.id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building book query: %w", err)
	}

	b := &model.Book{}
	err = scanBook(db.QueryRowContext(ctx, query, args...), b)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting book: %w", err)
	}
	return b, nil
}

// ListBooks returns the books matching f, ordered by title, each with its
// available copy count. Books without available copies are included.
func ListBooks(ctx context.Context, db *sql.DB, f BookFilter) ([]model.Book, error) {
	ds := booksWithAvailability()
	if f.Category != "" {
		ds = ds.Where(goqu.I("b.category").Eq(f.Category))
	}
	if f.Author != "" {
		ds = ds.Where(goqu.I("b.author").Eq(f.Author))
	}
	if f.Query != "" {
		ds = ds.Where(goqu.I("b.title").Like("%" + f.Query + "%"))
	}

	query, args, err := ds.
		Order(goqu.I("b.title").Asc(), goqu.I("b.id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building books query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		var b model.Book
		if err := scanBook(rows, &b); err != nil {
			return nil, fmt.Errorf("scanning book: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// SetBookCover stores a book's cover image.
func SetBookCover(ctx context.Context, db *sql.DB, id int64, data []byte, mime string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE books SET cover = ?, cover_mime = ? WHERE id = ?`,
		data, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting book cover: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrBookNotFound
	}
	return nil
}

// GetBookCover returns a book's cover image. Data is nil if the book has no cover.
func GetBookCover(ctx context.Context, db *sql.DB, id int64) ([]byte, string, error) {
	var data []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT cover, cover_mime FROM books WHERE id = ?`, id,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting book cover: %w", err)
	}
	return data, mime.String, nil
}
