package model

import "time"

// Book is a catalog title. Physical instances are tracked as copies.
type Book struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	PublishedYear int       `json:"published_year,omitempty"`
	Category      string    `json:"category,omitempty"`
	CoverMime     string    `json:"cover_mime,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	// Joined fields (not always populated).
	AvailableCopies int `json:"available_copies"`
}

// Copy is one physical, independently lendable instance of a book.
type Copy struct {
	ID        int64     `json:"id"`
	BookID    int64     `json:"book_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Copy statuses.
const (
	CopyStatusAvailable   = "available"
	CopyStatusUnavailable = "unavailable"
)
