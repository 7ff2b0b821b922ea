package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/knjiznica/internal/imaging"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// BooksHandler handles catalog endpoints.
type BooksHandler struct {
	DB *sql.DB
}

type createBookRequest struct {
	Title         string `json:"title" validate:"required,max=512"`
	Author        string `json:"author" validate:"required,max=256"`
	PublishedYear int    `json:"published_year" validate:"gte=0,lte=9999"`
	Category      string `json:"category" validate:"max=64"`
}

type addCopiesRequest struct {
	Count int `json:"count" validate:"required,min=1,max=100"`
}

type bookDetail struct {
	*model.Book
	Copies []model.Copy `json:"copies"`
}

// List handles GET /api/books.
func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := store.ListBooks(r.Context(), h.DB, store.BookFilter{
		Category: q.Get("category"),
		Author:   q.Get("author"),
		Query:    q.Get("q"),
	})
	if err != nil {
		slog.Error("failed to list books", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list books")
		return
	}
	if books == nil {
		books = []model.Book{}
	}
	jsonResponse(w, http.StatusOK, books)
}

// Create handles POST /api/books.
func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	book, err := store.CreateBook(r.Context(), h.DB, req.Title, req.Author, req.PublishedYear, req.Category)
	if err != nil {
		slog.Error("failed to create book", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create book")
		return
	}

	slog.Info("book created", "member", GetClaims(r.Context()).Username, "book_id", book.ID, "title", book.Title)
	jsonResponse(w, http.StatusCreated, book)
}

// Get handles GET /api/books/{id}.
func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get book", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get book")
		return
	}
	if book == nil {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}

	copies, err := store.ListCopies(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to list copies", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get book")
		return
	}
	if copies == nil {
		copies = []model.Copy{}
	}

	jsonResponse(w, http.StatusOK, bookDetail{Book: book, Copies: copies})
}

// AddCopies handles POST /api/books/{id}/copies.
func (h *BooksHandler) AddCopies(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	var req addCopiesRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	copies, err := store.AddCopies(r.Context(), h.DB, id, req.Count)
	if errors.Is(err, store.ErrBookNotFound) {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		slog.Error("failed to add copies", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to add copies")
		return
	}

	slog.Info("copies added", "member", GetClaims(r.Context()).Username, "book_id", id, "count", len(copies))
	jsonResponse(w, http.StatusCreated, copies)
}

// UploadCover handles PUT /api/books/{id}/cover with a multipart "cover" file.
func (h *BooksHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("cover")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "cover file required")
		return
	}
	defer file.Close()

	data, err := imaging.NormalizeCover(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = store.SetBookCover(r.Context(), h.DB, id, data, imaging.CoverMIME)
	if errors.Is(err, store.ErrBookNotFound) {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		slog.Error("failed to save cover", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save cover")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "cover uploaded"})
}

// GetCover handles GET /api/books/{id}/cover.
func (h *BooksHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	data, mime, err := store.GetBookCover(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get cover", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get cover")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no cover")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
