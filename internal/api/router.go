package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/model"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, jwtSecret string, svc *circulation.Service) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret}
	booksHandler := &BooksHandler{DB: db}
	loansHandler := &LoansHandler{DB: db, Circulation: svc}
	membersHandler := &MembersHandler{DB: db}

	authMW := AuthMiddleware(jwtSecret, db)
	authed := func(h http.HandlerFunc) http.Handler { return authMW(h) }
	librarian := func(h http.HandlerFunc) http.Handler {
		return authMW(RequireRole(model.RoleLibrarian)(h))
	}

	// Public.
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Session.
	mux.Handle("POST /api/auth/logout", authed(authHandler.Logout))
	mux.Handle("PUT /api/auth/password", authed(authHandler.ChangePassword))

	// Catalog: read (all members), write (librarian+).
	mux.Handle("GET /api/books", authed(booksHandler.List))
	mux.Handle("POST /api/books", librarian(booksHandler.Create))
	mux.Handle("GET /api/books/{id}", authed(booksHandler.Get))
	mux.Handle("POST /api/books/{id}/copies", librarian(booksHandler.AddCopies))
	mux.Handle("PUT /api/books/{id}/cover", librarian(booksHandler.UploadCover))
	mux.Handle("GET /api/books/{id}/cover", authed(booksHandler.GetCover))

	// Loans.
	mux.Handle("POST /api/loans", authed(loansHandler.Borrow))
	mux.Handle("GET /api/loans", authed(loansHandler.List))
	mux.Handle("GET /api/loans/{id}", authed(loansHandler.Get))

	// Members (librarian+; staff accounts admin only).
	mux.Handle("GET /api/members", librarian(membersHandler.List))
	mux.Handle("POST /api/members", librarian(membersHandler.Create))
	mux.Handle("GET /api/members/{id}", librarian(membersHandler.Get))
	mux.Handle("PUT /api/members/{id}", librarian(membersHandler.Update))
	mux.Handle("DELETE /api/members/{id}", librarian(membersHandler.Delete))

	return mux
}
