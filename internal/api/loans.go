package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// LoansHandler handles borrowing and loan history endpoints.
type LoansHandler struct {
	DB          *sql.DB
	Circulation *circulation.Service
}

type borrowRequest struct {
	BookID   int64 `json:"book_id" validate:"required,gt=0"`
	MemberID int64 `json:"member_id" validate:"omitempty,gt=0"`
}

// borrowStatus maps a circulation outcome to an HTTP status.
func borrowStatus(err error) int {
	switch {
	case errors.Is(err, circulation.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, circulation.ErrQuotaExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, circulation.ErrNoCopyAvailable), errors.Is(err, circulation.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// Borrow handles POST /api/loans. Librarians may borrow on behalf of another member.
func (h *LoansHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonErrorCode(w, http.StatusBadRequest, circulation.Kind(circulation.ErrInvalidRequest), err.Error())
		return
	}

	memberID := claims.MemberID
	if req.MemberID != 0 && req.MemberID != claims.MemberID {
		if !model.RoleAtLeast(claims.Role, model.RoleLibrarian) {
			jsonError(w, http.StatusForbidden, "only librarians may borrow for other members")
			return
		}
		memberID = req.MemberID
	}

	member, err := store.GetMember(r.Context(), h.DB, memberID)
	if err != nil {
		slog.Error("failed to look up member", "error", err)
		jsonError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if member == nil || member.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "member not found")
		return
	}

	loan, err := h.Circulation.Borrow(r.Context(), memberID, req.BookID)
	if err != nil {
		jsonErrorCode(w, borrowStatus(err), circulation.Kind(err), err.Error())
		return
	}

	if detailed, err := store.GetLoan(r.Context(), h.DB, loan.ID); err == nil && detailed != nil {
		loan = detailed
	}
	jsonResponse(w, http.StatusCreated, loan)
}

// List handles GET /api/loans. Members only see their own loans.
func (h *LoansHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	q := r.URL.Query()

	var f store.LoanFilter
	if v := q.Get("book_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid book_id")
			return
		}
		f.BookID = id
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid active flag")
			return
		}
		f.ActiveOnly = active
	}

	if model.RoleAtLeast(claims.Role, model.RoleLibrarian) {
		if v := q.Get("member_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				jsonError(w, http.StatusBadRequest, "invalid member_id")
				return
			}
			f.MemberID = id
		}
	} else {
		f.MemberID = claims.MemberID
	}

	loans, err := store.ListLoans(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to list loans", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list loans")
		return
	}
	if loans == nil {
		loans = []model.Loan{}
	}
	jsonResponse(w, http.StatusOK, loans)
}

// Get handles GET /api/loans/{id}.
func (h *LoansHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid loan id")
		return
	}

	loan, err := store.GetLoan(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get loan", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get loan")
		return
	}

	claims := GetClaims(r.Context())
	if loan == nil || (loan.MemberID != claims.MemberID && !model.RoleAtLeast(claims.Role, model.RoleLibrarian)) {
		jsonError(w, http.StatusNotFound, "loan not found")
		return
	}

	jsonResponse(w, http.StatusOK, loan)
}
