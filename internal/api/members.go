package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// MembersHandler handles member management endpoints (librarian and up).
type MembersHandler struct {
	DB *sql.DB
}

type createMemberRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=64"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Password    string `json:"password" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=admin librarian member"`
}

type updateMemberRequest struct {
	Role     string `json:"role" validate:"omitempty,oneof=admin librarian member"`
	Password string `json:"password"`
}

// canManage reports whether a caller with role may create or modify accounts
// with target role. Only admins manage staff accounts.
func canManage(role, target string) bool {
	return role == model.RoleAdmin || target == model.RoleMember
}

// List handles GET /api/members.
func (h *MembersHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := store.ListMembers(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list members", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	jsonResponse(w, http.StatusOK, members)
}

// Create handles POST /api/members.
func (h *MembersHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req createMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !canManage(claims.Role, req.Role) {
		jsonError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	if err := model.ValidatePassword(req.Password); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	member, err := store.CreateMember(r.Context(), h.DB, req.Username, req.DisplayName, string(hash), req.Role)
	if err != nil {
		jsonError(w, http.StatusConflict, "username already exists")
		return
	}

	slog.Info("member created", "member", claims.Username, "new_member", member.Username, "role", member.Role)
	jsonResponse(w, http.StatusCreated, member)
}

// Get handles GET /api/members/{id}.
func (h *MembersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid member id")
		return
	}

	member, err := store.GetMember(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get member", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get member")
		return
	}
	if member == nil {
		jsonError(w, http.StatusNotFound, "member not found")
		return
	}

	jsonResponse(w, http.StatusOK, member)
}

// Update handles PUT /api/members/{id}: role change and/or password reset.
func (h *MembersHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid member id")
		return
	}

	var req updateMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role == "" && req.Password == "" {
		jsonError(w, http.StatusBadRequest, "role or password required")
		return
	}

	member, err := store.GetMember(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get member", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update member")
		return
	}
	if member == nil || member.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "member not found")
		return
	}
	if !canManage(claims.Role, member.Role) || (req.Role != "" && !canManage(claims.Role, req.Role)) {
		jsonError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	if req.Password != "" {
		if err := model.ValidatePassword(req.Password); err != nil {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
		if err := store.UpdateMemberPassword(r.Context(), h.DB, id, string(hash)); err != nil {
			slog.Error("failed to reset password", "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to update member")
			return
		}
		slog.Info("member password reset", "member", claims.Username, "target_member", member.Username)
	}

	if req.Role != "" && req.Role != member.Role {
		if err := store.UpdateMemberRole(r.Context(), h.DB, id, req.Role); err != nil {
			slog.Error("failed to update role", "error", err)
			jsonError(w, http.StatusInternalServerError, "failed to update member")
			return
		}
		slog.Info("member role updated", "member", claims.Username, "target_member", member.Username, "new_role", req.Role)
	}

	updated, err := store.GetMember(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get member")
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/members/{id}. Loan history is kept.
func (h *MembersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid member id")
		return
	}
	if claims.MemberID == id {
		jsonError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	member, err := store.GetMember(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get member", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete member")
		return
	}
	if member == nil || member.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "member not found")
		return
	}
	if !canManage(claims.Role, member.Role) {
		jsonError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	if err := store.DeleteMember(r.Context(), h.DB, id); err != nil {
		slog.Error("failed to delete member", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete member")
		return
	}

	slog.Info("member deleted", "member", claims.Username, "deleted_member", member.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "member deleted"})
}
