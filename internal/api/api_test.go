package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/db"
	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	server *httptest.Server
	db     *sql.DB
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	database := db.NewTestDB(t)

	svc, err := circulation.NewService(store.NewLedger(database), circulation.WithBaseDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	server := httptest.NewServer(NewRouter(database, testJWTSecret, svc))
	t.Cleanup(server.Close)
	return &testEnv{server: server, db: database}
}

// member creates an account and returns it with a valid token.
func (e *testEnv) member(t *testing.T, username, role string) (*model.Member, string) {
	t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	m, err := store.CreateMember(context.Background(), e.db, username, "", string(hash), role)
	if err != nil {
		t.Fatalf("CreateMember: %v", err)
	}
	token, err := auth.GenerateToken(testJWTSecret, m)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return m, token
}

func (e *testEnv) book(t *testing.T, title string, copies int) *model.Book {
	t.Helper()
	ctx := context.Background()
	b, err := store.CreateBook(ctx, e.db, title, "Author", 0, "")
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if copies > 0 {
		if _, err := store.AddCopies(ctx, e.db, b.ID, copies); err != nil {
			t.Fatalf("AddCopies: %v", err)
		}
	}
	return b
}

// do sends a JSON request and returns the response status and body.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decoding %s: %v", data, err)
	}
	return v
}

func TestRegisterAndLogin(t *testing.T) {
	env := setupTestServer(t)

	status, body := env.do(t, "POST", "/api/auth/register", "", map[string]string{
		"username": "ana", "password": "password1", "display_name": "Ana",
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	if m := decode[model.Member](t, body); m.Role != model.RoleMember {
		t.Errorf("expected registered role member, got %q", m.Role)
	}

	status, _ = env.do(t, "POST", "/api/auth/register", "", map[string]string{
		"username": "ana", "password": "password1",
	})
	if status != http.StatusConflict {
		t.Errorf("expected 409 for duplicate username, got %d", status)
	}

	status, _ = env.do(t, "POST", "/api/auth/register", "", map[string]string{
		"username": "bor", "password": "short",
	})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", status)
	}

	status, _ = env.do(t, "POST", "/api/auth/login", "", map[string]string{
		"username": "ana", "password": "wrong-password",
	})
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", status)
	}

	status, body = env.do(t, "POST", "/api/auth/login", "", map[string]string{
		"username": "ana", "password": "password1",
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if decode[loginResponse](t, body).Token == "" {
		t.Error("expected token from login")
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := setupTestServer(t)
	_, token := env.member(t, "ana", model.RoleMember)

	if status, _ := env.do(t, "GET", "/api/books", token, nil); status != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", status)
	}
	if status, _ := env.do(t, "POST", "/api/auth/logout", token, nil); status != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", status)
	}
	if status, _ := env.do(t, "GET", "/api/books", token, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", status)
	}
}

func TestChangePassword(t *testing.T) {
	env := setupTestServer(t)
	_, token := env.member(t, "ana", model.RoleMember)

	status, _ := env.do(t, "PUT", "/api/auth/password", token, map[string]string{
		"current_password": "nope-nope", "new_password": "new-password",
	})
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong current password, got %d", status)
	}

	status, _ = env.do(t, "PUT", "/api/auth/password", token, map[string]string{
		"current_password": "password", "new_password": "new-password",
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	status, _ = env.do(t, "POST", "/api/auth/login", "", map[string]string{
		"username": "ana", "password": "new-password",
	})
	if status != http.StatusOK {
		t.Errorf("expected login with new password, got %d", status)
	}
}

func TestCatalogFlow(t *testing.T) {
	env := setupTestServer(t)
	_, librarian := env.member(t, "lib", model.RoleLibrarian)
	_, member := env.member(t, "ana", model.RoleMember)

	status, body := env.do(t, "POST", "/api/books", librarian, map[string]any{
		"title": "Alamut", "author": "Vladimir Bartol", "published_year": 1938, "category": "novel",
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	book := decode[model.Book](t, body)

	status, _ = env.do(t, "POST", "/api/books", librarian, map[string]any{"author": "No Title"})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for missing title, got %d", status)
	}

	status, body = env.do(t, "POST", "/api/books/"+itoa(book.ID)+"/copies", librarian, map[string]int{"count": 2})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	if copies := decode[[]model.Copy](t, body); len(copies) != 2 {
		t.Errorf("expected 2 copies, got %d", len(copies))
	}

	status, _ = env.do(t, "POST", "/api/books/9999/copies", librarian, map[string]int{"count": 1})
	if status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown book, got %d", status)
	}

	status, _ = env.do(t, "POST", "/api/books", member, map[string]any{"title": "T", "author": "A"})
	if status != http.StatusForbidden {
		t.Errorf("expected 403 for member creating book, got %d", status)
	}

	status, body = env.do(t, "GET", "/api/books?category=novel", member, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	books := decode[[]model.Book](t, body)
	if len(books) != 1 || books[0].AvailableCopies != 2 {
		t.Errorf("expected one book with 2 available copies, got %+v", books)
	}

	status, body = env.do(t, "GET", "/api/books/"+itoa(book.ID), member, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if detail := decode[bookDetail](t, body); len(detail.Copies) != 2 {
		t.Errorf("expected book detail with 2 copies, got %d", len(detail.Copies))
	}
}

func TestCoverUpload(t *testing.T) {
	env := setupTestServer(t)
	_, librarian := env.member(t, "lib", model.RoleLibrarian)
	book := env.book(t, "Alamut", 0)

	var img bytes.Buffer
	png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 40, 60)))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("cover", "cover.png")
	fw.Write(img.Bytes())
	mw.Close()

	req, _ := http.NewRequest("PUT", env.server.URL+"/api/books/"+itoa(book.ID)+"/cover", &body)
	req.Header.Set("Authorization", "Bearer "+librarian)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest("GET", env.server.URL+"/api/books/"+itoa(book.ID)+"/cover", nil)
	req.Header.Set("Authorization", "Bearer "+librarian)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("expected jpeg cover, got %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestBorrowFlow(t *testing.T) {
	env := setupTestServer(t)
	ana, anaToken := env.member(t, "ana", model.RoleMember)
	_, borToken := env.member(t, "bor", model.RoleMember)
	book := env.book(t, "Alamut", 1)

	before := time.Now().UTC().Truncate(time.Second)
	status, body := env.do(t, "POST", "/api/loans", anaToken, map[string]int64{"book_id": book.ID})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	loan := decode[model.Loan](t, body)
	if loan.MemberID != ana.ID || loan.BookID != book.ID || loan.BookTitle != "Alamut" {
		t.Errorf("unexpected loan: %+v", loan)
	}
	if due := loan.DueAt.Sub(loan.BorrowedAt); due != circulation.LoanPeriod {
		t.Errorf("expected loan period %v, got %v", circulation.LoanPeriod, due)
	}
	if loan.BorrowedAt.Before(before) {
		t.Errorf("borrowed_at %v before request start %v", loan.BorrowedAt, before)
	}

	status, body = env.do(t, "POST", "/api/loans", borToken, map[string]int64{"book_id": book.ID})
	if status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
	if code := decode[errorResponse](t, body).Code; code != "no_copy_available" {
		t.Errorf("expected code no_copy_available, got %q", code)
	}

	status, body = env.do(t, "GET", "/api/loans", anaToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if loans := decode[[]model.Loan](t, body); len(loans) != 1 {
		t.Errorf("expected 1 loan for ana, got %d", len(loans))
	}

	status, body = env.do(t, "GET", "/api/loans", borToken, nil)
	if loans := decode[[]model.Loan](t, body); status != http.StatusOK || len(loans) != 0 {
		t.Errorf("expected no loans visible to bor, got %d %d", status, len(loans))
	}

	if status, _ := env.do(t, "GET", "/api/loans/"+itoa(loan.ID), borToken, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 for another member's loan, got %d", status)
	}
	if status, _ := env.do(t, "GET", "/api/loans/"+itoa(loan.ID), anaToken, nil); status != http.StatusOK {
		t.Errorf("expected 200 for own loan, got %d", status)
	}
}

func TestBorrowErrors(t *testing.T) {
	env := setupTestServer(t)
	ana, token := env.member(t, "ana", model.RoleMember)

	for _, title := range []string{"A", "B", "C"} {
		b := env.book(t, title, 1)
		if status, body := env.do(t, "POST", "/api/loans", token, map[string]int64{"book_id": b.ID}); status != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", status, body)
		}
	}
	extra := env.book(t, "D", 1)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"quota exceeded", map[string]int64{"book_id": extra.ID}, http.StatusUnprocessableEntity, "quota_exceeded"},
		{"missing book id", map[string]int64{}, http.StatusBadRequest, "invalid_request"},
		{"negative book id", map[string]int64{"book_id": -1}, http.StatusBadRequest, "invalid_request"},
		{"unknown field", map[string]any{"book_id": extra.ID, "copy_id": 1}, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, "POST", "/api/loans", token, tt.body)
			if status != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, status, body)
			}
			if code := decode[errorResponse](t, body).Code; code != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, code)
			}
		})
	}

	active, _ := store.ListLoans(context.Background(), env.db, store.LoanFilter{MemberID: ana.ID, ActiveOnly: true})
	if len(active) != circulation.MaxActiveLoans {
		t.Errorf("expected %d active loans, got %d", circulation.MaxActiveLoans, len(active))
	}
}

func TestBorrowOnBehalf(t *testing.T) {
	env := setupTestServer(t)
	ana, anaToken := env.member(t, "ana", model.RoleMember)
	bor, _ := env.member(t, "bor", model.RoleMember)
	_, librarian := env.member(t, "lib", model.RoleLibrarian)
	book := env.book(t, "Alamut", 2)

	status, _ := env.do(t, "POST", "/api/loans", anaToken, map[string]int64{"book_id": book.ID, "member_id": bor.ID})
	if status != http.StatusForbidden {
		t.Errorf("expected 403 for member borrowing for another member, got %d", status)
	}

	status, body := env.do(t, "POST", "/api/loans", librarian, map[string]int64{"book_id": book.ID, "member_id": ana.ID})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	if loan := decode[model.Loan](t, body); loan.MemberID != ana.ID {
		t.Errorf("expected loan for ana, got member %d", loan.MemberID)
	}

	status, _ = env.do(t, "POST", "/api/loans", librarian, map[string]int64{"book_id": book.ID, "member_id": 9999})
	if status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown member, got %d", status)
	}

	status, body = env.do(t, "GET", "/api/loans?member_id="+itoa(ana.ID), librarian, nil)
	if loans := decode[[]model.Loan](t, body); status != http.StatusOK || len(loans) != 1 {
		t.Errorf("expected librarian to see ana's loan, got %d %d", status, len(loans))
	}
}

func TestMembersManagement(t *testing.T) {
	env := setupTestServer(t)
	admin, adminToken := env.member(t, "admin", model.RoleAdmin)
	_, librarian := env.member(t, "lib", model.RoleLibrarian)
	_, member := env.member(t, "ana", model.RoleMember)

	status, _ := env.do(t, "POST", "/api/members", librarian, map[string]string{
		"username": "boss", "password": "password1", "role": model.RoleAdmin,
	})
	if status != http.StatusForbidden {
		t.Errorf("expected 403 for librarian creating admin, got %d", status)
	}

	status, body := env.do(t, "POST", "/api/members", librarian, map[string]string{
		"username": "cene", "password": "password1", "role": model.RoleMember,
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	created := decode[model.Member](t, body)

	status, _ = env.do(t, "POST", "/api/members", librarian, map[string]string{
		"username": "dora", "password": "password1", "role": "superuser",
	})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown role, got %d", status)
	}

	status, body = env.do(t, "PUT", "/api/members/"+itoa(created.ID), adminToken, map[string]string{"role": model.RoleLibrarian})
	if status != http.StatusOK || decode[model.Member](t, body).Role != model.RoleLibrarian {
		t.Errorf("expected admin to promote member, got %d %s", status, body)
	}

	if status, _ := env.do(t, "DELETE", "/api/members/"+itoa(created.ID), librarian, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for librarian deleting staff, got %d", status)
	}
	if status, _ := env.do(t, "DELETE", "/api/members/"+itoa(admin.ID), adminToken, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for self-deletion, got %d", status)
	}
	if status, _ := env.do(t, "DELETE", "/api/members/"+itoa(created.ID), adminToken, nil); status != http.StatusOK {
		t.Errorf("expected 200 for delete, got %d", status)
	}

	status, body = env.do(t, "GET", "/api/members", librarian, nil)
	if members := decode[[]model.Member](t, body); status != http.StatusOK || len(members) != 3 {
		t.Errorf("expected 3 active members, got %d %d", status, len(members))
	}

	if status, _ := env.do(t, "GET", "/api/members", member, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for member listing members, got %d", status)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	env := setupTestServer(t)

	for _, path := range []string{"/api/books", "/api/loans", "/api/members"} {
		if status, _ := env.do(t, "GET", path, "", nil); status != http.StatusUnauthorized {
			t.Errorf("GET %s: expected 401, got %d", path, status)
		}
	}

	if status, _ := env.do(t, "GET", "/api/books", "garbage", nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", status)
	}
}

func TestBorrowStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{circulation.ErrInvalidRequest, http.StatusBadRequest},
		{circulation.ErrQuotaExceeded, http.StatusUnprocessableEntity},
		{circulation.ErrNoCopyAvailable, http.StatusConflict},
		{circulation.ErrConflict, http.StatusConflict},
		{circulation.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("anything else"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		if got := borrowStatus(tt.err); got != tt.want {
			t.Errorf("borrowStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
