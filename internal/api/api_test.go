package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"library-backend/internal/auth"
	"library-backend/internal/library"
	"library-backend/internal/models"
	"library-backend/internal/storage/stubs"
)

type apiFixture struct {
	db       *stubs.MockDB
	journal  *stubs.MockJournal
	accounts *auth.Service
	handler  http.Handler
	media    string
	now      time.Time
}

func newFixture(t *testing.T, opts Options) *apiFixture {
	t.Helper()
	f := &apiFixture{
		db:      stubs.NewMockDB(),
		journal: stubs.NewMockJournal(),
		media:   t.TempDir(),
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	lib := library.NewService(f.db, f.journal, nil, zap.NewNop(), library.Options{
		Now: func() time.Time { return f.now },
	})
	f.accounts = auth.NewService(f.db, auth.NewIssuer("test-secret", time.Hour, 24*time.Hour), zap.NewNop())

	opts.MediaRoot = f.media
	f.handler = NewServer(lib, f.accounts, zap.NewNop(), opts).Handler()
	return f
}

// user creates an account and returns it with an access token
func (f *apiFixture) user(t *testing.T, name string, role models.Role) (*models.User, string) {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", Role: role}
	require.NoError(t, f.db.CreateUser(context.Background(), u))
	pair, err := f.accounts.Issuer().IssuePair(u)
	require.NoError(t, err)
	return u, pair.Access
}

func (f *apiFixture) book(t *testing.T, title, isbn string, quantity int) *models.Book {
	t.Helper()
	b := &models.Book{Title: title, Author: "Frank Herbert", ISBN: isbn, Quantity: quantity}
	require.NoError(t, f.db.CreateBook(context.Background(), b))
	return b
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func bookPath(id int64, suffix string) string {
	return "/api/books/" + strconv.FormatInt(id, 10) + "/" + suffix
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, Options{})
	f.book(t, "Dune", "9780441013593", 1)

	rec := f.do(t, http.MethodGet, "/api/books/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/books/borrowed/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication credentials were not provided.", decode(t, rec)["detail"])

	rec = f.do(t, http.MethodGet, "/api/books/borrowed/", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/books/", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListBooks_OnlyOwned(t *testing.T) {
	f := newFixture(t, Options{})
	f.book(t, "Dune", "9780441013593", 2)
	f.book(t, "Lost", "0000000000001", 0)

	rec := f.do(t, http.MethodGet, "/api/books/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	books := decode(t, rec)["available_books"].([]any)
	require.Len(t, books, 1)
	book := books[0].(map[string]any)
	assert.Equal(t, "Dune", book["title"])
	assert.Equal(t, float64(2), book["available_copies"])
	assert.Nil(t, book["cover_image"])
}

func TestCreateBook(t *testing.T) {
	f := newFixture(t, Options{})
	_, member := f.user(t, "alice", models.RoleMember)
	_, librarian := f.user(t, "libby", models.RoleLibrarian)

	payload := map[string]any{"title": "Dune", "author": "Frank Herbert", "isbn": "9780441013593", "quantity": 3}

	rec := f.do(t, http.MethodPost, "/api/books/", member, payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Not authorized.", decode(t, rec)["detail"])

	rec = f.do(t, http.MethodPost, "/api/books/", librarian, payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Dune", body["title"])
	assert.Equal(t, float64(3), body["available_copies"])

	rec = f.do(t, http.MethodPost, "/api/books/", librarian, payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec), "isbn")

	rec = f.do(t, http.MethodPost, "/api/books/", librarian, map[string]any{"title": "No author", "isbn": "12345678901234"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decode(t, rec)
	assert.Contains(t, errs, "author")
	assert.Contains(t, errs, "isbn")

	rec = f.do(t, http.MethodPost, "/api/books/", librarian, map[string]any{
		"title": strings.Repeat("t", 256), "author": strings.Repeat("a", 256), "isbn": "9780000000001",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errs = decode(t, rec)
	assert.Equal(t, []any{"Ensure this field has no more than 255 characters."}, errs["title"])
	assert.Equal(t, []any{"Ensure this field has no more than 255 characters."}, errs["author"])

	rec = f.do(t, http.MethodPost, "/api/books/", librarian, map[string]any{
		"title": strings.Repeat("t", 255), "author": "Anon", "isbn": "9780000000001",
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateBook_DefaultQuantity(t *testing.T) {
	f := newFixture(t, Options{})
	_, librarian := f.user(t, "libby", models.RoleLibrarian)

	rec := f.do(t, http.MethodPost, "/api/books/", librarian, map[string]any{
		"title": "Emma", "author": "Jane Austen", "isbn": "9780141439587",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["quantity"])
	assert.Equal(t, float64(1), body["available_copies"])

	rec = f.do(t, http.MethodGet, "/api/books/", "", nil)
	books := decode(t, rec)["available_books"].([]any)
	require.Len(t, books, 1)
	assert.Equal(t, "Emma", books[0].(map[string]any)["title"])
}

func TestManageBooks_Anonymous(t *testing.T) {
	f := newFixture(t, Options{})
	book := f.book(t, "Dune", "9780441013593", 1)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/books/", map[string]any{"title": "Emma", "author": "Jane Austen", "isbn": "9780141439587"}},
		{http.MethodPut, bookPath(book.ID, ""), map[string]any{"quantity": 4}},
		{http.MethodDelete, bookPath(book.ID, ""), nil},
	} {
		t.Run(tc.method, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, "", tc.body)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, "Not authorized.", decode(t, rec)["detail"])
		})
	}

	rec := f.do(t, http.MethodGet, bookPath(book.ID, ""), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["book"].(map[string]any)["quantity"])
}

func coverFiles(t *testing.T, media string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(media, "book_covers"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func multipartBook(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("cover_image", "cover.png")
	require.NoError(t, err)
	fw.Write([]byte("png"))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCoverRemovedWhenSaveFails(t *testing.T) {
	f := newFixture(t, Options{})
	_, librarian := f.user(t, "libby", models.RoleLibrarian)
	f.book(t, "Dune", "9780441013593", 1)

	send := func(method, path string, fields map[string]string) *httptest.ResponseRecorder {
		body, contentType := multipartBook(t, fields)
		req := httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+librarian)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodPost, "/api/books/", map[string]string{"title": "Dune", "author": "Frank Herbert", "isbn": "9780441013593"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, coverFiles(t, f.media))

	rec = send(http.MethodPut, bookPath(9999, ""), map[string]string{"title": "Emma"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, coverFiles(t, f.media))
}

func TestCreateBook_MultipartCover(t *testing.T) {
	f := newFixture(t, Options{})
	_, librarian := f.user(t, "libby", models.RoleLibrarian)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Dune"))
	require.NoError(t, mw.WriteField("author", "Frank Herbert"))
	require.NoError(t, mw.WriteField("isbn", "9780441013593"))
	require.NoError(t, mw.WriteField("quantity", "2"))
	fw, err := mw.CreateFormFile("cover_image", "Dune.JPG")
	require.NoError(t, err)
	fw.Write([]byte("not really a jpeg"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/books/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+librarian)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	cover := decode(t, rec)["cover_image"].(string)
	assert.Regexp(t, `^/media/book_covers/[0-9a-f-]+\.jpg$`, cover)

	data, err := os.ReadFile(filepath.Join(f.media, cover[len("/media/"):]))
	require.NoError(t, err)
	assert.Equal(t, "not really a jpeg", string(data))

	rec = f.do(t, http.MethodGet, cover, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateAndDeleteBook(t *testing.T) {
	f := newFixture(t, Options{})
	_, admin := f.user(t, "root", models.RoleAdmin)
	book := f.book(t, "Dune", "9780441013593", 1)

	rec := f.do(t, http.MethodPut, bookPath(book.ID, ""), admin, map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Dune", body["title"])
	assert.Equal(t, float64(5), body["quantity"])

	rec = f.do(t, http.MethodPut, bookPath(book.ID, ""), admin, map[string]any{"quantity": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, bookPath(book.ID, ""), admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, bookPath(book.ID, ""), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBorrowAndReturn(t *testing.T) {
	f := newFixture(t, Options{})
	_, alice := f.user(t, "alice", models.RoleMember)
	_, bob := f.user(t, "bob", models.RoleMember)
	_, librarian := f.user(t, "libby", models.RoleLibrarian)
	book := f.book(t, "Dune", "9780441013593", 1)

	rec := f.do(t, http.MethodPost, bookPath(book.ID, "borrow/"), alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Book 'Dune' issued to alice successfully!", body["message"])
	assert.Equal(t, "2025-06-15", body["due_date"])
	loanID := int64(body["loan_id"].(float64))

	rec = f.do(t, http.MethodPost, bookPath(book.ID, "borrow/"), bob, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No available copies of 'Dune'.", decode(t, rec)["message"])

	rec = f.do(t, http.MethodGet, bookPath(book.ID, ""), "", nil)
	detail := decode(t, rec)["book"].(map[string]any)
	assert.Equal(t, float64(1), detail["quantity"])
	assert.Equal(t, float64(0), detail["available_copies"])

	rec = f.do(t, http.MethodGet, "/api/books/borrowed/", alice, nil)
	loans := decode(t, rec)["borrowed_books"].([]any)
	require.Len(t, loans, 1)
	assert.Equal(t, "Dune", loans[0].(map[string]any)["book_title"])
	assert.Equal(t, "0.00", loans[0].(map[string]any)["current_fine"])

	rec = f.do(t, http.MethodPost, bookPath(loanID, "return/"), alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, admin := f.user(t, "root", models.RoleAdmin)
	rec = f.do(t, http.MethodGet, "/api/books/borrowed/", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["borrowed_books"])

	f.now = f.now.Add(28 * 24 * time.Hour)

	rec = f.do(t, http.MethodGet, "/api/books/borrowed/", librarian, nil)
	loans = decode(t, rec)["borrowed_books"].([]any)
	require.Len(t, loans, 1)
	assert.Equal(t, "70.00", loans[0].(map[string]any)["current_fine"])

	rec = f.do(t, http.MethodPost, bookPath(loanID, "return/"), librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "Book 'Dune' returned successfully! Fine: 70.00", body["message"])
	assert.Equal(t, "70.00", body["fine"])

	rec = f.do(t, http.MethodPost, bookPath(loanID, "return/"), librarian, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Book already returned.", decode(t, rec)["message"])

	rec = f.do(t, http.MethodGet, bookPath(book.ID, ""), "", nil)
	detail = decode(t, rec)["book"].(map[string]any)
	assert.Equal(t, float64(1), detail["quantity"])
	assert.Equal(t, float64(1), detail["available_copies"])
}

func TestBorrow_Librarian(t *testing.T) {
	f := newFixture(t, Options{})
	alice, _ := f.user(t, "alice", models.RoleMember)
	_, librarian := f.user(t, "libby", models.RoleLibrarian)
	book := f.book(t, "Dune", "9780441013593", 2)

	rec := f.do(t, http.MethodPost, bookPath(book.ID, "borrow/"), librarian, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User ID is required for librarians.", decode(t, rec)["error"])

	rec = f.do(t, http.MethodPost, bookPath(book.ID, "borrow/"), librarian, map[string]any{"user_id": 9999})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, bookPath(book.ID, "borrow/"), librarian, map[string]any{"user_id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, bookPath(book.ID, "borrow/"), librarian, map[string]any{"user_id": "1", "due_date": "06/30/2025"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid date format. Use YYYY-MM-DD.", decode(t, rec)["error"])

	rec = f.do(t, http.MethodPost, bookPath(book.ID, "borrow/"), librarian, map[string]any{
		"user_id":  strconv.FormatInt(alice.ID, 10),
		"due_date": "2025-06-30",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Book 'Dune' issued to alice successfully!", body["message"])
	assert.Equal(t, "2025-06-30", body["due_date"])

	rec = f.do(t, http.MethodPost, bookPath(9999, "borrow/"), librarian, map[string]any{"user_id": alice.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, bookPath(9999, "borrow/"), librarian, map[string]any{"user_id": "x", "due_date": "tomorrow"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReservations(t *testing.T) {
	f := newFixture(t, Options{})
	_, alice := f.user(t, "alice", models.RoleMember)
	_, librarian := f.user(t, "libby", models.RoleLibrarian)
	book := f.book(t, "Dune", "9780441013593", 1)

	rec := f.do(t, http.MethodPost, bookPath(book.ID, "reserve/"), alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Book 'Dune' is available for borrowing. Please borrow it instead.", decode(t, rec)["message"])

	rec = f.do(t, http.MethodPost, bookPath(book.ID, "borrow/"), alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	loanID := int64(decode(t, rec)["loan_id"].(float64))

	rec = f.do(t, http.MethodPost, bookPath(book.ID, "reserve/"), alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	reservationID := int64(body["reservation_id"].(float64))
	assert.Equal(t, "Book 'Dune' reserved successfully! Your reservation ID: "+strconv.FormatInt(reservationID, 10), body["message"])

	rec = f.do(t, http.MethodGet, "/api/reservations/", alice, nil)
	list := decode(t, rec)["reservations"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "pending", list[0].(map[string]any)["status"])

	path := "/api/reservation/fulfill/" + strconv.FormatInt(reservationID, 10) + "/"
	rec = f.do(t, http.MethodPost, path, alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No available copies to fulfill the reservation.", decode(t, rec)["error"])

	rec = f.do(t, http.MethodPost, bookPath(loanID, "return/"), librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, path, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "Reservation fulfilled and book issued.", body["message"])
	assert.Equal(t, "alice", body["borrowed_book"].(map[string]any)["user_name"])

	rec = f.do(t, http.MethodPost, "/api/reservation/cancel/"+strconv.FormatInt(reservationID, 10)+"/", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Only pending reservations can be cancelled.", decode(t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/api/reservation/cancel/9999/", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReservationQueue(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	alice, aliceToken := f.user(t, "alice", models.RoleMember)
	_, librarian := f.user(t, "libby", models.RoleLibrarian)
	book := f.book(t, "Dune", "9780441013593", 0)

	require.NoError(t, f.db.CreateReservation(ctx, &models.Reservation{
		UserID: alice.ID, BookID: book.ID, Status: models.ReservationPending, ReservedAt: f.now,
	}))
	for i := 0; i < 10; i++ {
		u := &models.User{Username: "reader" + strconv.Itoa(i), Role: models.RoleMember}
		require.NoError(t, f.db.CreateUser(ctx, u))
		require.NoError(t, f.db.CreateReservation(ctx, &models.Reservation{
			UserID: u.ID, BookID: book.ID, Status: models.ReservationPending, ReservedAt: f.now.Add(time.Duration(i+1) * time.Minute),
		}))
	}

	rec := f.do(t, http.MethodGet, bookPath(book.ID, "reservations/"), librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(11), body["count"])
	assert.Nil(t, body["previous"])
	assert.Equal(t, "http://example.com"+bookPath(book.ID, "reservations/")+"?page=2", body["next"])
	results := body["results"].(map[string]any)
	assert.Equal(t, "Dune", results["book_title"])
	assert.Len(t, results["reservations"], 10)

	rec = f.do(t, http.MethodGet, bookPath(book.ID, "reservations/?page=2&sort=-reserved_at"), librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Nil(t, body["next"])
	assert.Equal(t, "http://example.com"+bookPath(book.ID, "reservations/")+"?sort=-reserved_at", body["previous"])
	page2 := body["results"].(map[string]any)["reservations"].([]any)
	require.Len(t, page2, 1)
	assert.Equal(t, "alice", page2[0].(map[string]any)["user_name"])

	rec = f.do(t, http.MethodGet, bookPath(book.ID, "reservations/?page=3"), librarian, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Invalid page.", decode(t, rec)["detail"])

	rec = f.do(t, http.MethodGet, bookPath(book.ID, "reservations/?sort=title"), librarian, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, bookPath(book.ID, "reservations/?search=READER1"), librarian, nil)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = f.do(t, http.MethodGet, bookPath(book.ID, "reservations/"), aliceToken, nil)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = f.do(t, http.MethodGet, bookPath(9999, "reservations/"), librarian, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportReservations(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	alice, token := f.user(t, "alice", models.RoleMember)
	bob, _ := f.user(t, "bob", models.RoleMember)
	book := f.book(t, "Dune", "9780441013593", 0)

	require.NoError(t, f.db.CreateReservation(ctx, &models.Reservation{
		UserID: alice.ID, BookID: book.ID, Status: models.ReservationPending, ReservedAt: f.now,
	}))
	require.NoError(t, f.db.CreateReservation(ctx, &models.Reservation{
		UserID: bob.ID, BookID: book.ID, Status: models.ReservationCancelled, ReservedAt: f.now.Add(90*time.Minute + 250*time.Microsecond),
	}))

	rec := f.do(t, http.MethodGet, bookPath(book.ID, "reservations/export/"), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="reservations_book_`+strconv.FormatInt(book.ID, 10)+`.csv"`, rec.Header().Get("Content-Disposition"))

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"User", "Reserved At", "Status"}, rows[0])
	assert.Equal(t, []string{"alice", "2025-06-01 12:00:00+00:00", "pending"}, rows[1])
	assert.Equal(t, []string{"bob", "2025-06-01 13:30:00.000250+00:00", "cancelled"}, rows[2])
}

func TestBorrowRequests(t *testing.T) {
	f := newFixture(t, Options{})
	_, alice := f.user(t, "alice", models.RoleMember)
	_, admin := f.user(t, "root", models.RoleAdmin)
	book := f.book(t, "Dune", "9780441013593", 1)

	rec := f.do(t, http.MethodPost, bookPath(book.ID, "borrow-request/"), alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Borrow request for 'Dune' submitted successfully.", body["message"])
	requestPath := "/api/borrow-request/" + strconv.FormatInt(int64(body["request_id"].(float64)), 10) + "/"

	rec = f.do(t, http.MethodPost, bookPath(book.ID, "borrow-request/"), alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "You already have a pending borrow request for this book.", decode(t, rec)["message"])

	rec = f.do(t, http.MethodGet, "/api/dashboard/", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode(t, rec)["pending_borrow_requests"].([]any)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].(map[string]any)["user"])

	rec = f.do(t, http.MethodPut, requestPath, alice, map[string]string{"action": "approve"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, requestPath, admin, map[string]string{"action": "shelve"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid action.", decode(t, rec)["error"])

	rec = f.do(t, http.MethodPut, requestPath, admin, map[string]string{"action": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Borrow request approved. Book 'Dune' issued to alice.", decode(t, rec)["message"])

	rec = f.do(t, http.MethodPut, requestPath, admin, map[string]string{"action": "reject"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, Options{})
	_, alice := f.user(t, "alice", models.RoleMember)
	f.book(t, "Dune", "9780441013593", 1)
	f.book(t, "Emma", "9780141439587", 10)

	rec := f.do(t, http.MethodGet, "/api/dashboard/", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total_books"])
	assert.Equal(t, float64(0), body["borrowed_books"])
	assert.Equal(t, float64(0), body["overdue_books"])
	assert.Len(t, body["most_borrowed_books"], 2)
	low := body["low_availability"].([]any)
	require.Len(t, low, 1)
	assert.Equal(t, "Dune", low[0].(map[string]any)["title"])
}

func TestUsersAndActivity(t *testing.T) {
	f := newFixture(t, Options{})
	_, alice := f.user(t, "alice", models.RoleMember)
	_, librarian := f.user(t, "libby", models.RoleLibrarian)
	book := f.book(t, "Dune", "9780441013593", 1)

	rec := f.do(t, http.MethodGet, "/api/users/", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/users/", librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["users"], 2)

	rec = f.do(t, http.MethodPost, bookPath(book.ID, "borrow/"), alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/activity/", alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/activity/?limit=10", librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, models.ActionBorrow, events[0].(map[string]any)["action"])

	rec = f.do(t, http.MethodGet, "/api/activity/?limit=zero", librarian, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAndToken(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/auth/register/", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "All fields are required.", decode(t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/api/auth/register/", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "s3cret",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "member", decode(t, rec)["role"])

	rec = f.do(t, http.MethodPost, "/api/auth/register/", "", map[string]string{
		"username": "ALICE", "email": "a2@example.com", "password": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/token/", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/token/", "", map[string]string{"username": "alice", "password": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := decode(t, rec)
	assert.Equal(t, "alice", tokens["username"])
	assert.Equal(t, "member", tokens["role"])
	assert.NotEmpty(t, tokens["access"])

	rec = f.do(t, http.MethodGet, "/api/reservations/", tokens["access"].(string), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/token/refresh/", "", map[string]any{"refresh": tokens["refresh"]})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["access"])

	rec = f.do(t, http.MethodPost, "/api/token/refresh/", "", map[string]any{"refresh": tokens["access"]})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestToken_RateLimited(t *testing.T) {
	f := newFixture(t, Options{LoginRatePerMinute: 1, LoginBurst: 2})
	creds := map[string]string{"username": "nobody", "password": "x"}

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/token/", "", creds).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/token/", "", creds).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/api/token/", "", creds).Code)
}

func TestCustomPrefix(t *testing.T) {
	f := newFixture(t, Options{Prefix: "v1/"})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/books/", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/books/", "", nil).Code)
}
