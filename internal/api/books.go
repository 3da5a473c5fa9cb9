package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"library-backend/internal/auth"
	"library-backend/internal/models"
	"library-backend/internal/storage"
)

const (
	coverDir       = "book_covers"
	maxUploadBytes = 10 << 20
	maxISBNLength  = 13

	maxTitleLength    = 255
	maxAuthorLength   = 255
	maxCategoryLength = 100
)

// bookPayload is a create or partial update request. Nil fields were not sent.
type bookPayload struct {
	Title       *string `json:"title"`
	Author      *string `json:"author"`
	ISBN        *string `json:"isbn"`
	Quantity    *int    `json:"quantity"`
	Category    *string `json:"category"`
	Description *string `json:"description"`

	cover *multipart.FileHeader
}

// readBookPayload accepts a JSON body or a multipart form with an optional cover_image file
func readBookPayload(r *http.Request) (*bookPayload, fieldErrors, error) {
	p := &bookPayload{}
	errs := fieldErrors{}

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := decodeBody(r, p); err != nil {
			return nil, nil, err
		}
		return p, errs, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, err
	}
	form := r.MultipartForm.Value
	str := func(key string) *string {
		if v, ok := form[key]; ok && len(v) > 0 {
			return &v[0]
		}
		return nil
	}
	p.Title = str("title")
	p.Author = str("author")
	p.ISBN = str("isbn")
	p.Category = str("category")
	p.Description = str("description")
	if q := str("quantity"); q != nil {
		n, err := strconv.Atoi(strings.TrimSpace(*q))
		if err != nil {
			errs.add("quantity", "A valid integer is required.")
		} else {
			p.Quantity = &n
		}
	}
	if files := r.MultipartForm.File["cover_image"]; len(files) > 0 {
		p.cover = files[0]
	}
	return p, errs, nil
}

func (p *bookPayload) validate(create bool, errs fieldErrors) {
	required := map[string]*string{"title": p.Title, "author": p.Author, "isbn": p.ISBN}
	for _, field := range []string{"title", "author", "isbn"} {
		v := required[field]
		if v == nil {
			if create {
				errs.add(field, "This field is required.")
			}
			continue
		}
		if strings.TrimSpace(*v) == "" {
			errs.add(field, "This field may not be blank.")
		}
	}
	for _, f := range []struct {
		name  string
		value *string
		max   int
	}{
		{"title", p.Title, maxTitleLength},
		{"author", p.Author, maxAuthorLength},
		{"isbn", p.ISBN, maxISBNLength},
		{"category", p.Category, maxCategoryLength},
	} {
		if f.value != nil && utf8.RuneCountInString(*f.value) > f.max {
			errs.add(f.name, fmt.Sprintf("Ensure this field has no more than %d characters.", f.max))
		}
	}
	if p.Quantity != nil && *p.Quantity < 0 {
		errs.add("quantity", "Ensure this value is greater than or equal to 0.")
	}
}

// saveCover stores an uploaded cover under the media root and returns its relative path
func (s *Server) saveCover(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dir := filepath.Join(s.mediaRoot, coverDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(fh.Filename))
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create cover file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to write cover file: %w", err)
	}
	return path.Join(coverDir, name), nil
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.lib.AvailableBooks(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available_books": bookViews(books)})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.lib.Book(r.Context(), pathID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"book": bookView(*book)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := s.lib.SearchBooks(r.Context(), q.Get("title"), q.Get("author"), q.Get("isbn"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": bookViews(books)})
}

// canManageBooks is false for anonymous callers and members
func canManageBooks(r *http.Request) bool {
	user := currentUser(r.Context())
	return user != nil && auth.Can(user.Role, auth.CapManageBooks)
}

// removeCover deletes a cover saved for a request that then failed
func (s *Server) removeCover(cover string) {
	if cover == "" {
		return
	}
	if err := os.Remove(filepath.Join(s.mediaRoot, filepath.FromSlash(cover))); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove cover", zap.String("path", cover), zap.Error(err))
	}
}

// writeBookErrors reports validation failures, including a duplicate ISBN
func writeBookErrors(w http.ResponseWriter, errs fieldErrors) {
	writeJSON(w, http.StatusBadRequest, errs)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	if !canManageBooks(r) {
		forbidden(w, "Not authorized.")
		return
	}

	p, errs, err := readBookPayload(r)
	if err != nil {
		badRequest(w, "error", "Invalid request body.")
		return
	}
	p.validate(true, errs)
	if len(errs) > 0 {
		writeBookErrors(w, errs)
		return
	}

	book := &models.Book{
		Title:    strings.TrimSpace(*p.Title),
		Author:   strings.TrimSpace(*p.Author),
		ISBN:     strings.TrimSpace(*p.ISBN),
		Quantity: 1,
	}
	if p.Quantity != nil {
		book.Quantity = *p.Quantity
	}
	if p.Category != nil {
		book.Category = *p.Category
	}
	if p.Description != nil {
		book.Description = *p.Description
	}
	if p.cover != nil {
		if book.CoverImage, err = s.saveCover(p.cover); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	created, err := s.lib.CreateBook(r.Context(), book)
	if err != nil {
		s.removeCover(book.CoverImage)
		if errors.Is(err, storage.ErrConflict) {
			writeBookErrors(w, fieldErrors{"isbn": {"book with this isbn already exists."}})
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookView(*created))
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	if !canManageBooks(r) {
		forbidden(w, "Not authorized.")
		return
	}

	p, errs, err := readBookPayload(r)
	if err != nil {
		badRequest(w, "error", "Invalid request body.")
		return
	}
	p.validate(false, errs)
	if len(errs) > 0 {
		writeBookErrors(w, errs)
		return
	}

	update := storage.BookUpdate{
		Title:       p.Title,
		Author:      p.Author,
		ISBN:        p.ISBN,
		Quantity:    p.Quantity,
		Category:    p.Category,
		Description: p.Description,
	}
	if p.cover != nil {
		cover, err := s.saveCover(p.cover)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		update.CoverImage = &cover
	}

	book, err := s.lib.UpdateBook(r.Context(), pathID(r), update)
	if err != nil {
		if update.CoverImage != nil {
			s.removeCover(*update.CoverImage)
		}
		if errors.Is(err, storage.ErrConflict) {
			writeBookErrors(w, fieldErrors{"isbn": {"book with this isbn already exists."}})
			return
		}
		s.fail(w, r, err)
		return
	}
	s.logger.Info("Book updated", zap.Int64("book_id", book.ID))
	writeJSON(w, http.StatusOK, bookView(*book))
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if !canManageBooks(r) {
		forbidden(w, "Not authorized.")
		return
	}
	if err := s.lib.DeleteBook(r.Context(), pathID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
