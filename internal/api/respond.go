package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"library-backend/internal/auth"
	"library-backend/internal/library"
	"library-backend/internal/models"
	"library-backend/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	json.NewEncoder(w).Encode(body)
}

// fieldErrors collects validation messages per input field
type fieldErrors map[string][]string

func (fe fieldErrors) add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

// errorBody maps a service error to its status and response body
func errorBody(err error) (int, map[string]string) {
	var bookErr *library.BookError
	if errors.As(err, &bookErr) {
		switch {
		case errors.Is(bookErr.Err, models.ErrNoCopiesAvailable):
			return http.StatusBadRequest, map[string]string{"message": fmt.Sprintf("No available copies of '%s'.", bookErr.Title)}
		case errors.Is(bookErr.Err, models.ErrBookAvailable):
			return http.StatusBadRequest, map[string]string{"message": fmt.Sprintf("Book '%s' is available for borrowing. Please borrow it instead.", bookErr.Title)}
		}
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, map[string]string{"detail": "Not found."}
	case errors.Is(err, storage.ErrConflict):
		return http.StatusBadRequest, map[string]string{"error": "A record with these values already exists."}
	case errors.Is(err, storage.ErrInvalidSort):
		return http.StatusBadRequest, map[string]string{"error": "Invalid sort field."}
	case errors.Is(err, library.ErrInvalidPage):
		return http.StatusNotFound, map[string]string{"detail": "Invalid page."}
	case errors.Is(err, library.ErrUserIDRequired):
		return http.StatusBadRequest, map[string]string{"error": "User ID is required for librarians."}
	case errors.Is(err, models.ErrAlreadyReturned):
		return http.StatusBadRequest, map[string]string{"message": "Book already returned."}
	case errors.Is(err, models.ErrDuplicateRequest):
		return http.StatusBadRequest, map[string]string{"message": "You already have a pending borrow request for this book."}
	case errors.Is(err, models.ErrInvalidAction):
		return http.StatusBadRequest, map[string]string{"error": "Invalid action."}
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusBadRequest, map[string]string{"error": "Invalid status transition."}
	case errors.Is(err, auth.ErrMissingFields):
		return http.StatusBadRequest, map[string]string{"error": "All fields are required."}
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"}
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired"}
	}
	return http.StatusInternalServerError, map[string]string{"error": "Internal server error"}
}

// fail writes the response for err, logging unexpected failures
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorBody(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request error",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
	}
	writeJSON(w, status, body)
}

func forbidden(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusForbidden, map[string]string{"detail": detail})
}

func badRequest(w http.ResponseWriter, key, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{key: msg})
}

// pathID reads the numeric {id} route variable
func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

// decodeBody decodes an optional JSON body. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
