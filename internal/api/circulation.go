package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"library-backend/internal/auth"
	"library-backend/internal/library"
	"library-backend/internal/models"
	"library-backend/internal/storage"
)

const (
	dateLayout       = "2006-01-02"
	csvTimeLayout    = "2006-01-02 15:04:05-07:00"
	csvMicroLayout   = "2006-01-02 15:04:05.000000-07:00"
	defaultActivity  = 50
	maxActivityLimit = 500
)

type borrowRequestBody struct {
	UserID  any    `json:"user_id"`
	DueDate string `json:"due_date"`
}

// parseUserID accepts user_id as a JSON number or a numeric string
func parseUserID(v any) (int64, bool) {
	switch id := v.(type) {
	case nil:
		return 0, true
	case float64:
		if id != float64(int64(id)) {
			return 0, false
		}
		return int64(id), true
	case string:
		if id == "" {
			return 0, true
		}
		n, err := strconv.ParseInt(id, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// csvTime renders a timestamp with a numeric offset, adding microseconds only when present
func csvTime(t time.Time) string {
	if t.Nanosecond()/int(time.Microsecond) != 0 {
		return t.Format(csvMicroLayout)
	}
	return t.Format(csvTimeLayout)
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())

	// An unknown book is reported before the body is looked at
	if _, err := s.lib.Book(r.Context(), pathID(r)); err != nil {
		s.fail(w, r, err)
		return
	}

	var body borrowRequestBody
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "error", "Invalid request body.")
		return
	}
	targetID, ok := parseUserID(body.UserID)
	if !ok {
		badRequest(w, "error", "Invalid user ID.")
		return
	}

	in := library.BorrowInput{
		Actor:        user,
		BookID:       pathID(r),
		IssueToOther: auth.Can(user.Role, auth.CapBorrowForOthers),
		TargetUserID: targetID,
	}
	if body.DueDate != "" {
		due, err := time.ParseInLocation(dateLayout, body.DueDate, s.lib.Now().Location())
		if err != nil {
			badRequest(w, "error", "Invalid date format. Use YYYY-MM-DD.")
			return
		}
		in.DueDate = &due
	}

	res, err := s.lib.Borrow(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  fmt.Sprintf("Book '%s' issued to %s successfully!", res.Book.Title, res.Borrower.Username),
		"due_date": res.Loan.DueDate.Format(dateLayout),
		"loan_id":  res.Loan.ID,
	})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	if !auth.Can(currentUser(r.Context()).Role, auth.CapReturnBooks) {
		forbidden(w, "Only librarians or admins can return books. Please contact your librarian for assistance.")
		return
	}

	loan, err := s.lib.Return(r.Context(), pathID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Book '%s' returned successfully! Fine: %s", loan.BookTitle, money(loan.FineAmount)),
		"fine":    money(loan.FineAmount),
	})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	reservation, book, err := s.lib.Reserve(r.Context(), currentUser(r.Context()), pathID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":        fmt.Sprintf("Book '%s' reserved successfully! Your reservation ID: %d", book.Title, reservation.ID),
		"reservation_id": reservation.ID,
	})
}

func (s *Server) handleBorrowedBooks(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	loans, err := s.lib.BorrowedBooks(r.Context(), user, auth.Can(user.Role, auth.CapViewAllLoans))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"borrowed_books": s.loanViews(loans)})
}

func (s *Server) handleMyReservations(w http.ResponseWriter, r *http.Request) {
	reservations, err := s.lib.UserReservations(r.Context(), currentUser(r.Context()).ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": reservationViews(reservations)})
}

func (s *Server) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	if _, err := s.lib.CancelReservation(r.Context(), pathID(r)); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			badRequest(w, "error", "Only pending reservations can be cancelled.")
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Reservation cancelled successfully."})
}

func (s *Server) handleFulfillReservation(w http.ResponseWriter, r *http.Request) {
	loan, err := s.lib.FulfillReservation(r.Context(), pathID(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidTransition):
			badRequest(w, "error", "Only pending reservations can be fulfilled.")
		case errors.Is(err, models.ErrNoCopiesAvailable):
			badRequest(w, "error", "No available copies to fulfill the reservation.")
		default:
			s.fail(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Reservation fulfilled and book issued.",
		"borrowed_book": s.loanView(*loan),
	})
}

// pageURL is the absolute URL of the same listing at another page
func pageURL(r *http.Request, page int) *string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	q := r.URL.Query()
	if page == 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
	s := u.String()
	return &s
}

func (s *Server) handleReservationQueue(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	q := r.URL.Query()

	sort, err := storage.ParseReservationSort(q.Get("sort"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page := 1
	if raw := q.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil {
			s.fail(w, r, library.ErrInvalidPage)
			return
		}
	}

	query := library.QueueQuery{
		BookID: pathID(r),
		Search: q.Get("search"),
		Sort:   sort,
		Page:   page,
	}
	if !auth.Can(user.Role, auth.CapViewAllReservation) {
		query.UserID = user.ID
	}

	res, err := s.lib.ReservationQueue(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var next, previous *string
	if res.HasNext {
		next = pageURL(r, res.Page+1)
	}
	if res.HasPrevious {
		previous = pageURL(r, res.Page-1)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    res.Count,
		"next":     next,
		"previous": previous,
		"results": map[string]any{
			"book_title":   res.Book.Title,
			"reservations": reservationViews(res.Reservations),
		},
	})
}

func (s *Server) handleExportReservations(w http.ResponseWriter, r *http.Request) {
	bookID := pathID(r)
	reservations, err := s.lib.ExportReservations(r.Context(), bookID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reservations_book_%d.csv"`, bookID))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write([]string{"User", "Reserved At", "Status"})
	for _, res := range reservations {
		cw.Write([]string{res.Username, csvTime(res.ReservedAt), string(res.Status)})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Error("Failed to write reservations export", zap.Error(err), zap.Int64("book_id", bookID))
	}
}

func (s *Server) handleCreateBorrowRequest(w http.ResponseWriter, r *http.Request) {
	request, book, err := s.lib.CreateBorrowRequest(r.Context(), currentUser(r.Context()), pathID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":    fmt.Sprintf("Borrow request for '%s' submitted successfully.", book.Title),
		"request_id": request.ID,
	})
}

func (s *Server) handleDecideBorrowRequest(w http.ResponseWriter, r *http.Request) {
	if !auth.Can(currentUser(r.Context()).Role, auth.CapDecideRequests) {
		forbidden(w, "Not authorized.")
		return
	}

	var body struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "error", "Invalid request body.")
		return
	}

	res, err := s.lib.ProcessBorrowRequest(r.Context(), pathID(r), models.BorrowRequestAction(body.Action))
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			badRequest(w, "error", "This borrow request has already been processed.")
			return
		}
		s.fail(w, r, err)
		return
	}

	if res.Loan != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  fmt.Sprintf("Borrow request approved. Book '%s' issued to %s.", res.Book.Title, res.Borrower.Username),
			"due_date": res.Loan.DueDate.Format(dateLayout),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Borrow request for '%s' has been rejected.", res.Book.Title),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.lib.Dashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	pending := make([]borrowRequestJSON, 0, len(d.PendingRequests))
	for _, req := range d.PendingRequests {
		pending = append(pending, borrowRequestJSON{
			ID:          req.ID,
			BookTitle:   req.BookTitle,
			User:        req.Username,
			RequestedAt: req.RequestedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_books":             d.TotalBooks,
		"borrowed_books":          d.BorrowedBooks,
		"overdue_books":           d.OverdueBooks,
		"most_borrowed_books":     bookViews(d.MostBorrowed),
		"low_availability":        bookViews(d.LowAvailability),
		"pending_borrow_requests": pending,
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if !auth.Can(currentUser(r.Context()).Role, auth.CapViewActivity) {
		forbidden(w, "Not authorized.")
		return
	}

	limit := defaultActivity
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(w, "error", "limit must be a positive integer.")
			return
		}
		limit = min(n, maxActivityLimit)
	}

	events, err := s.lib.Activity(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, eventJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
