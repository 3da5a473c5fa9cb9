package api

import (
	"time"

	"github.com/shopspring/decimal"

	"library-backend/internal/models"
)

type bookJSON struct {
	ID              int64   `json:"id"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	ISBN            string  `json:"isbn"`
	CoverImage      *string `json:"cover_image"`
	Description     string  `json:"description"`
	Category        string  `json:"category"`
	Quantity        int     `json:"quantity"`
	AvailableCopies int     `json:"available_copies"`
}

func bookView(b models.BookAvailability) bookJSON {
	v := bookJSON{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Description:     b.Description,
		Category:        b.Category,
		Quantity:        b.Quantity,
		AvailableCopies: b.AvailableCopies(),
	}
	if b.CoverImage != "" {
		url := "/media/" + b.CoverImage
		v.CoverImage = &url
	}
	return v
}

func bookViews(books []models.BookAvailability) []bookJSON {
	out := make([]bookJSON, 0, len(books))
	for _, b := range books {
		out = append(out, bookView(b))
	}
	return out
}

type loanJSON struct {
	ID          int64      `json:"id"`
	User        int64      `json:"user"`
	UserName    string     `json:"user_name"`
	Book        int64      `json:"book"`
	BookTitle   string     `json:"book_title"`
	BorrowedAt  time.Time  `json:"borrowed_at"`
	DueDate     time.Time  `json:"due_date"`
	ReturnedAt  *time.Time `json:"returned_at"`
	FineAmount  string     `json:"fine_amount"`
	CurrentFine string     `json:"current_fine"`
}

func (s *Server) loanView(l models.LoanDetail) loanJSON {
	return loanJSON{
		ID:          l.ID,
		User:        l.UserID,
		UserName:    l.Username,
		Book:        l.BookID,
		BookTitle:   l.BookTitle,
		BorrowedAt:  l.BorrowedAt,
		DueDate:     l.DueDate,
		ReturnedAt:  l.ReturnedAt,
		FineAmount:  money(l.FineAmount),
		CurrentFine: money(l.CurrentFine(s.lib.Now(), s.lib.FinePerDay())),
	}
}

func (s *Server) loanViews(loans []models.LoanDetail) []loanJSON {
	out := make([]loanJSON, 0, len(loans))
	for _, l := range loans {
		out = append(out, s.loanView(l))
	}
	return out
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type reservationJSON struct {
	ID         int64                    `json:"id"`
	User       int64                    `json:"user"`
	UserName   string                   `json:"user_name"`
	Book       int64                    `json:"book"`
	BookTitle  string                   `json:"book_title"`
	ReservedAt time.Time                `json:"reserved_at"`
	Status     models.ReservationStatus `json:"status"`
}

func reservationViews(rs []models.ReservationDetail) []reservationJSON {
	out := make([]reservationJSON, 0, len(rs))
	for _, r := range rs {
		out = append(out, reservationJSON{
			ID:         r.ID,
			User:       r.UserID,
			UserName:   r.Username,
			Book:       r.BookID,
			BookTitle:  r.BookTitle,
			ReservedAt: r.ReservedAt,
			Status:     r.Status,
		})
	}
	return out
}

type userJSON struct {
	ID       int64       `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
}

func userView(u models.User) userJSON {
	return userJSON{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}
}

type borrowRequestJSON struct {
	ID          int64     `json:"id"`
	BookTitle   string    `json:"book_title"`
	User        string    `json:"user"`
	RequestedAt time.Time `json:"requested_at"`
}

type eventJSON struct {
	Date     time.Time `json:"date"`
	Action   string    `json:"action"`
	BookID   int64     `json:"book_id"`
	BookName string    `json:"book_name"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
}
