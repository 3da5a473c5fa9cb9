package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"library-backend/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a uniqueness constraint is violated
	ErrConflict = errors.New("already exists")

	// ErrInvalidSort is returned for an unsupported reservation ordering
	ErrInvalidSort = errors.New("invalid sort field")
)

// BookFilter narrows book listings. Empty strings match everything.
type BookFilter struct {
	Title     string
	Author    string
	ISBN      string
	OnlyOwned bool // quantity > 0
}

// BookUpdate holds a partial book update; nil fields are left untouched
type BookUpdate struct {
	Title       *string
	Author      *string
	ISBN        *string
	Quantity    *int
	Category    *string
	Description *string
	CoverImage  *string
}

// ReservationSort is a validated ordering for reservation queues
type ReservationSort struct {
	Field string
	Desc  bool
}

var reservationSortFields = map[string]bool{
	"reserved_at": true,
	"status":      true,
	"id":          true,
}

// ParseReservationSort accepts a field name optionally prefixed with '-'
func ParseReservationSort(s string) (ReservationSort, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ReservationSort{Field: "reserved_at"}, nil
	}
	sort := ReservationSort{Field: strings.TrimPrefix(s, "-"), Desc: strings.HasPrefix(s, "-")}
	if !reservationSortFields[sort.Field] {
		return ReservationSort{}, fmt.Errorf("%w: %s", ErrInvalidSort, s)
	}
	return sort, nil
}

// ReservationQuery selects a page of a book's reservation queue
type ReservationQuery struct {
	BookID int64
	UserID int64 // 0 means every user
	Search string
	Sort   ReservationSort
	Limit  int
	Offset int
}

// Storage defines the interface for data storage operations
type Storage interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	// Book operations
	CreateBook(ctx context.Context, book *models.Book) error
	GetBook(ctx context.Context, id int64) (*models.BookAvailability, error)
	UpdateBook(ctx context.Context, id int64, update BookUpdate) (*models.BookAvailability, error)
	DeleteBook(ctx context.Context, id int64) error
	ListBooks(ctx context.Context, filter BookFilter) ([]models.BookAvailability, error)
	CountBooks(ctx context.Context) (int, error)

	// ListBooksByAvailability returns up to limit books, lowest availability first
	ListBooksByAvailability(ctx context.Context, limit int) ([]models.BookAvailability, error)

	// ListLowAvailabilityBooks returns owned books with at most threshold copies available
	ListLowAvailabilityBooks(ctx context.Context, threshold int) ([]models.BookAvailability, error)

	// Loan operations
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id int64) (*models.LoanDetail, error)
	SaveLoanReturn(ctx context.Context, loan *models.Loan) error
	CountOutstandingLoans(ctx context.Context) (int, error)
	CountOverdueLoans(ctx context.Context, now time.Time) (int, error)

	// ListOutstandingLoans lists unreturned loans; userID 0 lists every user's
	ListOutstandingLoans(ctx context.Context, userID int64) ([]models.LoanDetail, error)

	// ListOverdueLoans lists unreturned loans due before now
	ListOverdueLoans(ctx context.Context, now time.Time) ([]models.LoanDetail, error)

	// ListLoansDueBetween lists unreturned loans with start <= due_date < end
	ListLoansDueBetween(ctx context.Context, start, end time.Time) ([]models.LoanDetail, error)

	// Reservation operations
	CreateReservation(ctx context.Context, reservation *models.Reservation) error
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id int64, status models.ReservationStatus) error
	ListReservationsByUser(ctx context.Context, userID int64) ([]models.ReservationDetail, error)

	// ListReservationsByBook returns a book's reservations in creation order
	ListReservationsByBook(ctx context.Context, bookID int64) ([]models.ReservationDetail, error)

	// QueryReservations returns one page of a reservation queue and the total match count
	QueryReservations(ctx context.Context, query ReservationQuery) ([]models.ReservationDetail, int, error)

	// ExpireReservations cancels pending reservations made before the cutoff
	ExpireReservations(ctx context.Context, cutoff time.Time) (int, error)

	// Borrow request operations
	CreateBorrowRequest(ctx context.Context, request *models.BorrowRequest) error
	GetBorrowRequest(ctx context.Context, id int64) (*models.BorrowRequest, error)
	HasPendingBorrowRequest(ctx context.Context, bookID, userID int64) (bool, error)
	UpdateBorrowRequestStatus(ctx context.Context, id int64, status models.BorrowRequestStatus) error
	ListPendingBorrowRequests(ctx context.Context) ([]models.BorrowRequestDetail, error)

	// WithBookLock runs fn while holding an exclusive lock on the book.
	// Writes made through tx are committed only if fn returns nil.
	// Returns ErrNotFound if the book does not exist.
	WithBookLock(ctx context.Context, bookID int64, fn func(tx Storage) error) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}

// Journal records circulation events for reporting
type Journal interface {
	RecordEvent(ctx context.Context, event models.CirculationEvent) error
	GetLastEvents(ctx context.Context, limit int) ([]models.CirculationEvent, error)
	Close() error
}
