package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the closed set of user roles
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
	RoleMember    Role = "member"
)

// ParseRole parses a role case-insensitively. Unknown values yield false.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleLibrarian:
		return RoleLibrarian, true
	case RoleMember:
		return RoleMember, true
	}
	return "", false
}

// IsStaff reports whether the role may manage the catalogue
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleLibrarian
}

// User represents a library account
type User struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         Role      `db:"role"`
	DateJoined   time.Time `db:"date_joined"`
}

// Book represents a catalogue title. Quantity is the number of copies owned.
type Book struct {
	ID          int64  `db:"id"`
	Title       string `db:"title"`
	Author      string `db:"author"`
	ISBN        string `db:"isbn"`
	Quantity    int    `db:"quantity"`
	Category    string `db:"category"`
	Description string `db:"description"`
	CoverImage  string `db:"cover_image"`
}

// BookAvailability pairs a book with its derived availability
type BookAvailability struct {
	Book
	Outstanding int `db:"outstanding"`
}

// AvailableCopies is quantity minus outstanding loans. It is not clamped.
func (b BookAvailability) AvailableCopies() int {
	return AvailableCopies(b.Quantity, b.Outstanding)
}

// AvailableCopies computes availability from the owned and outstanding counts
func AvailableCopies(quantity, outstanding int) int {
	return quantity - outstanding
}

// Loan is one borrowing of one book by one user
type Loan struct {
	ID         int64           `db:"id"`
	UserID     int64           `db:"user_id"`
	BookID     int64           `db:"book_id"`
	BorrowedAt time.Time       `db:"borrowed_at"`
	DueDate    time.Time       `db:"due_date"`
	ReturnedAt *time.Time      `db:"returned_at"`
	FineAmount decimal.Decimal `db:"fine_amount"`
}

// LoanDetail is a loan joined with its user and book for display
type LoanDetail struct {
	Loan
	Username  string `db:"username"`
	Email     string `db:"email"`
	BookTitle string `db:"book_title"`
}

// Reservation is a hold placed on a book with no free copies
type Reservation struct {
	ID         int64             `db:"id"`
	UserID     int64             `db:"user_id"`
	BookID     int64             `db:"book_id"`
	Status     ReservationStatus `db:"status"`
	ReservedAt time.Time         `db:"reserved_at"`
}

// ReservationDetail is a reservation joined with its user and book
type ReservationDetail struct {
	Reservation
	Username  string `db:"username"`
	BookTitle string `db:"book_title"`
}

// BorrowRequest is a member's request for staff to issue a book
type BorrowRequest struct {
	ID          int64               `db:"id"`
	UserID      int64               `db:"user_id"`
	BookID      int64               `db:"book_id"`
	Status      BorrowRequestStatus `db:"status"`
	RequestedAt time.Time           `db:"requested_at"`
}

// BorrowRequestDetail is a borrow request joined with its user and book
type BorrowRequestDetail struct {
	BorrowRequest
	Username  string `db:"username"`
	BookTitle string `db:"book_title"`
}

// CirculationEvent is one entry of the circulation journal
type CirculationEvent struct {
	Date     time.Time
	Action   string
	BookID   int64
	BookName string
	UserID   int64
	Username string
}

// Circulation journal actions
const (
	ActionBorrow  = "borrow"
	ActionReturn  = "return"
	ActionReserve = "reserve"
	ActionCancel  = "cancel"
	ActionFulfill = "fulfill"
	ActionApprove = "approve"
	ActionReject  = "reject"
)
