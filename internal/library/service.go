// Package library implements circulation: loans, returns, reservations and
// borrow requests. Every state change runs under the affected book's lock.
package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"library-backend/internal/models"
	"library-backend/internal/notify"
	"library-backend/internal/storage"
)

const (
	// QueuePageSize is the number of reservations per queue page
	QueuePageSize = 10

	// DashboardTopBooks is the number of lowest-availability books on the dashboard
	DashboardTopBooks = 5

	// LowAvailabilityThreshold marks books with this many copies left or fewer
	LowAvailabilityThreshold = 2
)

var (
	ErrUserIDRequired = errors.New("user id is required to issue a book")
	ErrInvalidPage    = errors.New("invalid page")
)

// BookError attaches the affected book's title to a rule violation
type BookError struct {
	Err   error
	Title string
}

func (e *BookError) Error() string {
	return fmt.Sprintf("%s: %v", e.Title, e.Err)
}

func (e *BookError) Unwrap() error {
	return e.Err
}

// Publisher hands notification intents to the background worker
type Publisher interface {
	Publish(ctx context.Context, intent notify.Intent) error
}

// Options tunes the service
type Options struct {
	FinePerDay decimal.Decimal
	ReturnURL  string
	Now        func() time.Time
}

// Service orchestrates the circulation rules over a Storage
type Service struct {
	db         storage.Storage
	journal    storage.Journal
	publisher  Publisher
	finePerDay decimal.Decimal
	returnURL  string
	now        func() time.Time
	logger     *zap.Logger
}

// NewService creates a circulation service. journal and publisher may be nil.
func NewService(db storage.Storage, journal storage.Journal, publisher Publisher, logger *zap.Logger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FinePerDay.IsZero() {
		opts.FinePerDay = decimal.NewFromInt(models.DefaultFinePerDay)
	}
	return &Service{
		db:         db,
		journal:    journal,
		publisher:  publisher,
		finePerDay: opts.FinePerDay,
		returnURL:  opts.ReturnURL,
		now:        opts.Now,
		logger:     logger,
	}
}

// FinePerDay is the daily overdue charge
func (s *Service) FinePerDay() decimal.Decimal {
	return s.finePerDay
}

// Now is the service clock
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) record(ctx context.Context, action string, bookID int64, bookName string, userID int64, username string) {
	if s.journal == nil {
		return
	}
	err := s.journal.RecordEvent(ctx, models.CirculationEvent{
		Date:     s.now(),
		Action:   action,
		BookID:   bookID,
		BookName: bookName,
		UserID:   userID,
		Username: username,
	})
	if err != nil {
		s.logger.Warn("Failed to record circulation event",
			zap.Error(err),
			zap.String("action", action),
			zap.Int64("book_id", bookID),
		)
	}
}

func (s *Service) publish(ctx context.Context, intent notify.Intent) {
	if s.publisher == nil || intent.To == "" {
		return
	}
	if err := s.publisher.Publish(ctx, intent); err != nil {
		s.logger.Error("Failed to publish notification",
			zap.Error(err),
			zap.String("kind", string(intent.Kind)),
			zap.String("to", intent.To),
		)
	}
}

// issue creates a loan for an available copy. Must run under the book lock.
func (s *Service) issue(ctx context.Context, tx storage.Storage, book *models.BookAvailability, userID int64, due time.Time) (*models.Loan, error) {
	if book.AvailableCopies() <= 0 {
		return nil, &BookError{Err: models.ErrNoCopiesAvailable, Title: book.Title}
	}
	now := s.now()
	loan := &models.Loan{
		UserID:     userID,
		BookID:     book.ID,
		BorrowedAt: now,
		DueDate:    due,
		FineAmount: decimal.Zero,
	}
	if err := tx.CreateLoan(ctx, loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// BorrowInput describes a borrow request
type BorrowInput struct {
	Actor        *models.User
	BookID       int64
	IssueToOther bool       // the actor issues on behalf of TargetUserID
	TargetUserID int64      // required when IssueToOther is set
	DueDate      *time.Time // nil means the default loan period
}

// BorrowResult is a created loan with its book and borrower
type BorrowResult struct {
	Loan     *models.Loan
	Book     *models.BookAvailability
	Borrower *models.User
}

// Borrow issues a copy of a book, to the actor or on their behalf to another user
func (s *Service) Borrow(ctx context.Context, in BorrowInput) (*BorrowResult, error) {
	book, err := s.db.GetBook(ctx, in.BookID)
	if err != nil {
		return nil, err
	}

	borrower := in.Actor
	if in.IssueToOther {
		if in.TargetUserID == 0 {
			return nil, ErrUserIDRequired
		}
		if borrower, err = s.db.GetUser(ctx, in.TargetUserID); err != nil {
			return nil, err
		}
	}

	due := models.DefaultDueDate(s.now())
	if in.DueDate != nil {
		due = *in.DueDate
	}

	var loan *models.Loan
	err = s.db.WithBookLock(ctx, book.ID, func(tx storage.Storage) error {
		locked, err := tx.GetBook(ctx, book.ID)
		if err != nil {
			return err
		}
		book = locked
		loan, err = s.issue(ctx, tx, locked, borrower.ID, due)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Book issued",
		zap.Int64("loan_id", loan.ID),
		zap.Int64("book_id", book.ID),
		zap.String("username", borrower.Username),
	)
	s.record(ctx, models.ActionBorrow, book.ID, book.Title, borrower.ID, borrower.Username)
	s.publish(ctx, notify.BorrowConfirmation(borrower.Email, borrower.Username, book.Title, loan.DueDate, s.returnURL))

	return &BorrowResult{Loan: loan, Book: book, Borrower: borrower}, nil
}

// Return closes a loan and charges the overdue fine
func (s *Service) Return(ctx context.Context, loanID int64) (*models.LoanDetail, error) {
	loan, err := s.db.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.IsOutstanding() {
		return nil, models.ErrAlreadyReturned
	}

	err = s.db.WithBookLock(ctx, loan.BookID, func(tx storage.Storage) error {
		current, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if err := current.Loan.Return(s.now(), s.finePerDay); err != nil {
			return err
		}
		if err := tx.SaveLoanReturn(ctx, &current.Loan); err != nil {
			return err
		}
		loan = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Book returned",
		zap.Int64("loan_id", loan.ID),
		zap.String("fine", loan.FineAmount.StringFixed(2)),
	)
	s.record(ctx, models.ActionReturn, loan.BookID, loan.BookTitle, loan.UserID, loan.Username)
	return loan, nil
}

// Reserve places a hold on a book that has no free copies
func (s *Service) Reserve(ctx context.Context, actor *models.User, bookID int64) (*models.Reservation, *models.BookAvailability, error) {
	var (
		reservation *models.Reservation
		book        *models.BookAvailability
	)
	err := s.db.WithBookLock(ctx, bookID, func(tx storage.Storage) error {
		var err error
		if book, err = tx.GetBook(ctx, bookID); err != nil {
			return err
		}
		if book.AvailableCopies() > 0 {
			return &BookError{Err: models.ErrBookAvailable, Title: book.Title}
		}
		reservation = &models.Reservation{
			UserID:     actor.ID,
			BookID:     bookID,
			Status:     models.ReservationPending,
			ReservedAt: s.now(),
		}
		return tx.CreateReservation(ctx, reservation)
	})
	if err != nil {
		return nil, nil, err
	}

	s.record(ctx, models.ActionReserve, book.ID, book.Title, actor.ID, actor.Username)
	return reservation, book, nil
}

// CancelReservation cancels a pending reservation
func (s *Service) CancelReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	reservation, err := s.db.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithBookLock(ctx, reservation.BookID, func(tx storage.Storage) error {
		current, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		next, err := current.Status.Transition(models.ReservationCancelled)
		if err != nil {
			return err
		}
		if err := tx.UpdateReservationStatus(ctx, id, next); err != nil {
			return err
		}
		current.Status = next
		reservation = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordReservation(ctx, models.ActionCancel, reservation)
	return reservation, nil
}

func (s *Service) recordReservation(ctx context.Context, action string, r *models.Reservation) {
	var bookName, username string
	if book, err := s.db.GetBook(ctx, r.BookID); err == nil {
		bookName = book.Title
	}
	if user, err := s.db.GetUser(ctx, r.UserID); err == nil {
		username = user.Username
	}
	s.record(ctx, action, r.BookID, bookName, r.UserID, username)
}

// FulfillReservation issues a copy to the holder of a pending reservation
func (s *Service) FulfillReservation(ctx context.Context, id int64) (*models.LoanDetail, error) {
	reservation, err := s.db.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	var loan *models.LoanDetail
	err = s.db.WithBookLock(ctx, reservation.BookID, func(tx storage.Storage) error {
		current, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		next, err := current.Status.Transition(models.ReservationFulfilled)
		if err != nil {
			return err
		}
		book, err := tx.GetBook(ctx, current.BookID)
		if err != nil {
			return err
		}
		created, err := s.issue(ctx, tx, book, current.UserID, models.DefaultDueDate(s.now()))
		if err != nil {
			return err
		}
		if err := tx.UpdateReservationStatus(ctx, id, next); err != nil {
			return err
		}
		loan, err = tx.GetLoan(ctx, created.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, models.ActionFulfill, loan.BookID, loan.BookTitle, loan.UserID, loan.Username)
	return loan, nil
}

// CreateBorrowRequest asks staff to issue a book to the actor
func (s *Service) CreateBorrowRequest(ctx context.Context, actor *models.User, bookID int64) (*models.BorrowRequest, *models.BookAvailability, error) {
	var (
		request *models.BorrowRequest
		book    *models.BookAvailability
	)
	err := s.db.WithBookLock(ctx, bookID, func(tx storage.Storage) error {
		var err error
		if book, err = tx.GetBook(ctx, bookID); err != nil {
			return err
		}
		pending, err := tx.HasPendingBorrowRequest(ctx, bookID, actor.ID)
		if err != nil {
			return err
		}
		if pending {
			return models.ErrDuplicateRequest
		}
		request = &models.BorrowRequest{
			UserID:      actor.ID,
			BookID:      bookID,
			Status:      models.BorrowRequestPending,
			RequestedAt: s.now(),
		}
		return tx.CreateBorrowRequest(ctx, request)
	})
	if err != nil {
		return nil, nil, err
	}
	return request, book, nil
}

// DecisionResult is the outcome of approving or rejecting a borrow request
type DecisionResult struct {
	Request  *models.BorrowRequest
	Book     *models.BookAvailability
	Borrower *models.User
	Loan     *models.Loan // set when approved
}

// ProcessBorrowRequest approves or rejects a pending borrow request.
// Approval requires a free copy.
func (s *Service) ProcessBorrowRequest(ctx context.Context, requestID int64, action models.BorrowRequestAction) (*DecisionResult, error) {
	request, err := s.db.GetBorrowRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	target, err := action.Target()
	if err != nil {
		return nil, err
	}
	borrower, err := s.db.GetUser(ctx, request.UserID)
	if err != nil {
		return nil, err
	}

	result := &DecisionResult{Borrower: borrower}
	err = s.db.WithBookLock(ctx, request.BookID, func(tx storage.Storage) error {
		current, err := tx.GetBorrowRequest(ctx, requestID)
		if err != nil {
			return err
		}
		next, err := current.Status.Transition(target)
		if err != nil {
			return err
		}
		book, err := tx.GetBook(ctx, current.BookID)
		if err != nil {
			return err
		}
		result.Book = book

		if next == models.BorrowRequestApproved {
			if result.Loan, err = s.issue(ctx, tx, book, current.UserID, models.DefaultDueDate(s.now())); err != nil {
				return err
			}
		}
		if err := tx.UpdateBorrowRequestStatus(ctx, requestID, next); err != nil {
			return err
		}
		current.Status = next
		result.Request = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	journalAction := models.ActionReject
	if result.Loan != nil {
		journalAction = models.ActionApprove
		s.publish(ctx, notify.BorrowConfirmation(borrower.Email, borrower.Username, result.Book.Title, result.Loan.DueDate, s.returnURL))
	}
	s.record(ctx, journalAction, result.Book.ID, result.Book.Title, borrower.ID, borrower.Username)
	return result, nil
}

// ExpireReservations cancels pending reservations older than the hold period
func (s *Service) ExpireReservations(ctx context.Context) (int, error) {
	n, err := s.db.ExpireReservations(ctx, s.now().Add(-models.ReservationTTL))
	if err != nil {
		return 0, err
	}
	s.logger.Info("Auto-cancelled expired reservations", zap.Int("count", n))
	return n, nil
}
