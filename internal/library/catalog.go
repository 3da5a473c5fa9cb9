package library

import (
	"context"

	"go.uber.org/zap"

	"library-backend/internal/models"
	"library-backend/internal/storage"
)

// AvailableBooks lists books the library owns at least one copy of
func (s *Service) AvailableBooks(ctx context.Context) ([]models.BookAvailability, error) {
	return s.db.ListBooks(ctx, storage.BookFilter{OnlyOwned: true})
}

// SearchBooks matches title, author and ISBN substrings case-insensitively
func (s *Service) SearchBooks(ctx context.Context, title, author, isbn string) ([]models.BookAvailability, error) {
	return s.db.ListBooks(ctx, storage.BookFilter{Title: title, Author: author, ISBN: isbn})
}

// Book returns one book with its availability
func (s *Service) Book(ctx context.Context, id int64) (*models.BookAvailability, error) {
	return s.db.GetBook(ctx, id)
}

// CreateBook adds a title to the catalogue
func (s *Service) CreateBook(ctx context.Context, book *models.Book) (*models.BookAvailability, error) {
	if err := s.db.CreateBook(ctx, book); err != nil {
		return nil, err
	}
	s.logger.Info("Book created", zap.Int64("book_id", book.ID), zap.String("title", book.Title))
	return &models.BookAvailability{Book: *book}, nil
}

// UpdateBook applies a partial update to a book
func (s *Service) UpdateBook(ctx context.Context, id int64, update storage.BookUpdate) (*models.BookAvailability, error) {
	return s.db.UpdateBook(ctx, id, update)
}

// DeleteBook removes a book and everything referencing it
func (s *Service) DeleteBook(ctx context.Context, id int64) error {
	if err := s.db.DeleteBook(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Book deleted", zap.Int64("book_id", id))
	return nil
}

// BorrowedBooks lists outstanding loans; all of them when everyone is true
func (s *Service) BorrowedBooks(ctx context.Context, actor *models.User, everyone bool) ([]models.LoanDetail, error) {
	if everyone {
		return s.db.ListOutstandingLoans(ctx, 0)
	}
	return s.db.ListOutstandingLoans(ctx, actor.ID)
}

// UserReservations lists the reservations a user has made
func (s *Service) UserReservations(ctx context.Context, userID int64) ([]models.ReservationDetail, error) {
	return s.db.ListReservationsByUser(ctx, userID)
}

// Users lists every account
func (s *Service) Users(ctx context.Context) ([]models.User, error) {
	return s.db.ListUsers(ctx)
}

// QueueQuery selects a page of a book's reservation queue
type QueueQuery struct {
	BookID int64
	UserID int64 // 0 shows every user's reservations
	Search string
	Sort   storage.ReservationSort
	Page   int // 1-based
}

// QueuePage is one page of a reservation queue
type QueuePage struct {
	Book         *models.BookAvailability
	Reservations []models.ReservationDetail
	Count        int
	Page         int
	HasNext      bool
	HasPrevious  bool
}

// ReservationQueue pages through a book's reservations
func (s *Service) ReservationQueue(ctx context.Context, q QueueQuery) (*QueuePage, error) {
	book, err := s.db.GetBook(ctx, q.BookID)
	if err != nil {
		return nil, err
	}
	if q.Page < 1 {
		return nil, ErrInvalidPage
	}

	rows, total, err := s.db.QueryReservations(ctx, storage.ReservationQuery{
		BookID: q.BookID,
		UserID: q.UserID,
		Search: q.Search,
		Sort:   q.Sort,
		Limit:  QueuePageSize,
		Offset: (q.Page - 1) * QueuePageSize,
	})
	if err != nil {
		return nil, err
	}
	if q.Page > 1 && (q.Page-1)*QueuePageSize >= total {
		return nil, ErrInvalidPage
	}

	return &QueuePage{
		Book:         book,
		Reservations: rows,
		Count:        total,
		Page:         q.Page,
		HasNext:      q.Page*QueuePageSize < total,
		HasPrevious:  q.Page > 1,
	}, nil
}

// ExportReservations lists a book's reservations in creation order
func (s *Service) ExportReservations(ctx context.Context, bookID int64) ([]models.ReservationDetail, error) {
	return s.db.ListReservationsByBook(ctx, bookID)
}

// Dashboard aggregates circulation figures for the staff overview
type Dashboard struct {
	TotalBooks      int
	BorrowedBooks   int
	OverdueBooks    int
	MostBorrowed    []models.BookAvailability
	LowAvailability []models.BookAvailability
	PendingRequests []models.BorrowRequestDetail
}

// Dashboard collects the dashboard figures
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	var (
		d   Dashboard
		err error
	)
	if d.TotalBooks, err = s.db.CountBooks(ctx); err != nil {
		return nil, err
	}
	if d.BorrowedBooks, err = s.db.CountOutstandingLoans(ctx); err != nil {
		return nil, err
	}
	if d.OverdueBooks, err = s.db.CountOverdueLoans(ctx, s.now()); err != nil {
		return nil, err
	}
	if d.MostBorrowed, err = s.db.ListBooksByAvailability(ctx, DashboardTopBooks); err != nil {
		return nil, err
	}
	if d.LowAvailability, err = s.db.ListLowAvailabilityBooks(ctx, LowAvailabilityThreshold); err != nil {
		return nil, err
	}
	if d.PendingRequests, err = s.db.ListPendingBorrowRequests(ctx); err != nil {
		return nil, err
	}
	return &d, nil
}

// Activity returns the most recent circulation events
func (s *Service) Activity(ctx context.Context, limit int) ([]models.CirculationEvent, error) {
	if s.journal == nil {
		return []models.CirculationEvent{}, nil
	}
	return s.journal.GetLastEvents(ctx, limit)
}
