package stubs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"library-backend/internal/models"
	"library-backend/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing
// and local development. Writes made inside WithBookLock are not rolled back.
type MockDB struct {
	mu             sync.RWMutex
	users          map[int64]models.User
	books          map[int64]models.Book
	loans          map[int64]models.Loan
	reservations   map[int64]models.Reservation
	borrowRequests map[int64]models.BorrowRequest
	nextID         int64

	locksMu   sync.Mutex
	bookLocks map[int64]*sync.Mutex
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		users:          make(map[int64]models.User),
		books:          make(map[int64]models.Book),
		loans:          make(map[int64]models.Loan),
		reservations:   make(map[int64]models.Reservation),
		borrowRequests: make(map[int64]models.BorrowRequest),
		bookLocks:      make(map[int64]*sync.Mutex),
	}
}

// Initialize is a no-op for the mock database
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

func (m *MockDB) newID() int64 {
	m.nextID++
	return m.nextID
}

// CreateUser stores a user, enforcing a unique username
func (m *MockDB) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Username, user.Username) {
			return storage.ErrConflict
		}
	}
	user.ID = m.newID()
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now()
	}
	m.users[user.ID] = *user
	return nil
}

// GetUser returns a user by id
func (m *MockDB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

// GetUserByUsername returns a user by username
func (m *MockDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListUsers returns all users ordered by id
func (m *MockDB) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// CreateBook stores a book, enforcing a unique ISBN
func (m *MockDB) CreateBook(ctx context.Context, book *models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isbnTaken(book.ISBN, 0) {
		return storage.ErrConflict
	}
	book.ID = m.newID()
	m.books[book.ID] = *book
	return nil
}

func (m *MockDB) isbnTaken(isbn string, exceptID int64) bool {
	for id, b := range m.books {
		if id != exceptID && b.ISBN == isbn {
			return true
		}
	}
	return false
}

// outstanding must be called with m.mu held
func (m *MockDB) outstanding(bookID int64) int {
	n := 0
	for _, l := range m.loans {
		if l.BookID == bookID && l.IsOutstanding() {
			n++
		}
	}
	return n
}

func (m *MockDB) availability(b models.Book) models.BookAvailability {
	return models.BookAvailability{Book: b, Outstanding: m.outstanding(b.ID)}
}

// GetBook returns a book with its availability
func (m *MockDB) GetBook(ctx context.Context, id int64) (*models.BookAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.books[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	ba := m.availability(b)
	return &ba, nil
}

// UpdateBook applies a partial update
func (m *MockDB) UpdateBook(ctx context.Context, id int64, update storage.BookUpdate) (*models.BookAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if update.ISBN != nil && m.isbnTaken(*update.ISBN, id) {
		return nil, storage.ErrConflict
	}
	applyBookUpdate(&b, update)
	m.books[id] = b
	ba := m.availability(b)
	return &ba, nil
}

func applyBookUpdate(b *models.Book, u storage.BookUpdate) {
	if u.Title != nil {
		b.Title = *u.Title
	}
	if u.Author != nil {
		b.Author = *u.Author
	}
	if u.ISBN != nil {
		b.ISBN = *u.ISBN
	}
	if u.Quantity != nil {
		b.Quantity = *u.Quantity
	}
	if u.Category != nil {
		b.Category = *u.Category
	}
	if u.Description != nil {
		b.Description = *u.Description
	}
	if u.CoverImage != nil {
		b.CoverImage = *u.CoverImage
	}
}

// DeleteBook removes a book together with its loans, reservations and requests
func (m *MockDB) DeleteBook(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.books, id)
	for lid, l := range m.loans {
		if l.BookID == id {
			delete(m.loans, lid)
		}
	}
	for rid, r := range m.reservations {
		if r.BookID == id {
			delete(m.reservations, rid)
		}
	}
	for qid, q := range m.borrowRequests {
		if q.BookID == id {
			delete(m.borrowRequests, qid)
		}
	}
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// ListBooks returns books matching the filter ordered by id
func (m *MockDB) ListBooks(ctx context.Context, filter storage.BookFilter) ([]models.BookAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	books := make([]models.BookAvailability, 0)
	for _, b := range m.books {
		if filter.OnlyOwned && b.Quantity <= 0 {
			continue
		}
		if !containsFold(b.Title, filter.Title) || !containsFold(b.Author, filter.Author) || !containsFold(b.ISBN, filter.ISBN) {
			continue
		}
		books = append(books, m.availability(b))
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

// CountBooks returns the number of catalogue titles
func (m *MockDB) CountBooks(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.books), nil
}

// ListBooksByAvailability returns the books with the fewest available copies
func (m *MockDB) ListBooksByAvailability(ctx context.Context, limit int) ([]models.BookAvailability, error) {
	books, err := m.ListBooks(ctx, storage.BookFilter{})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(books, func(i, j int) bool {
		return books[i].AvailableCopies() < books[j].AvailableCopies()
	})
	if limit > 0 && limit < len(books) {
		books = books[:limit]
	}
	return books, nil
}

// ListLowAvailabilityBooks returns owned books with few copies left
func (m *MockDB) ListLowAvailabilityBooks(ctx context.Context, threshold int) ([]models.BookAvailability, error) {
	books, err := m.ListBooks(ctx, storage.BookFilter{OnlyOwned: true})
	if err != nil {
		return nil, err
	}
	low := make([]models.BookAvailability, 0)
	for _, b := range books {
		if b.AvailableCopies() <= threshold {
			low = append(low, b)
		}
	}
	return low, nil
}

// CreateLoan stores a new loan
func (m *MockDB) CreateLoan(ctx context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[loan.BookID]; !ok {
		return storage.ErrNotFound
	}
	if _, ok := m.users[loan.UserID]; !ok {
		return storage.ErrNotFound
	}
	loan.ID = m.newID()
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MockDB) loanDetail(l models.Loan) models.LoanDetail {
	u := m.users[l.UserID]
	return models.LoanDetail{
		Loan:      l,
		Username:  u.Username,
		Email:     u.Email,
		BookTitle: m.books[l.BookID].Title,
	}
}

// GetLoan returns a loan with its user and book
func (m *MockDB) GetLoan(ctx context.Context, id int64) (*models.LoanDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.loans[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	d := m.loanDetail(l)
	return &d, nil
}

// SaveLoanReturn persists the return time and fine of a loan
func (m *MockDB) SaveLoanReturn(ctx context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loans[loan.ID]
	if !ok {
		return storage.ErrNotFound
	}
	l.ReturnedAt = loan.ReturnedAt
	l.FineAmount = loan.FineAmount
	m.loans[loan.ID] = l
	return nil
}

func (m *MockDB) filterLoans(keep func(models.Loan) bool) []models.LoanDetail {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loans := make([]models.LoanDetail, 0)
	for _, l := range m.loans {
		if keep(l) {
			loans = append(loans, m.loanDetail(l))
		}
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].ID < loans[j].ID })
	return loans
}

// CountOutstandingLoans returns the number of unreturned loans
func (m *MockDB) CountOutstandingLoans(ctx context.Context) (int, error) {
	return len(m.filterLoans(models.Loan.IsOutstanding)), nil
}

// CountOverdueLoans returns the number of unreturned loans past due
func (m *MockDB) CountOverdueLoans(ctx context.Context, now time.Time) (int, error) {
	loans, err := m.ListOverdueLoans(ctx, now)
	return len(loans), err
}

// ListOutstandingLoans lists unreturned loans, optionally for one user
func (m *MockDB) ListOutstandingLoans(ctx context.Context, userID int64) ([]models.LoanDetail, error) {
	return m.filterLoans(func(l models.Loan) bool {
		return l.IsOutstanding() && (userID == 0 || l.UserID == userID)
	}), nil
}

// ListOverdueLoans lists unreturned loans due before now
func (m *MockDB) ListOverdueLoans(ctx context.Context, now time.Time) ([]models.LoanDetail, error) {
	return m.filterLoans(func(l models.Loan) bool { return l.IsOverdue(now) }), nil
}

// ListLoansDueBetween lists unreturned loans due in [start, end)
func (m *MockDB) ListLoansDueBetween(ctx context.Context, start, end time.Time) ([]models.LoanDetail, error) {
	return m.filterLoans(func(l models.Loan) bool {
		return l.IsOutstanding() && !l.DueDate.Before(start) && l.DueDate.Before(end)
	}), nil
}

// CreateReservation stores a new reservation
func (m *MockDB) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[reservation.BookID]; !ok {
		return storage.ErrNotFound
	}
	reservation.ID = m.newID()
	m.reservations[reservation.ID] = *reservation
	return nil
}

// GetReservation returns a reservation by id
func (m *MockDB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

// UpdateReservationStatus sets the status of a reservation
func (m *MockDB) UpdateReservationStatus(ctx context.Context, id int64, status models.ReservationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = status
	m.reservations[id] = r
	return nil
}

func (m *MockDB) filterReservations(keep func(models.Reservation) bool) []models.ReservationDetail {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ReservationDetail, 0)
	for _, r := range m.reservations {
		if keep(r) {
			out = append(out, models.ReservationDetail{
				Reservation: r,
				Username:    m.users[r.UserID].Username,
				BookTitle:   m.books[r.BookID].Title,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListReservationsByUser lists a user's reservations
func (m *MockDB) ListReservationsByUser(ctx context.Context, userID int64) ([]models.ReservationDetail, error) {
	return m.filterReservations(func(r models.Reservation) bool { return r.UserID == userID }), nil
}

// ListReservationsByBook lists a book's reservations in creation order
func (m *MockDB) ListReservationsByBook(ctx context.Context, bookID int64) ([]models.ReservationDetail, error) {
	return m.filterReservations(func(r models.Reservation) bool { return r.BookID == bookID }), nil
}

// QueryReservations filters, sorts and pages a reservation queue
func (m *MockDB) QueryReservations(ctx context.Context, query storage.ReservationQuery) ([]models.ReservationDetail, int, error) {
	matches := m.filterReservations(func(r models.Reservation) bool {
		return r.BookID == query.BookID && (query.UserID == 0 || r.UserID == query.UserID)
	})
	if query.Search != "" {
		filtered := matches[:0]
		for _, r := range matches {
			if containsFold(r.Username, query.Search) || containsFold(string(r.Status), query.Search) {
				filtered = append(filtered, r)
			}
		}
		matches = filtered
	}

	less := func(a, b models.ReservationDetail) bool {
		switch query.Sort.Field {
		case "status":
			return a.Status < b.Status
		case "id":
			return a.ID < b.ID
		default:
			return a.ReservedAt.Before(b.ReservedAt)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if query.Sort.Desc {
			return less(matches[j], matches[i])
		}
		return less(matches[i], matches[j])
	})

	total := len(matches)
	start := query.Offset
	if start > total {
		start = total
	}
	end := total
	if query.Limit > 0 && start+query.Limit < total {
		end = start + query.Limit
	}
	return matches[start:end], total, nil
}

// ExpireReservations cancels pending reservations older than the cutoff
func (m *MockDB) ExpireReservations(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, r := range m.reservations {
		if r.Status == models.ReservationPending && r.ReservedAt.Before(cutoff) {
			r.Status = models.ReservationCancelled
			m.reservations[id] = r
			count++
		}
	}
	return count, nil
}

// CreateBorrowRequest stores a new borrow request
func (m *MockDB) CreateBorrowRequest(ctx context.Context, request *models.BorrowRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[request.BookID]; !ok {
		return storage.ErrNotFound
	}
	request.ID = m.newID()
	m.borrowRequests[request.ID] = *request
	return nil
}

// GetBorrowRequest returns a borrow request by id
func (m *MockDB) GetBorrowRequest(ctx context.Context, id int64) (*models.BorrowRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.borrowRequests[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

// HasPendingBorrowRequest reports whether the user already waits for the book
func (m *MockDB) HasPendingBorrowRequest(ctx context.Context, bookID, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.borrowRequests {
		if r.BookID == bookID && r.UserID == userID && r.Status == models.BorrowRequestPending {
			return true, nil
		}
	}
	return false, nil
}

// UpdateBorrowRequestStatus sets the status of a borrow request
func (m *MockDB) UpdateBorrowRequestStatus(ctx context.Context, id int64, status models.BorrowRequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.borrowRequests[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = status
	m.borrowRequests[id] = r
	return nil
}

// ListPendingBorrowRequests lists requests awaiting a staff decision
func (m *MockDB) ListPendingBorrowRequests(ctx context.Context) ([]models.BorrowRequestDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.BorrowRequestDetail, 0)
	for _, r := range m.borrowRequests {
		if r.Status == models.BorrowRequestPending {
			out = append(out, models.BorrowRequestDetail{
				BorrowRequest: r,
				Username:      m.users[r.UserID].Username,
				BookTitle:     m.books[r.BookID].Title,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WithBookLock serialises fn against other lock holders of the same book
func (m *MockDB) WithBookLock(ctx context.Context, bookID int64, fn func(tx storage.Storage) error) error {
	m.mu.RLock()
	_, ok := m.books[bookID]
	m.mu.RUnlock()
	if !ok {
		return storage.ErrNotFound
	}

	m.locksMu.Lock()
	lock, ok := m.bookLocks[bookID]
	if !ok {
		lock = &sync.Mutex{}
		m.bookLocks[bookID] = lock
	}
	m.locksMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(m)
}
