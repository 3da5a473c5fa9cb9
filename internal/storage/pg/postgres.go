package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"library-backend/internal/models"
	"library-backend/internal/storage"
	"library-backend/migrations"
)

const (
	tableUsers          = "users"
	tableBooks          = "books"
	tableLoans          = "loans"
	tableReservations   = "reservations"
	tableBorrowRequests = "borrow_requests"

	uniqueViolation = "23505"

	outstandingSQL = "(SELECT COUNT(*) FROM loans ol WHERE ol.book_id = b.id AND ol.returned_at IS NULL)"
	availableSQL   = "(b.quantity - " + outstandingSQL + ")"
)

var dialect = goqu.Dialect("postgres")

// PostgresDB implements storage.Storage on PostgreSQL
type PostgresDB struct {
	db          *sqlx.DB
	q           sqlx.ExtContext
	tx          *sqlx.Tx
	logger      *zap.Logger
	autoMigrate bool
}

// Options configures the connection pool
type Options struct {
	Driver       string // "postgres" (lib/pq) or "pgx"
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// NewPostgresDB opens and pings a PostgreSQL connection pool
func NewPostgresDB(opts Options, logger *zap.Logger) (*PostgresDB, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sqlx.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewFromDB(db, logger, opts.AutoMigrate), nil
}

// NewFromDB wraps an existing connection
func NewFromDB(db *sqlx.DB, logger *zap.Logger, autoMigrate bool) *PostgresDB {
	return &PostgresDB{db: db, q: db, logger: logger, autoMigrate: autoMigrate}
}

// Initialize applies pending schema migrations when auto-migration is enabled
func (p *PostgresDB) Initialize(ctx context.Context) error {
	if !p.autoMigrate {
		return nil
	}
	return Migrate(ctx, p.db.DB, "up")
}

// Migrate runs a goose command against the embedded PostgreSQL migrations
func Migrate(ctx context.Context, db *sql.DB, command string) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, db, migrations.PostgresDir)
	case "down":
		err = goose.DownContext(ctx, db, migrations.PostgresDir)
	case "status":
		err = goose.StatusContext(ctx, db, migrations.PostgresDir)
	case "version":
		err = goose.VersionContext(ctx, db, migrations.PostgresDir)
	case "reset":
		err = goose.ResetContext(ctx, db, migrations.PostgresDir)
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations (%s): %w", command, err)
	}
	return nil
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// DB exposes the underlying pool
func (p *PostgresDB) DB() *sqlx.DB {
	return p.db
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return storage.ErrConflict
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrConflict
	}
	return err
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func (p *PostgresDB) get(ctx context.Context, dest interface{}, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	p.logger.Debug("query", zap.String("sql", query))
	return mapError(sqlx.GetContext(ctx, p.q, dest, query, args...))
}

func (p *PostgresDB) selectAll(ctx context.Context, dest interface{}, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	p.logger.Debug("query", zap.String("sql", query))
	return mapError(sqlx.SelectContext(ctx, p.q, dest, query, args...))
}

func (p *PostgresDB) exec(ctx context.Context, b sqlBuilder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	p.logger.Debug("exec", zap.String("sql", query))
	res, err := p.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

func (p *PostgresDB) insertReturningID(ctx context.Context, table string, row goqu.Record) (int64, error) {
	var id int64
	err := p.get(ctx, &id, dialect.Insert(table).Prepared(true).Rows(row).Returning("id"))
	return id, err
}

func (p *PostgresDB) execOne(ctx context.Context, b sqlBuilder) error {
	n, err := p.exec(ctx, b)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// likePattern escapes LIKE wildcards and wraps s for a substring match
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// User operations

var userCols = []interface{}{"id", "username", "email", "password_hash", "role", "date_joined"}

// CreateUser inserts a user and sets its ID
func (p *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now()
	}
	id, err := p.insertReturningID(ctx, tableUsers, goqu.Record{
		"username":      user.Username,
		"email":         user.Email,
		"password_hash": user.PasswordHash,
		"role":          string(user.Role),
		"date_joined":   user.DateJoined,
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.ID = id
	return nil
}

// GetUser returns a user by id
func (p *PostgresDB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	if err := p.get(ctx, &u, dialect.From(tableUsers).Prepared(true).Select(userCols...).Where(goqu.C("id").Eq(id))); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetUserByUsername returns a user by username
func (p *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := p.get(ctx, &u, dialect.From(tableUsers).Prepared(true).Select(userCols...).Where(goqu.C("username").Eq(username))); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ListUsers returns all users ordered by id
func (p *PostgresDB) ListUsers(ctx context.Context) ([]models.User, error) {
	users := make([]models.User, 0)
	if err := p.selectAll(ctx, &users, dialect.From(tableUsers).Prepared(true).Select(userCols...).Order(goqu.C("id").Asc())); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Book operations

func booksQuery() *goqu.SelectDataset {
	return dialect.From(goqu.T(tableBooks).As("b")).Prepared(true).Select(
		goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.author"), goqu.I("b.isbn"),
		goqu.I("b.quantity"), goqu.I("b.category"), goqu.I("b.description"), goqu.I("b.cover_image"),
		goqu.L(outstandingSQL).As("outstanding"),
	)
}

// CreateBook inserts a book and sets its ID
func (p *PostgresDB) CreateBook(ctx context.Context, book *models.Book) error {
	id, err := p.insertReturningID(ctx, tableBooks, goqu.Record{
		"title":       book.Title,
		"author":      book.Author,
		"isbn":        book.ISBN,
		"quantity":    book.Quantity,
		"category":    book.Category,
		"description": book.Description,
		"cover_image": book.CoverImage,
	})
	if err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}
	book.ID = id
	return nil
}

// GetBook returns a book with its availability
func (p *PostgresDB) GetBook(ctx context.Context, id int64) (*models.BookAvailability, error) {
	var b models.BookAvailability
	if err := p.get(ctx, &b, booksQuery().Where(goqu.I("b.id").Eq(id))); err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return &b, nil
}

// UpdateBook applies a partial update
func (p *PostgresDB) UpdateBook(ctx context.Context, id int64, update storage.BookUpdate) (*models.BookAvailability, error) {
	set := goqu.Record{}
	if update.Title != nil {
		set["title"] = *update.Title
	}
	if update.Author != nil {
		set["author"] = *update.Author
	}
	if update.ISBN != nil {
		set["isbn"] = *update.ISBN
	}
	if update.Quantity != nil {
		set["quantity"] = *update.Quantity
	}
	if update.Category != nil {
		set["category"] = *update.Category
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.CoverImage != nil {
		set["cover_image"] = *update.CoverImage
	}

	if len(set) > 0 {
		err := p.execOne(ctx, dialect.Update(tableBooks).Prepared(true).Set(set).Where(goqu.C("id").Eq(id)))
		if err != nil {
			return nil, fmt.Errorf("failed to update book: %w", err)
		}
	}
	return p.GetBook(ctx, id)
}

// DeleteBook removes a book; dependent rows cascade
func (p *PostgresDB) DeleteBook(ctx context.Context, id int64) error {
	if err := p.execOne(ctx, dialect.Delete(tableBooks).Prepared(true).Where(goqu.C("id").Eq(id))); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

// ListBooks returns books matching the filter ordered by id
func (p *PostgresDB) ListBooks(ctx context.Context, filter storage.BookFilter) ([]models.BookAvailability, error) {
	ds := booksQuery().Order(goqu.I("b.id").Asc())
	if filter.OnlyOwned {
		ds = ds.Where(goqu.I("b.quantity").Gt(0))
	}
	if filter.Title != "" {
		ds = ds.Where(goqu.I("b.title").ILike(likePattern(filter.Title)))
	}
	if filter.Author != "" {
		ds = ds.Where(goqu.I("b.author").ILike(likePattern(filter.Author)))
	}
	if filter.ISBN != "" {
		ds = ds.Where(goqu.I("b.isbn").ILike(likePattern(filter.ISBN)))
	}

	books := make([]models.BookAvailability, 0)
	if err := p.selectAll(ctx, &books, ds); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// CountBooks returns the number of catalogue titles
func (p *PostgresDB) CountBooks(ctx context.Context) (int, error) {
	var n int
	if err := p.get(ctx, &n, dialect.From(tableBooks).Prepared(true).Select(goqu.COUNT("*"))); err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return n, nil
}

// ListBooksByAvailability returns the books with the fewest available copies
func (p *PostgresDB) ListBooksByAvailability(ctx context.Context, limit int) ([]models.BookAvailability, error) {
	ds := booksQuery().Order(goqu.L(availableSQL).Asc(), goqu.I("b.id").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	books := make([]models.BookAvailability, 0)
	if err := p.selectAll(ctx, &books, ds); err != nil {
		return nil, fmt.Errorf("failed to list books by availability: %w", err)
	}
	return books, nil
}

// ListLowAvailabilityBooks returns owned books with few copies left
func (p *PostgresDB) ListLowAvailabilityBooks(ctx context.Context, threshold int) ([]models.BookAvailability, error) {
	ds := booksQuery().
		Where(goqu.I("b.quantity").Gt(0), goqu.L(availableSQL+" <= ?", threshold)).
		Order(goqu.I("b.id").Asc())
	books := make([]models.BookAvailability, 0)
	if err := p.selectAll(ctx, &books, ds); err != nil {
		return nil, fmt.Errorf("failed to list low availability books: %w", err)
	}
	return books, nil
}

// Loan operations

func loansQuery() *goqu.SelectDataset {
	return dialect.From(goqu.T(tableLoans).As("l")).Prepared(true).
		Join(goqu.T(tableUsers).As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Select(
			goqu.I("l.id"), goqu.I("l.user_id"), goqu.I("l.book_id"), goqu.I("l.borrowed_at"),
			goqu.I("l.due_date"), goqu.I("l.returned_at"), goqu.I("l.fine_amount"),
			goqu.I("u.username"), goqu.I("u.email"), goqu.I("b.title").As("book_title"),
		).
		Order(goqu.I("l.id").Asc())
}

// CreateLoan inserts a loan and sets its ID
func (p *PostgresDB) CreateLoan(ctx context.Context, loan *models.Loan) error {
	id, err := p.insertReturningID(ctx, tableLoans, goqu.Record{
		"user_id":     loan.UserID,
		"book_id":     loan.BookID,
		"borrowed_at": loan.BorrowedAt,
		"due_date":    loan.DueDate,
		"fine_amount": loan.FineAmount,
	})
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	loan.ID = id
	return nil
}

// GetLoan returns a loan with its user and book
func (p *PostgresDB) GetLoan(ctx context.Context, id int64) (*models.LoanDetail, error) {
	var l models.LoanDetail
	if err := p.get(ctx, &l, loansQuery().Where(goqu.I("l.id").Eq(id))); err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return &l, nil
}

// SaveLoanReturn persists the return time and fine of a loan
func (p *PostgresDB) SaveLoanReturn(ctx context.Context, loan *models.Loan) error {
	err := p.execOne(ctx, dialect.Update(tableLoans).Prepared(true).
		Set(goqu.Record{"returned_at": loan.ReturnedAt, "fine_amount": loan.FineAmount}).
		Where(goqu.C("id").Eq(loan.ID)))
	if err != nil {
		return fmt.Errorf("failed to save loan return: %w", err)
	}
	return nil
}

func (p *PostgresDB) countLoans(ctx context.Context, where ...exp.Expression) (int, error) {
	var n int
	err := p.get(ctx, &n, dialect.From(tableLoans).Prepared(true).Select(goqu.COUNT("*")).Where(where...))
	return n, err
}

// CountOutstandingLoans returns the number of unreturned loans
func (p *PostgresDB) CountOutstandingLoans(ctx context.Context) (int, error) {
	n, err := p.countLoans(ctx, goqu.C("returned_at").IsNull())
	if err != nil {
		return 0, fmt.Errorf("failed to count outstanding loans: %w", err)
	}
	return n, nil
}

// CountOverdueLoans returns the number of unreturned loans past due
func (p *PostgresDB) CountOverdueLoans(ctx context.Context, now time.Time) (int, error) {
	n, err := p.countLoans(ctx, goqu.C("returned_at").IsNull(), goqu.C("due_date").Lt(now))
	if err != nil {
		return 0, fmt.Errorf("failed to count overdue loans: %w", err)
	}
	return n, nil
}

func (p *PostgresDB) listLoans(ctx context.Context, where ...exp.Expression) ([]models.LoanDetail, error) {
	loans := make([]models.LoanDetail, 0)
	if err := p.selectAll(ctx, &loans, loansQuery().Where(where...)); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return loans, nil
}

// ListOutstandingLoans lists unreturned loans, optionally for one user
func (p *PostgresDB) ListOutstandingLoans(ctx context.Context, userID int64) ([]models.LoanDetail, error) {
	where := []exp.Expression{goqu.I("l.returned_at").IsNull()}
	if userID != 0 {
		where = append(where, goqu.I("l.user_id").Eq(userID))
	}
	return p.listLoans(ctx, where...)
}

// ListOverdueLoans lists unreturned loans due before now
func (p *PostgresDB) ListOverdueLoans(ctx context.Context, now time.Time) ([]models.LoanDetail, error) {
	return p.listLoans(ctx, goqu.I("l.returned_at").IsNull(), goqu.I("l.due_date").Lt(now))
}

// ListLoansDueBetween lists unreturned loans due in [start, end)
func (p *PostgresDB) ListLoansDueBetween(ctx context.Context, start, end time.Time) ([]models.LoanDetail, error) {
	return p.listLoans(ctx,
		goqu.I("l.returned_at").IsNull(),
		goqu.I("l.due_date").Gte(start),
		goqu.I("l.due_date").Lt(end),
	)
}

// Reservation operations

var reservationCols = []interface{}{"id", "user_id", "book_id", "status", "reserved_at"}

func reservationsQuery() *goqu.SelectDataset {
	return dialect.From(goqu.T(tableReservations).As("r")).Prepared(true).
		Join(goqu.T(tableUsers).As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("r.user_id")))).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id"))))
}

func reservationDetailCols() []interface{} {
	return []interface{}{
		goqu.I("r.id"), goqu.I("r.user_id"), goqu.I("r.book_id"), goqu.I("r.status"), goqu.I("r.reserved_at"),
		goqu.I("u.username"), goqu.I("b.title").As("book_title"),
	}
}

// CreateReservation inserts a reservation and sets its ID
func (p *PostgresDB) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	id, err := p.insertReturningID(ctx, tableReservations, goqu.Record{
		"user_id":     reservation.UserID,
		"book_id":     reservation.BookID,
		"status":      string(reservation.Status),
		"reserved_at": reservation.ReservedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	reservation.ID = id
	return nil
}

// GetReservation returns a reservation by id
func (p *PostgresDB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	if err := p.get(ctx, &r, dialect.From(tableReservations).Prepared(true).Select(reservationCols...).Where(goqu.C("id").Eq(id))); err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &r, nil
}

// UpdateReservationStatus sets the status of a reservation
func (p *PostgresDB) UpdateReservationStatus(ctx context.Context, id int64, status models.ReservationStatus) error {
	err := p.execOne(ctx, dialect.Update(tableReservations).Prepared(true).
		Set(goqu.Record{"status": string(status)}).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return nil
}

func (p *PostgresDB) listReservations(ctx context.Context, where exp.Expression) ([]models.ReservationDetail, error) {
	out := make([]models.ReservationDetail, 0)
	ds := reservationsQuery().Select(reservationDetailCols()...).Where(where).Order(goqu.I("r.id").Asc())
	if err := p.selectAll(ctx, &out, ds); err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return out, nil
}

// ListReservationsByUser lists a user's reservations
func (p *PostgresDB) ListReservationsByUser(ctx context.Context, userID int64) ([]models.ReservationDetail, error) {
	return p.listReservations(ctx, goqu.I("r.user_id").Eq(userID))
}

// ListReservationsByBook lists a book's reservations in creation order
func (p *PostgresDB) ListReservationsByBook(ctx context.Context, bookID int64) ([]models.ReservationDetail, error) {
	return p.listReservations(ctx, goqu.I("r.book_id").Eq(bookID))
}

// QueryReservations filters, sorts and pages a reservation queue
func (p *PostgresDB) QueryReservations(ctx context.Context, query storage.ReservationQuery) ([]models.ReservationDetail, int, error) {
	where := []exp.Expression{goqu.I("r.book_id").Eq(query.BookID)}
	if query.UserID != 0 {
		where = append(where, goqu.I("r.user_id").Eq(query.UserID))
	}
	if query.Search != "" {
		pattern := likePattern(query.Search)
		where = append(where, goqu.Or(
			goqu.I("u.username").ILike(pattern),
			goqu.I("r.status").ILike(pattern),
		))
	}

	var total int
	if err := p.get(ctx, &total, reservationsQuery().Select(goqu.COUNT("*")).Where(where...)); err != nil {
		return nil, 0, fmt.Errorf("failed to count reservations: %w", err)
	}

	field := query.Sort.Field
	if field == "" {
		field = "reserved_at"
	}
	order := goqu.I("r." + field).Asc()
	if query.Sort.Desc {
		order = goqu.I("r." + field).Desc()
	}

	ds := reservationsQuery().Select(reservationDetailCols()...).Where(where...).Order(order, goqu.I("r.id").Asc())
	if query.Limit > 0 {
		ds = ds.Limit(uint(query.Limit))
	}
	if query.Offset > 0 {
		ds = ds.Offset(uint(query.Offset))
	}

	out := make([]models.ReservationDetail, 0)
	if err := p.selectAll(ctx, &out, ds); err != nil {
		return nil, 0, fmt.Errorf("failed to query reservations: %w", err)
	}
	return out, total, nil
}

// ExpireReservations cancels pending reservations older than the cutoff
func (p *PostgresDB) ExpireReservations(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := p.exec(ctx, dialect.Update(tableReservations).Prepared(true).
		Set(goqu.Record{"status": string(models.ReservationCancelled)}).
		Where(
			goqu.C("status").Eq(string(models.ReservationPending)),
			goqu.C("reserved_at").Lt(cutoff),
		))
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}
	return int(n), nil
}

// Borrow request operations

var borrowRequestCols = []interface{}{"id", "user_id", "book_id", "status", "requested_at"}

// CreateBorrowRequest inserts a borrow request and sets its ID
func (p *PostgresDB) CreateBorrowRequest(ctx context.Context, request *models.BorrowRequest) error {
	id, err := p.insertReturningID(ctx, tableBorrowRequests, goqu.Record{
		"user_id":      request.UserID,
		"book_id":      request.BookID,
		"status":       string(request.Status),
		"requested_at": request.RequestedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create borrow request: %w", err)
	}
	request.ID = id
	return nil
}

// GetBorrowRequest returns a borrow request by id
func (p *PostgresDB) GetBorrowRequest(ctx context.Context, id int64) (*models.BorrowRequest, error) {
	var r models.BorrowRequest
	if err := p.get(ctx, &r, dialect.From(tableBorrowRequests).Prepared(true).Select(borrowRequestCols...).Where(goqu.C("id").Eq(id))); err != nil {
		return nil, fmt.Errorf("failed to get borrow request: %w", err)
	}
	return &r, nil
}

// HasPendingBorrowRequest reports whether the user already waits for the book
func (p *PostgresDB) HasPendingBorrowRequest(ctx context.Context, bookID, userID int64) (bool, error) {
	var n int
	err := p.get(ctx, &n, dialect.From(tableBorrowRequests).Prepared(true).Select(goqu.COUNT("*")).Where(
		goqu.C("book_id").Eq(bookID),
		goqu.C("user_id").Eq(userID),
		goqu.C("status").Eq(string(models.BorrowRequestPending)),
	))
	if err != nil {
		return false, fmt.Errorf("failed to check borrow requests: %w", err)
	}
	return n > 0, nil
}

// UpdateBorrowRequestStatus sets the status of a borrow request
func (p *PostgresDB) UpdateBorrowRequestStatus(ctx context.Context, id int64, status models.BorrowRequestStatus) error {
	err := p.execOne(ctx, dialect.Update(tableBorrowRequests).Prepared(true).
		Set(goqu.Record{"status": string(status)}).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return fmt.Errorf("failed to update borrow request: %w", err)
	}
	return nil
}

// ListPendingBorrowRequests lists requests awaiting a staff decision
func (p *PostgresDB) ListPendingBorrowRequests(ctx context.Context) ([]models.BorrowRequestDetail, error) {
	ds := dialect.From(goqu.T(tableBorrowRequests).As("q")).Prepared(true).
		Join(goqu.T(tableUsers).As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("q.user_id")))).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("q.book_id")))).
		Select(
			goqu.I("q.id"), goqu.I("q.user_id"), goqu.I("q.book_id"), goqu.I("q.status"), goqu.I("q.requested_at"),
			goqu.I("u.username"), goqu.I("b.title").As("book_title"),
		).
		Where(goqu.I("q.status").Eq(string(models.BorrowRequestPending))).
		Order(goqu.I("q.id").Asc())

	out := make([]models.BorrowRequestDetail, 0)
	if err := p.selectAll(ctx, &out, ds); err != nil {
		return nil, fmt.Errorf("failed to list borrow requests: %w", err)
	}
	return out, nil
}

// WithBookLock runs fn in a transaction holding a row lock on the book
func (p *PostgresDB) WithBookLock(ctx context.Context, bookID int64, fn func(tx storage.Storage) error) error {
	if p.tx != nil {
		if err := p.lockBook(ctx, bookID); err != nil {
			return err
		}
		return fn(p)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txStore := &PostgresDB{db: p.db, q: tx, tx: tx, logger: p.logger}

	if err := txStore.lockBook(ctx, bookID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			p.logger.Warn("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresDB) lockBook(ctx context.Context, bookID int64) error {
	var id int64
	err := p.get(ctx, &id, dialect.From(tableBooks).Prepared(true).
		Select("id").
		Where(goqu.C("id").Eq(bookID)).
		ForUpdate(exp.Wait))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to lock book: %w", err)
	}
	return nil
}
