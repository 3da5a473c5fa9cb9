package ch

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"

	"library-backend/internal/models"
	"library-backend/migrations"
)

// Options describes a ClickHouse connection
type Options struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	UseTLS   bool
}

func (o Options) addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// ClickHouseDB is the circulation journal backed by ClickHouse
type ClickHouseDB struct {
	conn clickhouse.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(opts Options) (*ClickHouseDB, error) {
	options := &clickhouse.Options{
		Addr:     []string{opts.addr()},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
	}

	if opts.UseTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Migrate runs a goose command against the embedded ClickHouse migrations
func Migrate(ctx context.Context, opts Options, command string) error {
	dsn := fmt.Sprintf("clickhouse://%s:%s@%s/%s?dial_timeout=10s&max_execution_time=60",
		opts.User, opts.Password, opts.addr(), opts.Database)
	if opts.UseTLS {
		dsn += "&secure=true"
	}

	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	switch command {
	case "up":
		err = goose.UpContext(ctx, db, migrations.ClickHouseDir)
	case "down":
		err = goose.DownContext(ctx, db, migrations.ClickHouseDir)
	case "status":
		err = goose.StatusContext(ctx, db, migrations.ClickHouseDir)
	case "version":
		err = goose.VersionContext(ctx, db, migrations.ClickHouseDir)
	case "reset":
		err = goose.ResetContext(ctx, db, migrations.ClickHouseDir)
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations (%s): %w", command, err)
	}
	return nil
}

// RecordEvent appends a circulation event
func (db *ClickHouseDB) RecordEvent(ctx context.Context, event models.CirculationEvent) error {
	err := db.conn.Exec(ctx, `INSERT INTO circulation_events (date, action, book_id, book_name, user_id, username) VALUES (?, ?, ?, ?, ?, ?)`,
		event.Date, event.Action, event.BookID, event.BookName, event.UserID, event.Username)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// GetLastEvents returns the last N events
func (db *ClickHouseDB) GetLastEvents(ctx context.Context, limit int) ([]models.CirculationEvent, error) {
	rows, err := db.conn.Query(ctx, `SELECT date, action, book_id, book_name, user_id, username FROM circulation_events ORDER BY date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get last events: %w", err)
	}
	defer rows.Close()

	events := make([]models.CirculationEvent, 0)
	for rows.Next() {
		var event models.CirculationEvent
		if err := rows.Scan(&event.Date, &event.Action, &event.BookID, &event.BookName, &event.UserID, &event.Username); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
