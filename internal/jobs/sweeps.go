package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"library-backend/internal/library"
	"library-backend/internal/metrics"
	"library-backend/internal/models"
	"library-backend/internal/notify"
	"library-backend/internal/storage"
)

// Job names accepted by Sweeper.Run
const (
	JobOverdue     = "overdue"
	JobDueToday    = "due-today"
	JobExpireHolds = "expire-reservations"
)

// Sweeper holds the scheduled circulation jobs
type Sweeper struct {
	db     storage.Storage
	lib    *library.Service
	sender notify.Sender
	now    func() time.Time
	logger *zap.Logger
}

// NewSweeper creates the sweeps. Reminders are sent synchronously through sender.
func NewSweeper(db storage.Storage, lib *library.Service, sender notify.Sender, logger *zap.Logger) *Sweeper {
	return &Sweeper{db: db, lib: lib, sender: sender, now: lib.Now, logger: logger}
}

// Jobs lists the job names in a stable order
func (s *Sweeper) Jobs() []string {
	names := []string{JobOverdue, JobDueToday, JobExpireHolds}
	sort.Strings(names)
	return names
}

// Run executes a job by name and returns how many items it handled
func (s *Sweeper) Run(ctx context.Context, name string) (int, error) {
	var run func(context.Context) (int, error)
	switch name {
	case JobOverdue:
		run = s.SendOverdueNotices
	case JobDueToday:
		run = s.SendDueTodayReminders
	case JobExpireHolds:
		run = s.lib.ExpireReservations
	default:
		return 0, fmt.Errorf("unknown job: %s", name)
	}

	start := time.Now()
	n, err := run(ctx)
	metrics.RecordJobRun(name, time.Since(start), err)
	return n, err
}

// SendOverdueNotices reminds every borrower with a loan past due
func (s *Sweeper) SendOverdueNotices(ctx context.Context) (int, error) {
	loans, err := s.db.ListOverdueLoans(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue loans: %w", err)
	}
	sent := s.remind(ctx, JobOverdue, loans, func(l models.LoanDetail) notify.Intent {
		return notify.OverdueReminder(l.Email, l.BookTitle, l.DueDate)
	})
	s.logger.Info("Sent overdue reminders", zap.Int("count", sent))
	return sent, nil
}

// SendDueTodayReminders reminds borrowers whose loans are due on today's date
func (s *Sweeper) SendDueTodayReminders(ctx context.Context) (int, error) {
	now := s.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	loans, err := s.db.ListLoansDueBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("failed to list loans due today: %w", err)
	}
	sent := s.remind(ctx, JobDueToday, loans, func(l models.LoanDetail) notify.Intent {
		return notify.DueTodayReminder(l.Email, l.BookTitle, l.DueDate)
	})
	s.logger.Info("Sent due date reminders", zap.Int("count", sent))
	return sent, nil
}

// remind sends one message per loan, skipping borrowers without an email.
// A failed send is logged and counted; the sweep continues.
func (s *Sweeper) remind(ctx context.Context, job string, loans []models.LoanDetail, build func(models.LoanDetail) notify.Intent) int {
	sent, failed := 0, 0
	for _, loan := range loans {
		if loan.Email == "" {
			continue
		}
		intent := build(loan)
		err := deliver(ctx, s.sender, intent)
		metrics.RecordNotification(string(intent.Kind), err)
		if err != nil {
			failed++
			s.logger.Error("Failed to send reminder",
				zap.Error(err),
				zap.String("job", job),
				zap.Int64("loan_id", loan.ID),
				zap.String("to", loan.Email),
			)
			continue
		}
		sent++
	}
	metrics.RecordJobItems(job, "sent", sent)
	metrics.RecordJobItems(job, "failed", failed)
	return sent
}
