// Package notify renders and delivers member notifications
package notify

import (
	"fmt"
	"time"
)

// Kind identifies a notification template
type Kind string

const (
	KindBorrowConfirmation Kind = "borrow_confirmation"
	KindOverdueReminder    Kind = "overdue_reminder"
	KindDueTodayReminder   Kind = "due_today_reminder"
)

const dateLayout = "2006-01-02"

// Intent is a request to notify one recipient. It is what gets queued.
type Intent struct {
	Kind    Kind              `json:"kind"`
	To      string            `json:"to"`
	Subject string            `json:"subject"`
	Params  map[string]string `json:"params"`
}

// Validate checks that the intent can be rendered and delivered
func (i Intent) Validate() error {
	if i.To == "" {
		return fmt.Errorf("intent %s has no recipient", i.Kind)
	}
	if _, ok := templates[i.Kind]; !ok {
		return fmt.Errorf("unknown notification kind: %s", i.Kind)
	}
	return nil
}

// BorrowConfirmation builds the intent sent right after a loan is created
func BorrowConfirmation(email, username, bookTitle string, dueDate time.Time, returnURL string) Intent {
	return Intent{
		Kind:    KindBorrowConfirmation,
		To:      email,
		Subject: "📚 Book Borrowed Confirmation",
		Params: map[string]string{
			"username":   username,
			"book_title": bookTitle,
			"due_date":   dueDate.Format(dateLayout),
			"return_url": returnURL,
		},
	}
}

// OverdueReminder builds the intent for a loan past its due date
func OverdueReminder(email, bookTitle string, dueDate time.Time) Intent {
	return Intent{
		Kind:    KindOverdueReminder,
		To:      email,
		Subject: "Overdue Book Reminder",
		Params: map[string]string{
			"book_title": bookTitle,
			"due_date":   dueDate.Format(dateLayout),
		},
	}
}

// DueTodayReminder builds the intent for a loan due today
func DueTodayReminder(email, bookTitle string, dueDate time.Time) Intent {
	return Intent{
		Kind:    KindDueTodayReminder,
		To:      email,
		Subject: "Upcoming Due Date Reminder",
		Params: map[string]string{
			"book_title": bookTitle,
			"due_date":   dueDate.Format(dateLayout),
		},
	}
}
