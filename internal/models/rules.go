package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// LoanPeriod is the default time between borrowing and the due date
	LoanPeriod = 14 * 24 * time.Hour

	// ReservationTTL is how long a reservation may stay pending
	ReservationTTL = 3 * 24 * time.Hour

	// DefaultFinePerDay is charged per whole day a loan is overdue
	DefaultFinePerDay = 5
)

var (
	ErrNoCopiesAvailable = errors.New("no copies available")
	ErrBookAvailable     = errors.New("book is available for borrowing")
	ErrAlreadyReturned   = errors.New("book already returned")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidAction     = errors.New("invalid action")
	ErrDuplicateRequest  = errors.New("duplicate pending borrow request")
)

// ReservationStatus is the state of a reservation
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationFulfilled ReservationStatus = "fulfilled"
)

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationPending: {ReservationCancelled, ReservationFulfilled},
}

// Transition returns the target status or ErrInvalidTransition
func (s ReservationStatus) Transition(to ReservationStatus) (ReservationStatus, error) {
	for _, allowed := range reservationTransitions[s] {
		if allowed == to {
			return to, nil
		}
	}
	return s, ErrInvalidTransition
}

// BorrowRequestStatus is the state of a borrow request
type BorrowRequestStatus string

const (
	BorrowRequestPending  BorrowRequestStatus = "pending"
	BorrowRequestApproved BorrowRequestStatus = "approved"
	BorrowRequestRejected BorrowRequestStatus = "rejected"
)

var borrowRequestTransitions = map[BorrowRequestStatus][]BorrowRequestStatus{
	BorrowRequestPending: {BorrowRequestApproved, BorrowRequestRejected},
}

// Transition returns the target status or ErrInvalidTransition
func (s BorrowRequestStatus) Transition(to BorrowRequestStatus) (BorrowRequestStatus, error) {
	for _, allowed := range borrowRequestTransitions[s] {
		if allowed == to {
			return to, nil
		}
	}
	return s, ErrInvalidTransition
}

// BorrowRequestAction is the staff decision on a borrow request
type BorrowRequestAction string

const (
	ActionApproveRequest BorrowRequestAction = "approve"
	ActionRejectRequest  BorrowRequestAction = "reject"
)

// Target maps an action to the status it produces
func (a BorrowRequestAction) Target() (BorrowRequestStatus, error) {
	switch a {
	case ActionApproveRequest:
		return BorrowRequestApproved, nil
	case ActionRejectRequest:
		return BorrowRequestRejected, nil
	}
	return "", ErrInvalidAction
}

// DefaultDueDate is the due date of a loan starting at borrowedAt
func DefaultDueDate(borrowedAt time.Time) time.Time {
	return borrowedAt.Add(LoanPeriod)
}

// OverdueDays is the number of whole days at is past due, never negative
func OverdueDays(due, at time.Time) int {
	if !at.After(due) {
		return 0
	}
	return int(at.Sub(due) / (24 * time.Hour))
}

// ComputeFine charges perDay for every whole overdue day
func ComputeFine(due, at time.Time, perDay decimal.Decimal) decimal.Decimal {
	return perDay.Mul(decimal.NewFromInt(int64(OverdueDays(due, at)))).Round(2)
}

// IsOutstanding reports whether the loan has not been returned
func (l Loan) IsOutstanding() bool {
	return l.ReturnedAt == nil
}

// Return marks the loan returned at the given time and sets its fine.
// A returned loan is left unchanged and ErrAlreadyReturned is reported.
func (l *Loan) Return(at time.Time, perDay decimal.Decimal) error {
	if !l.IsOutstanding() {
		return ErrAlreadyReturned
	}
	l.ReturnedAt = &at
	l.FineAmount = ComputeFine(l.DueDate, at, perDay)
	return nil
}

// CurrentFine is the final fine of a returned loan, or the fine accrued so far
func (l Loan) CurrentFine(now time.Time, perDay decimal.Decimal) decimal.Decimal {
	if !l.IsOutstanding() {
		return l.FineAmount
	}
	return ComputeFine(l.DueDate, now, perDay)
}

// IsOverdue reports whether an outstanding loan is past its due date
func (l Loan) IsOverdue(now time.Time) bool {
	return l.IsOutstanding() && l.DueDate.Before(now)
}
