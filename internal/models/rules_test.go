package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fiveADay = decimal.NewFromInt(DefaultFinePerDay)

func TestParseRole(t *testing.T) {
	testCases := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"admin", RoleAdmin, true},
		{"Librarian", RoleLibrarian, true},
		{" MEMBER ", RoleMember, true},
		{"janitor", "", false},
		{"", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseRole(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOverdueDays(t *testing.T) {
	due := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, OverdueDays(due, due.Add(-48*time.Hour)), "returned early")
	assert.Equal(t, 0, OverdueDays(due, due), "returned on due date")
	assert.Equal(t, 0, OverdueDays(due, due.Add(23*time.Hour)), "partial day is truncated")
	assert.Equal(t, 1, OverdueDays(due, due.Add(25*time.Hour)))
	assert.Equal(t, 10, OverdueDays(due, due.Add(10*24*time.Hour)))
}

func TestLoanReturn_ComputesFineOnce(t *testing.T) {
	day := func(n int) time.Time { return time.Date(2024, 1, n, 9, 0, 0, 0, time.UTC) }
	loan := &Loan{BorrowedAt: day(1), DueDate: day(10)}

	require.NoError(t, loan.Return(day(20), fiveADay))
	assert.True(t, loan.FineAmount.Equal(decimal.NewFromInt(50)), "fine = %s", loan.FineAmount)

	err := loan.Return(day(25), fiveADay)
	assert.ErrorIs(t, err, ErrAlreadyReturned)
	assert.True(t, loan.FineAmount.Equal(decimal.NewFromInt(50)), "second return must not change the fine")
	assert.Equal(t, day(20), *loan.ReturnedAt)
}

func TestLoanReturn_FourteenDaysLate(t *testing.T) {
	now := time.Now()
	loan := &Loan{DueDate: now.Add(-14 * 24 * time.Hour)}

	require.NoError(t, loan.Return(now, fiveADay))
	assert.True(t, loan.FineAmount.Equal(decimal.NewFromInt(70)))
}

func TestLoanCurrentFine(t *testing.T) {
	now := time.Now()
	outstanding := Loan{DueDate: now.Add(-3*24*time.Hour - time.Hour)}
	assert.True(t, outstanding.CurrentFine(now, fiveADay).Equal(decimal.NewFromInt(15)))
	assert.True(t, outstanding.IsOverdue(now))

	returnedAt := now.Add(-time.Hour)
	returned := Loan{DueDate: now.Add(-10 * 24 * time.Hour), ReturnedAt: &returnedAt, FineAmount: decimal.NewFromInt(7)}
	assert.True(t, returned.CurrentFine(now, fiveADay).Equal(decimal.NewFromInt(7)))
	assert.False(t, returned.IsOverdue(now))
}

func TestReservationTransitions(t *testing.T) {
	testCases := []struct {
		from    ReservationStatus
		to      ReservationStatus
		wantErr bool
	}{
		{ReservationPending, ReservationCancelled, false},
		{ReservationPending, ReservationFulfilled, false},
		{ReservationCancelled, ReservationCancelled, true},
		{ReservationFulfilled, ReservationCancelled, true},
		{ReservationConfirmed, ReservationCancelled, true},
		{ReservationPending, ReservationConfirmed, true},
	}

	for _, tc := range testCases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			got, err := tc.from.Transition(tc.to)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tc.from, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.to, got)
		})
	}
}

func TestBorrowRequestActionTarget(t *testing.T) {
	status, err := ActionApproveRequest.Target()
	require.NoError(t, err)
	assert.Equal(t, BorrowRequestApproved, status)

	status, err = ActionRejectRequest.Target()
	require.NoError(t, err)
	assert.Equal(t, BorrowRequestRejected, status)

	_, err = BorrowRequestAction("maybe").Target()
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = BorrowRequestApproved.Transition(BorrowRequestRejected)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAvailableCopiesIsNotClamped(t *testing.T) {
	b := BookAvailability{Book: Book{Quantity: 1}, Outstanding: 2}
	assert.Equal(t, -1, b.AvailableCopies())
}
