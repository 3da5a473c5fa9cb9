package auth

import "library-backend/internal/models"

// Capability names a guarded operation
type Capability string

const (
	CapManageBooks        Capability = "manage_books"
	CapBorrowForOthers    Capability = "borrow_for_others"
	CapReturnBooks        Capability = "return_books"
	CapDecideRequests     Capability = "decide_borrow_requests"
	CapListUsers          Capability = "list_users"
	CapViewAllLoans       Capability = "view_all_loans"
	CapViewAllReservation Capability = "view_all_reservations"
	CapViewActivity       Capability = "view_activity"
)

var staff = []models.Role{models.RoleAdmin, models.RoleLibrarian}

var capabilities = map[Capability][]models.Role{
	CapManageBooks:        staff,
	CapBorrowForOthers:    {models.RoleLibrarian},
	CapReturnBooks:        staff,
	CapDecideRequests:     staff,
	CapListUsers:          staff,
	CapViewAllLoans:       {models.RoleLibrarian},
	CapViewAllReservation: staff,
	CapViewActivity:       staff,
}

// Can reports whether the role holds the capability
func Can(role models.Role, c Capability) bool {
	for _, r := range capabilities[c] {
		if r == role {
			return true
		}
	}
	return false
}
