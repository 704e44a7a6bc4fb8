package domain

import "strings"

// Role is a participant's platform role.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ParseRole normalises a role column value. The web backend stores
// customers as "user"; anything unknown is treated as a customer.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleOperator:
		return RoleOperator
	default:
		return RoleCustomer
	}
}

// IsStaff reports whether the role may act on any booking.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleOperator
}

// Participant is an authenticated user identity.
type Participant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Booking is the subset of a booking row this service reads.
type Booking struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	OperatorID int64  `json:"operator_id,omitempty"`
	Status     string `json:"status"`
}

// CanAccess reports whether p is a party to the booking: its owner, or staff.
func (b *Booking) CanAccess(p *Participant) bool {
	if p == nil {
		return false
	}
	return b.UserID == p.ID || p.Role.IsStaff()
}

// Parties returns the participants notified about booking activity:
// the owner and, once assigned, the operator.
func (b *Booking) Parties() []int64 {
	parties := []int64{b.UserID}
	if b.OperatorID != 0 && b.OperatorID != b.UserID {
		parties = append(parties, b.OperatorID)
	}
	return parties
}
