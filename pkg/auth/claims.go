package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Known actor roles carried in access tokens. The settlement API only
// distinguishes platform staff from customers.
const (
	RoleAdmin    = "admin"
	RoleSupport  = "support"
	RoleCustomer = "customer"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	Role       string
	CustomerID *uuid.UUID
	JTI        string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID     uuid.UUID  `json:"user_id"`
	Role       string     `json:"role"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
	jwt.RegisteredClaims
}

// ValidRole reports whether the role is one the API understands.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleSupport, RoleCustomer:
		return true
	}
	return false
}
