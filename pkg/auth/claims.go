package auth

import (
	"github.com/ecobricks/rewards-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is the caller as asserted by the identity provider.
type Identity struct {
	UserID string
	Name   string
	Email  string
	Role   enums.MemberRole
}

// IsAdmin reports whether the identity may use the admin surface.
func (i Identity) IsAdmin() bool {
	return i.Role == enums.MemberRoleAdmin
}

// AccessTokenClaims represents the JWT issued by the identity provider. The
// user id travels in the standard sub claim.
type AccessTokenClaims struct {
	Name  string           `json:"name,omitempty"`
	Email string           `json:"email,omitempty"`
	Role  enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts the claims into the caller identity.
func (c *AccessTokenClaims) Identity() Identity {
	return Identity{
		UserID: c.Subject,
		Name:   c.Name,
		Email:  c.Email,
		Role:   c.Role,
	}
}
