// Package auth issues and verifies portal access tokens and enforces role and
// business partner scoping on HTTP routes.
package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/fleetinfo/portal/internal/portal"
)

// Claims is the JWT payload carried in the x-auth-token header.
type Claims struct {
	jwt.RegisteredClaims
	UserID            int64  `json:"user_id"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	BusinessPartnerID *int64 `json:"business_partner_id,omitempty"`
}

var roleRank = map[string]int{
	portal.RoleViewer:     1,
	portal.RoleEditor:     2,
	portal.RoleAdmin:      3,
	portal.RoleSuperAdmin: 4,
}

// AtLeast reports whether the claims' role is min or stronger.
func (c *Claims) AtLeast(minRole string) bool {
	return roleRank[c.Role] >= roleRank[minRole] && roleRank[c.Role] > 0
}

// IsSuperAdmin reports whether the caller sees every partner.
func (c *Claims) IsSuperAdmin() bool {
	return c.Role == portal.RoleSuperAdmin
}

// CanAccessPartner reports whether a record owned by partnerID is visible to
// the caller. Global records (nil owner) are only writable by super admins, so
// callers check write access separately.
func (c *Claims) CanAccessPartner(partnerID *int64) bool {
	if c.IsSuperAdmin() {
		return true
	}
	if partnerID == nil || c.BusinessPartnerID == nil {
		return false
	}
	return *partnerID == *c.BusinessPartnerID
}

// PartnerScope returns the partner filter to apply to list queries, or nil
// for super admins.
func (c *Claims) PartnerScope() *int64 {
	if c.IsSuperAdmin() {
		return nil
	}
	if c.BusinessPartnerID == nil {
		// a scoped caller without a partner must not see anything
		none := int64(-1)
		return &none
	}
	id := *c.BusinessPartnerID
	return &id
}
