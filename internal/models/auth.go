package models

import "github.com/golang-jwt/jwt/v5"

// Role labels what a caller may do.
type Role string

const (
	RoleStaff Role = "staff"
	RoleOwner Role = "owner"
)

// JWTClaims carries identity inside access tokens issued by the customer
// platform.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}
