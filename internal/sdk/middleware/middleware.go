// Package middleware provides HTTP middleware for authentication and authorization.
package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// Claims is the verified caller identity attached by Authenticate.
type Claims struct {
	UserID string
	Email  string
	Role   string
}

// GetClaims fetches the authenticated caller from the request context.
func GetClaims(c *gin.Context) (Claims, error) {
	userID, ok := c.Get(UserIDKey)
	if !ok {
		return Claims{}, errors.New("user_id not found in context")
	}

	id, ok := userID.(string)
	if !ok || id == "" {
		return Claims{}, errors.New("invalid user_id in context")
	}

	return Claims{
		UserID: id,
		Email:  c.GetString(EmailKey),
		Role:   c.GetString(RoleKey),
	}, nil
}
