package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// SubjectKey is the context key for the authenticated token subject
	SubjectKey ContextKey = "subject"
)

var errMissingToken = errors.New("missing token")

// RequireToken authenticates the real-time handshake with an HS256 JWT taken
// from "Authorization: Bearer <jwt>" or the ?token= query parameter (browsers
// cannot set headers on WebSocket upgrades).
//
// When required is false a missing token is allowed, but a present token must
// still verify. With an empty secret and required false the check is skipped.
//
// Accessing in handlers:
//
//	subject := middleware.GetSubject(c)
func RequireToken(secret string, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" && !required {
				return next(c)
			}

			raw := extractToken(c.Request())
			if raw == "" {
				if !required {
					return next(c)
				}
				return unauthorized(c, errMissingToken)
			}

			subject, err := verify(raw, secret)
			if err != nil {
				return unauthorized(c, err)
			}
			c.Set(string(SubjectKey), subject)
			return next(c)
		}
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

func verify(raw, secret string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("invalid subject: %w", err)
	}
	return subject, nil
}

func unauthorized(c echo.Context, err error) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"error": err.Error(),
	})
}

// GetSubject retrieves the token subject from the request context
// Returns empty string if not set
func GetSubject(c echo.Context) string {
	subject, _ := c.Get(string(SubjectKey)).(string)
	return subject
}
