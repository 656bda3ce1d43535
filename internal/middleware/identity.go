package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const callerLocal = "caller"

// RoleAdmin grants access to operator endpoints.
const RoleAdmin = "admin"

// Caller is the identity and company scope of a request. The engine trusts it
// and never re-derives it.
type Caller struct {
	CompanyID string
	UserID    string
	Role      string
}

// Claims are the access-token claims issued by the identity service.
type Claims struct {
	CompanyID string `json:"company_id"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity verifies HS256 bearer tokens and stores the Caller in locals.
func Identity(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		claims := &Claims{}
		_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return fiber.NewError(http.StatusUnauthorized, "token expired")
			}
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if claims.Subject == "" || claims.CompanyID == "" {
			return fiber.NewError(http.StatusUnauthorized, "token missing company scope")
		}

		c.Locals(callerLocal, Caller{CompanyID: claims.CompanyID, UserID: claims.Subject, Role: claims.Role})
		return c.Next()
	}
}

// RequireRole rejects callers without role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if CallerFrom(c).Role != role {
			return fiber.NewError(http.StatusForbidden, "insufficient role")
		}
		return c.Next()
	}
}

// CallerFrom returns the request's Caller; the zero value when Identity did not run.
func CallerFrom(c *fiber.Ctx) Caller {
	caller, _ := c.Locals(callerLocal).(Caller)
	return caller
}

// SignToken issues an HS256 token for caller. Used by tests and local tooling.
func SignToken(secret []byte, caller Caller, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = caller.UserID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		CompanyID:        caller.CompanyID,
		Role:             caller.Role,
		RegisteredClaims: claims,
	})
	return token.SignedString(secret)
}
