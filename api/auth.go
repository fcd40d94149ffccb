/*
auth.go - Bearer token authentication

PURPOSE:
  Verifies HS256 JWTs and turns their claims into a points.Caller stored
  in the request context. Handlers never read tokens directly.

CLAIMS:
  sub          user id (required)
  role         "admin" | "business"
  business_id  required when role is "business"
  iss          must equal the configured issuer when one is set

SEE ALSO:
  - points/scope.go: what a Caller may access
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/loyalty-engine/logging"
	"github.com/warp/loyalty-engine/points"
	"go.uber.org/zap"
)

// Claims are the JWT claims the API understands.
type Claims struct {
	Role       string `json:"role"`
	BusinessID string `json:"business_id,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies tokens signed with a shared secret.
type Authenticator struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{Secret: []byte(secret), Issuer: issuer, Now: time.Now}
}

// IssueToken signs a token for user. Used by demo scenarios and tests.
func (a *Authenticator) IssueToken(user points.User, ttl time.Duration) (string, error) {
	now := a.Now()
	claims := Claims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			Issuer:    a.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if user.BusinessID != nil {
		claims.BusinessID = string(*user.BusinessID)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

// Verify parses a token and returns the caller it identifies.
func (a *Authenticator) Verify(tokenString string) (points.Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.Now),
	}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	}, opts...)
	if err != nil {
		return points.Caller{}, fmt.Errorf("%w: %v", errUnauthorized, err)
	}

	caller := points.Caller{
		UserID:     points.UserID(claims.Subject),
		Role:       points.Role(claims.Role),
		BusinessID: points.BusinessID(claims.BusinessID),
	}
	switch {
	case caller.UserID == "":
		return points.Caller{}, fmt.Errorf("%w: token has no subject", errUnauthorized)
	case !caller.Role.Valid():
		return points.Caller{}, fmt.Errorf("%w: unknown role %q", errUnauthorized, claims.Role)
	case caller.Role == points.RoleBusiness && caller.BusinessID == "":
		return points.Caller{}, fmt.Errorf("%w: business token without business_id", errUnauthorized)
	}
	if caller.IsAdmin() {
		caller.BusinessID = ""
	}
	return caller, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, r, errUnauthorized)
			return
		}
		caller, err := a.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := withCaller(r.Context(), caller)
		ctx = logging.WithFields(ctx,
			zap.String("actor_id", string(caller.UserID)),
			zap.String("role", string(caller.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects non-admin callers.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !callerFrom(r.Context()).IsAdmin() {
			writeError(w, r, points.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type callerKey struct{}

func withCaller(ctx context.Context, c points.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// callerFrom returns the authenticated caller; the zero Caller has no rights.
func callerFrom(ctx context.Context) points.Caller {
	c, _ := ctx.Value(callerKey{}).(points.Caller)
	return c
}
