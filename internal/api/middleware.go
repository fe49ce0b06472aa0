/**
 * @description
 * Authentication middleware. Supabase access tokens are HS256 JWTs signed with
 * the project's JWT secret, so they are verified locally without a network
 * round trip. The account row and ledger are provisioned on first sight.
 */
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	// UserIDContextKey is the key used to store the user ID in the request context.
	UserIDContextKey = contextKey("userID")
	// UserEmailContextKey stores the token's email claim.
	UserEmailContextKey = contextKey("userEmail")
)

const supabaseAudience = "authenticated"

// AccountProvisioner creates the account on first request.
type AccountProvisioner interface {
	EnsureAccount(ctx context.Context, accountID, email string) error
}

// SupabaseAuthMiddleware validates Supabase JWTs and injects the user ID into context.
func SupabaseAuthMiddleware(jwtSecret string, accounts AccountProvisioner, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Invalid Authorization header format")
				return
			}

			userID, email, err := parseSupabaseToken(strings.TrimSpace(parts[1]), jwtSecret)
			if err != nil {
				logger.Debug("rejected access token", "error", err)
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "Invalid token")
				return
			}

			if accounts != nil {
				if err := accounts.EnsureAccount(r.Context(), userID, email); err != nil {
					logger.Error("failed to provision account", "user_id", userID, "error", err)
					writeError(w, http.StatusInternalServerError, codeInternal, "Internal server error")
					return
				}
			}

			ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
			ctx = context.WithValue(ctx, UserEmailContextKey, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseSupabaseToken(token, secret string) (string, string, error) {
	if secret == "" {
		return "", "", fmt.Errorf("jwt secret is not configured")
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithAudience(supabaseAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", "", fmt.Errorf("jwt parse: %w", err)
	}
	if !parsed.Valid {
		return "", "", fmt.Errorf("jwt invalid")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", "", fmt.Errorf("subject claim missing")
	}
	email, _ := claims["email"].(string)
	return sub, email, nil
}

// UserFromContext retrieves the user ID from the request context.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(string)
	return userID, ok && userID != ""
}

func emailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(UserEmailContextKey).(string)
	return email
}
