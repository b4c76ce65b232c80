package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const LoginCtxKey = contextKey("login_id")

// IssueToken signs an HS256 token carrying the login id.
func IssueToken(secret []byte, loginID string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"login_id": loginID,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// JWTAuth rejects requests without a valid bearer token and stores the
// token's login id in the request context.
func JWTAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid Authorization header", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			loginID, ok := claims["login_id"].(string)
			if !ok || loginID == "" {
				http.Error(w, "invalid login_id in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), LoginCtxKey, loginID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Extracting login_id in handler
func LoginIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(LoginCtxKey).(string)
	return id, ok
}
