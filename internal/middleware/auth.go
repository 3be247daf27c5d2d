package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruralpay/ledger-ingest/internal/services"
)

type contextKey string

const userIDKey contextKey = "userID"

// UserIDFromContext returns the caller identity set by Auth.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// Auth rejects requests without a valid HS256 bearer token signed with secret.
func Auth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				services.WriteError(w, http.StatusUnauthorized, "Authorization header required", nil)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				services.WriteError(w, http.StatusUnauthorized, "Invalid authorization header format", nil)
				return
			}

			userID, err := validateToken(parts[1], secret)
			if err != nil {
				services.WriteError(w, http.StatusUnauthorized, "Invalid token", nil)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateToken(tokenString string, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}

	if userID, ok := claims["user_id"]; ok && userID != nil {
		return fmt.Sprintf("%v", userID), nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
