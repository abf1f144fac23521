package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bharath3010/curalink-backend/internal/http/respond"
	"github.com/bharath3010/curalink-backend/internal/identity"
)

// Claims is the bearer token payload. Subject carries the account id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Identity verifies an HMAC-signed bearer JWT and stores the caller in the
// request context. Tokens are issued elsewhere.
func Identity(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				respond.Error(w, http.StatusUnauthorized, "unauthorized", "auth disabled")
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				respond.Error(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := Claims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				respond.Error(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			id, err := uuid.Parse(claims.Subject)
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, "unauthorized", "invalid token subject")
				return
			}
			role := identity.Role(strings.ToLower(strings.TrimSpace(claims.Role)))
			if role == "" {
				role = identity.RolePatient
			}
			ctx := identity.WithPrincipal(r.Context(), identity.Principal{ID: id, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
