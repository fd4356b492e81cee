package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ParcelDesk/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims carries the caller identity. Subject is the decimal user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type callerKey struct{}

// IssueToken signs an HS256 token for the user. Used by ops tooling and tests;
// account management itself lives outside this service.
func IssueToken(secret []byte, userID uint64, role models.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseCaller(secret []byte, raw string) (models.Caller, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Caller{}, err
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return models.Caller{}, errors.New("invalid subject")
	}
	role := models.Role(claims.Role)
	if !role.Valid() {
		return models.Caller{}, errors.Errorf("unknown role %q", claims.Role)
	}
	return models.Caller{ID: id, Role: role}, nil
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller in the request context.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || raw == "" {
				writeFail(w, http.StatusUnauthorized, "authorization token is required")
				return
			}
			caller, err := parseCaller(secret, raw)
			if err != nil {
				writeFail(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}

func CallerFrom(ctx context.Context) models.Caller {
	c, _ := ctx.Value(callerKey{}).(models.Caller)
	return c
}
