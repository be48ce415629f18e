package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	UserID      string
	Username    string
	Email       string
	DisplayName string
	Role        string
	Active      bool
}

type authClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey string

const ctxKeyUser ctxKey = "user"

var (
	errInvalidCredentials = errors.New("INVALID_CREDENTIALS")
	errInvalidToken       = errors.New("INVALID_TOKEN")
	errAccountDisabled    = errors.New("ACCOUNT_DISABLED")
)

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(stored string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

func issueAccessToken(cfg Config, user *User, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(cfg.AccessTokenTTL)
	claims := authClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "ecostreak",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func parseAccessToken(cfg Config, raw string) (*authClaims, error) {
	var claims authClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	return &claims, nil
}

func randomToken(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func createRefreshToken(db *sql.DB, userID string, ttl time.Duration, userAgent string, ip string) (string, time.Time, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", time.Time{}, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	_, err = db.Exec(`
		INSERT INTO refresh_tokens (user_id, token_hash, issued_at, expires_at, user_agent, ip)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, userID, hashRefreshToken(token), now, expiresAt, userAgent, ip)
	if err != nil {
		return "", time.Time{}, err
	}

	return token, expiresAt, nil
}

// consumeRefreshToken revokes the presented token and returns its owner.
// Refresh tokens are single use; a refresh always rotates.
func consumeRefreshToken(db *sql.DB, token string) (string, error) {
	hash := hashRefreshToken(token)

	var userID string
	var expiresAt time.Time
	var revokedAt sql.NullTime
	err := db.QueryRow(`
		SELECT user_id, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, hash).Scan(&userID, &expiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return "", errInvalidToken
	}
	if err != nil {
		return "", err
	}
	if revokedAt.Valid || time.Now().UTC().After(expiresAt) {
		return "", errInvalidToken
	}

	if _, err := db.Exec(`
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE token_hash = $1
	`, hash); err != nil {
		return "", err
	}

	return userID, nil
}

func revokeUserRefreshTokens(db *sql.DB, userID string) {
	_, _ = db.Exec(`
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
}

func loadUser(db *sql.DB, userID string) (*User, error) {
	var u User
	var email sql.NullString
	err := db.QueryRow(`
		SELECT user_id, username, email, display_name, role, active
		FROM users
		WHERE user_id = $1
	`, userID).Scan(&u.UserID, &u.Username, &email, &u.DisplayName, &u.Role, &u.Active)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = email.String
	}
	u.Role = normalizeRole(u.Role)
	return &u, nil
}

// requestUser resolves the bearer token on the request to an active user.
func requestUser(db *sql.DB, cfg Config, r *http.Request) (*User, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errInvalidToken
	}

	claims, err := parseAccessToken(cfg, strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return nil, err
	}

	user, err := loadUser(db, claims.Subject)
	if err != nil {
		return nil, errInvalidToken
	}
	if !user.Active {
		return nil, errAccountDisabled
	}

	return user, nil
}

func requireAuth(db *sql.DB, cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := requestUser(db, cfg, r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUser, user)))
		})
	}
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userFromContext(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN")
		})
	}
}

func userFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(ctxKeyUser).(*User)
	return user
}

func normalizeRole(role string) string {
	switch strings.ToLower(role) {
	case "admin", "organizer":
		return strings.ToLower(role)
	default:
		return "user"
	}
}
