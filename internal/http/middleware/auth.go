package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextUserID is the Gin context key holding the authenticated user id.
const ContextUserID = "userID"

// HeaderUserID carries a caller identity when header identity is allowed
// (local development and tests only).
const HeaderUserID = "X-User-ID"

const tokenIssuer = "go-chat-realtime"

// ErrInvalidToken is returned by ParseToken for any token that fails
// signature, algorithm, expiry or subject checks.
var ErrInvalidToken = errors.New("invalid token")

// AuthOptions configures Auth.
type AuthOptions struct {
	// Secret is the HS256 signing key. Empty disables token verification.
	Secret string
	// AllowHeader accepts X-User-ID when no token is presented.
	AllowHeader bool
}

// IssueToken signs an HS256 token whose subject is userID.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies raw and returns its subject.
func ParseToken(secret, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Auth resolves the caller identity and stores it under ContextUserID.
//
// A token is read from "Authorization: Bearer <jwt>" or, for websocket
// upgrades where browsers cannot set headers, the "token" query parameter.
// A presented token must verify; a bad token is never downgraded to header
// identity. Requests without any identity are rejected with 401.
func Auth(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearer(c); raw != "" && opts.Secret != "" {
			uid, err := ParseToken(opts.Secret, raw)
			if err != nil {
				unauthorized(c, "invalid or expired token")
				return
			}
			setUser(c, uid)
			c.Next()
			return
		}
		if opts.AllowHeader {
			if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
				setUser(c, uid)
				c.Next()
				return
			}
		}
		unauthorized(c, "authentication required")
	}
}

// UserID returns the authenticated user id, or "" when none was resolved.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ContextUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func setUser(c *gin.Context, uid string) {
	c.Set(ContextUserID, uid)
	withLogField(c, "user_id", uid)
}

func bearer(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}

func unauthorized(c *gin.Context, msg string) {
	rid, _ := c.Get(requestIDKey)
	c.Header("WWW-Authenticate", `Bearer realm="chat"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": asString(rid),
		"code":       "unauthorized",
		"message":    msg,
	})
}
