// Package auth verifies supporter tokens (HMAC-signed JWT, sub = supporter id).
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/psds-microservice/support-service/internal/errs"
)

const (
	ctxSupporterID   = "supporter_id"
	ctxSupporterName = "supporter_name"
)

type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SupporterID парсит sub как числовой id саппортера.
func (c *Claims) SupporterID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid subject", errs.ErrUnauthorized)
	}
	return id, nil
}

// Verifier is nil-safe: a nil or secretless verifier means auth is disabled.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

func (v *Verifier) Verify(raw string) (*Claims, error) {
	if !v.Enabled() {
		return nil, fmt.Errorf("%w: verifier disabled", errs.ErrUnauthorized)
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid or expired token", errs.ErrUnauthorized)
	}
	if _, err := claims.SupporterID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// Issue signs a supporter token. Used by the issue-token command and tests.
func (v *Verifier) Issue(supporterID int64, name string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("supporter token secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(supporterID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware требует токен саппортера (Authorization: Bearer или ?token=).
// Если проверка выключена, запрос пропускается как есть.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !v.Enabled() {
			c.Next()
			return
		}
		raw := c.Query("token")
		if h := c.GetHeader("Authorization"); h != "" {
			raw = strings.TrimPrefix(h, "Bearer ")
			if raw == h {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format", "code": errs.Code(errs.ErrUnauthorized)})
				return
			}
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing supporter token", "code": errs.Code(errs.ErrUnauthorized)})
			return
		}
		claims, err := v.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": errs.Code(err)})
			return
		}
		id, _ := claims.SupporterID()
		c.Set(ctxSupporterID, id)
		c.Set(ctxSupporterName, claims.Name)
		c.Next()
	}
}

// Supporter returns the authenticated supporter, if the middleware verified one.
func Supporter(c *gin.Context) (id int64, name string, ok bool) {
	v, exists := c.Get(ctxSupporterID)
	if !exists {
		return 0, "", false
	}
	id, ok = v.(int64)
	name = c.GetString(ctxSupporterName)
	return id, name, ok
}

// CheckSupporter сверяет заявленный id саппортера с токеном. Без токена
// (проверка выключена) принимается любой id.
func CheckSupporter(c *gin.Context, claimed int64) error {
	id, _, ok := Supporter(c)
	if !ok {
		return nil
	}
	if id != claimed {
		return fmt.Errorf("%w: token is for supporter %d", errs.ErrUnauthorized, id)
	}
	return nil
}
