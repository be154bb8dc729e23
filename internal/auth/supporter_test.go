package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue(42, "Bob", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	id, err := claims.SupporterID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "Bob", claims.Name)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret")

	other, err := NewVerifier("other").Issue(42, "Bob", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	expired, err := v.Issue(42, "Bob", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	badSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "bob"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(badSub)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestVerifier_Disabled(t *testing.T) {
	v := NewVerifier("")
	assert.False(t, v.Enabled())
	_, err := v.Issue(1, "x", time.Minute)
	assert.Error(t, err)
}

func newRouter(v *Verifier) *gin.Engine {
	r := gin.New()
	r.GET("/p/:supporter_id", Middleware(v), func(c *gin.Context) {
		id, name, ok := Supporter(c)
		c.JSON(http.StatusOK, gin.H{"id": id, "name": name, "ok": ok})
	})
	return r
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue(7, "Carol", time.Hour)
	require.NoError(t, err)
	r := newRouter(v)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer", "Bearer " + token, "", http.StatusOK},
		{"query", "", "?token=" + token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"not bearer", token, "", http.StatusUnauthorized},
		{"garbage", "Bearer abc", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/p/7"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	r := newRouter(nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p/7", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":0,"name":"","ok":false}`, w.Body.String())
}

func TestCheckSupporter(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.NoError(t, CheckSupporter(c, 5), "no verified token means no check")

	c.Set(ctxSupporterID, int64(5))
	assert.NoError(t, CheckSupporter(c, 5))
	assert.ErrorIs(t, CheckSupporter(c, 6), errs.ErrUnauthorized)
}
