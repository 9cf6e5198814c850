package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func call(mw echo.MiddlewareFunc, target, authHeader string) (int, string) {
	e := echo.New()
	var subject string
	e.GET("/ws", func(c echo.Context) error {
		subject = GetSubject(c)
		return c.NoContent(http.StatusOK)
	}, mw)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code, subject
}

func TestRequireToken(t *testing.T) {
	valid := sign(t, jwt.SigningMethodHS256, []byte(secret), time.Now().Add(time.Hour))
	expired := sign(t, jwt.SigningMethodHS256, []byte(secret), time.Now().Add(-time.Hour))
	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), time.Now().Add(time.Hour))
	hs512 := sign(t, jwt.SigningMethodHS512, []byte(secret), time.Now().Add(time.Hour))

	required := RequireToken(secret, true)

	tests := []struct {
		name        string
		mw          echo.MiddlewareFunc
		target      string
		header      string
		wantCode    int
		wantSubject string
	}{
		{"bearer header", required, "/ws", "Bearer " + valid, http.StatusOK, "alice"},
		{"query token", required, "/ws?token=" + valid, "", http.StatusOK, "alice"},
		{"missing token", required, "/ws", "", http.StatusUnauthorized, ""},
		{"expired", required, "/ws?token=" + expired, "", http.StatusUnauthorized, ""},
		{"wrong key", required, "/ws?token=" + wrongKey, "", http.StatusUnauthorized, ""},
		{"wrong algorithm", required, "/ws?token=" + hs512, "", http.StatusUnauthorized, ""},
		{"optional without token", RequireToken(secret, false), "/ws", "", http.StatusOK, ""},
		{"optional with bad token", RequireToken(secret, false), "/ws?token=garbage", "", http.StatusUnauthorized, ""},
		{"disabled", RequireToken("", false), "/ws?token=garbage", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, subject := call(tt.mw, tt.target, tt.header)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantSubject, subject)
		})
	}
}
