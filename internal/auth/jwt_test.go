package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newProtectedEcho() *echo.Echo {
	e := echo.New()
	e.Use(JWTMiddleware(testSecret, func(c echo.Context) bool {
		return c.Request().URL.Path == "/ping"
	}))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/admin", func(c echo.Context) error {
		subject, err := SubjectFromContext(c)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, subject)
	}, RequireAdmin)
	return e
}

func TestGenerateTokenClaims(t *testing.T) {
	signed, expiresAt, err := GenerateToken("ops", testSecret, 5*time.Minute)
	require.NoError(t, err)

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "ops", claims[claimSubject])
	assert.Equal(t, adminType, claims[claimType])

	iat := int64(claims["iat"].(float64))
	exp := int64(claims["exp"].(float64))
	assert.Equal(t, int64(5*60), exp-iat)
	assert.Equal(t, expiresAt.Unix(), exp)
}

func TestGenerateTokenValidatesInput(t *testing.T) {
	_, _, err := GenerateToken("", testSecret, time.Minute)
	assert.Error(t, err)
	_, _, err = GenerateToken("ops", " ", time.Minute)
	assert.Error(t, err)
	_, _, err = GenerateToken("ops", testSecret, 0)
	assert.Error(t, err)
}

func TestMiddlewareGuardsAdminRoutes(t *testing.T) {
	e := newProtectedEcho()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	signed, _, err := GenerateToken("ops", testSecret, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+signed)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", rec.Body.String())

	forged, _, err := GenerateToken("ops", "other-secret", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+forged)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubjectFromContextRejectsNonAdminToken(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	_, err := SubjectFromContext(c)
	var httpErr *echo.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)

	c.Set("user", &jwt.Token{Valid: true, Claims: jwt.MapClaims{claimSubject: "ops"}})
	_, err = SubjectFromContext(c)
	assert.Error(t, err)
}
