package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-service/internal/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier("test-secret", "storefront")
	require.NoError(t, err)
	return v
}

func TestIssueAndParseToken(t *testing.T) {
	v := newVerifier(t)
	token, err := v.IssueToken(Identity{UserID: 42, Role: RoleAdmin}, time.Now(), time.Hour)
	require.NoError(t, err)

	id, err := v.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.UserID)
	assert.True(t, id.IsAdmin())
}

func TestParseTokenRejects(t *testing.T) {
	v := newVerifier(t)
	other, err := NewVerifier("other-secret", "storefront")
	require.NoError(t, err)
	otherIssuer, err := NewVerifier("test-secret", "someone-else")
	require.NoError(t, err)

	expired, err := v.IssueToken(Identity{UserID: 1, Role: RoleUser}, time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	wrongKey, err := other.IssueToken(Identity{UserID: 1, Role: RoleUser}, time.Now(), time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := otherIssuer.IssueToken(Identity{UserID: 1, Role: RoleUser}, time.Now(), time.Hour)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "storefront",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"bad subject":  badSubject,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.ParseToken(token)
			assert.Error(t, err)
		})
	}
}

func TestIssueTokenRejectsUnknownRole(t *testing.T) {
	_, err := newVerifier(t).IssueToken(Identity{UserID: 1, Role: "ROOT"}, time.Now(), time.Hour)
	assert.Error(t, err)
}

func testRouter(v *Verifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	fail := func(c *gin.Context, err error) {
		code := apperrors.CodeInternal
		if typed := apperrors.As(err); typed != nil {
			code = typed.Code()
		}
		c.JSON(apperrors.MetadataFor(code).HTTPStatus, gin.H{"code": code})
	}

	r := gin.New()
	r.Use(Middleware(v, fail))
	r.GET("/me", func(c *gin.Context) {
		id, _ := FromContext(c)
		c.JSON(http.StatusOK, gin.H{"userId": id.UserID})
	})
	r.GET("/admin", RequireAdmin(fail), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	v := newVerifier(t)
	r := testRouter(v)
	userToken, err := v.IssueToken(Identity{UserID: 5, Role: RoleUser}, time.Now(), time.Hour)
	require.NoError(t, err)
	adminToken, err := v.IssueToken(Identity{UserID: 1, Role: RoleAdmin}, time.Now(), time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/me", "", http.StatusUnauthorized},
		{"no bearer prefix", "/me", userToken, http.StatusUnauthorized},
		{"invalid token", "/me", "Bearer junk", http.StatusUnauthorized},
		{"user", "/me", "Bearer " + userToken, http.StatusOK},
		{"user on admin route", "/admin", "Bearer " + userToken, http.StatusForbidden},
		{"admin on admin route", "/admin", "bearer " + adminToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
