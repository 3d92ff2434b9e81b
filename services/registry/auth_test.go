package registry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceAuthAcceptsIssuedToken(t *testing.T) {
	token, err := IssueServiceToken("test-secret", time.Minute)
	require.NoError(t, err)

	auth := newServiceAuth([]byte("test-secret"))
	r := httptest.NewRequest(http.MethodPost, "/v1/agents/abraham/works", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	assert.True(t, auth.verify(r))
}

func TestServiceAuthRejections(t *testing.T) {
	auth := newServiceAuth([]byte("test-secret"))

	expired, err := IssueServiceToken("test-secret", -time.Minute)
	require.NoError(t, err)

	wrongSecret, err := IssueServiceToken("other-secret", time.Minute)
	require.NoError(t, err)

	noScope := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	noScopeToken, err := noScope.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer garbage"},
		{name: "expired", header: "Bearer " + expired},
		{name: "wrong secret", header: "Bearer " + wrongSecret},
		{name: "missing scope", header: "Bearer " + noScopeToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/agents/abraham/works", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.False(t, auth.verify(r))
		})
	}
}

func TestRequireServiceMiddleware(t *testing.T) {
	auth := newServiceAuth([]byte("test-secret"))
	handler := auth.requireService(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := IssueServiceToken("test-secret", time.Minute)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	authed := httptest.NewRequest(http.MethodPost, "/", nil)
	authed.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, authed)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
