package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestSignAndVerifySession(t *testing.T) {
	token, exp, err := signSession(testSecret, "abcd1234", time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	assert.NoError(t, verifySession(testSecret, "abcd1234", token))
	assert.ErrorIs(t, verifySession(testSecret, "other", token), errBadSession)
	assert.ErrorIs(t, verifySession([]byte("wrong secret"), "abcd1234", token), errBadSession)
	assert.ErrorIs(t, verifySession(testSecret, "abcd1234", "not-a-token"), errBadSession)
}

func TestVerifySessionExpired(t *testing.T) {
	token, _, err := signSession(testSecret, "abcd1234", -time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, verifySession(testSecret, "abcd1234", token), errBadSession)
}

func TestIssueSessionCookie(t *testing.T) {
	cfg := validConfig()
	cfg.prefix = "/games"

	rec := httptest.NewRecorder()
	require.NoError(t, issueSession(cfg, rec, testSecret, "/memory", "abcd1234"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	c := cookies[0]
	assert.Equal(t, "pairbox_abcd1234", c.Name)
	assert.Equal(t, "/games/memory/abcd1234", c.Path)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.False(t, c.Secure)

	req := httptest.NewRequest(http.MethodGet, "/games/memory/abcd1234", nil)
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	assert.True(t, isOwner(req, testSecret, "abcd1234"))
	assert.False(t, isOwner(req, testSecret, "zzzz9999"))

	bare := httptest.NewRequest(http.MethodGet, "/games/memory/abcd1234", nil)
	assert.False(t, isOwner(bare, testSecret, "abcd1234"))
}

func TestSessionTTL(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, time.Hour, sessionTTL(cfg))

	cfg.sessionTimeout = 0
	assert.Equal(t, 24*time.Hour, sessionTTL(cfg))
}
