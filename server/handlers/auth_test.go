package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtreeno1/AI-Learning-Companion-BE/server/models"
)

func TestSignup_CreatesAccount(t *testing.T) {
	r := newRig(t)

	w := r.do(t, http.MethodPost, "/api/auth/signup", gin.H{
		"name":     "New Studier",
		"email":    "new@example.com",
		"password": "hunter22",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decodeJSON[models.AuthResponse](t, w)
	assert.Equal(t, "new@example.com", resp.Email)
	assert.Equal(t, "New Studier", resp.Name)
	assert.NotEmpty(t, resp.Token)

	// The issued token must work immediately.
	me := r.do(t, http.MethodGet, "/api/auth/me", nil, resp.Token)
	require.Equal(t, http.StatusOK, me.Code)

	user := decodeJSON[models.User](t, me)
	assert.Equal(t, resp.ID, user.ID)
	assert.Equal(t, "new@example.com", user.Email)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	r := newRig(t)

	payload := gin.H{"name": "A", "email": "dup@example.com", "password": "hunter22"}
	w := r.do(t, http.MethodPost, "/api/auth/signup", payload, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = r.do(t, http.MethodPost, "/api/auth/signup", payload, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "Email already registered")
}

func TestSignup_ValidatesPayload(t *testing.T) {
	r := newRig(t)

	// Password below the minimum length.
	w := r.do(t, http.MethodPost, "/api/auth/signup", gin.H{
		"name":     "A",
		"email":    "short@example.com",
		"password": "aaa",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = r.do(t, http.MethodPost, "/api/auth/signup", gin.H{
		"name":     "A",
		"email":    "not-an-email",
		"password": "hunter22",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_RoundTrip(t *testing.T) {
	r := newRig(t)

	w := r.do(t, http.MethodPost, "/api/auth/signup", gin.H{
		"name":     "Login Test",
		"email":    "login@example.com",
		"password": "hunter22",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = r.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "login@example.com",
		"password": "hunter22",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON[models.AuthResponse](t, w)
	assert.NotEmpty(t, resp.Token)

	me := r.do(t, http.MethodGet, "/api/auth/me", nil, resp.Token)
	assert.Equal(t, http.StatusOK, me.Code)
}

func TestLogin_WrongPassword(t *testing.T) {
	r := newRig(t)

	w := r.do(t, http.MethodPost, "/api/auth/signup", gin.H{
		"name":     "Login Test",
		"email":    "login@example.com",
		"password": "hunter22",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = r.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "login@example.com",
		"password": "wrong-password",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid email or password")
}

func TestLogin_UnknownEmail(t *testing.T) {
	r := newRig(t)

	w := r.do(t, http.MethodPost, "/api/auth/login", gin.H{
		"email":    "ghost@example.com",
		"password": "hunter22",
	}, "")
	// Same answer as a bad password; no account enumeration.
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid email or password")
}

func TestMe_RequiresToken(t *testing.T) {
	r := newRig(t)

	w := r.do(t, http.MethodGet, "/api/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
