package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{errNotFound, http.StatusNotFound},
		{errForbidden, http.StatusForbidden},
		{errInvalidCredentials, http.StatusUnauthorized},
		{errInvalidToken, http.StatusUnauthorized},
		{errAccountDisabled, http.StatusForbidden},
		{errRateLimited, http.StatusTooManyRequests},
		{errAlreadyCompletedToday, http.StatusConflict},
		{errInsufficientStock, http.StatusConflict},
		{errInsufficientPoints, http.StatusConflict},
		{errAlreadyCredited, http.StatusConflict},
		{errUsernameTaken, http.StatusConflict},
		{errCheckinCooldown, http.StatusConflict},
		{errInvalidPoints, http.StatusBadRequest},
		{errInvalidQuantity, http.StatusBadRequest},
		{errInvalidEventWindow, http.StatusBadRequest},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, statusForError(tc.err), tc.err.Error())
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusConflict, "INSUFFICIENT_POINTS")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "INSUFFICIENT_POINTS", body["error"])
}

func TestWriteJSONSetsOK(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]interface{}{"totalPoints": 40})

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(40), body["totalPoints"])
}

func TestRespondErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	respondError(rec, req, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL", body["error"])
}

func TestGetClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", getClientIP(req))
}
