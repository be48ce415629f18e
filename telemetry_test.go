package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetryAttributesBearerToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := Config{JWTSecret: "telemetry-test-secret", AccessTokenTTL: time.Hour}
	user := &User{UserID: "user-1", Username: "alice", Role: "user", Active: true}
	token, _, err := issueAccessToken(cfg, user, time.Now().UTC())
	require.NoError(t, err)

	mock.ExpectQuery("FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "username", "email", "display_name", "role", "active"}).
			AddRow("user-1", "alice", nil, "Alice", "user", true))
	mock.ExpectExec("INSERT INTO activity_log").
		WithArgs("user-1", "page_view", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/telemetry",
		strings.NewReader(`{"eventType":"page_view","payload":{"page":"/home"}}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	telemetryHandler(db, cfg)(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTelemetryStaysAnonymousWithoutToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := Config{JWTSecret: "telemetry-test-secret", AccessTokenTTL: time.Hour}

	mock.ExpectExec("INSERT INTO activity_log").
		WithArgs(nil, "page_view", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/telemetry",
		strings.NewReader(`{"eventType":"page_view"}`))
	rec := httptest.NewRecorder()

	telemetryHandler(db, cfg)(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFeedbackAttributesBearerToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := Config{JWTSecret: "telemetry-test-secret", AccessTokenTTL: time.Hour}
	user := &User{UserID: "user-1", Username: "alice", Role: "user", Active: true}
	token, _, err := issueAccessToken(cfg, user, time.Now().UTC())
	require.NoError(t, err)

	mock.ExpectQuery("FROM users").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "username", "email", "display_name", "role", "active"}).
			AddRow("user-1", "alice", nil, "Alice", "user", true))
	mock.ExpectExec("INSERT INTO user_feedback").
		WithArgs("user-1", 5, "Love the streaks", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/feedback",
		strings.NewReader(`{"rating":5,"message":"Love the streaks"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	feedbackHandler(db, cfg)(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
