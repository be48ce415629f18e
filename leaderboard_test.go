package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setLeaderboardMinActivity(t *testing.T, min int) {
	t.Helper()
	settingsMu.Lock()
	prev := cachedSettings.LeaderboardMinActivity
	cachedSettings.LeaderboardMinActivity = min
	settingsMu.Unlock()
	t.Cleanup(func() {
		settingsMu.Lock()
		cachedSettings.LeaderboardMinActivity = prev
		settingsMu.Unlock()
	})
}

func TestLeaderboardAppliesMinActivityFloor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	setLeaderboardMinActivity(t, 100)

	mock.ExpectQuery("total_points >=").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("ROW_NUMBER").
		WithArgs(100, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"rank", "user_id", "display_name", "total_points", "current_streak", "longest_streak", "created_at",
		}).AddRow(1, "user-1", "Alice", 250, 4, 9, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)))

	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	rec := httptest.NewRecorder()

	leaderboardHandler(db)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Alice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaderboardScanErrorSurfaces(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM user_stats").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("ROW_NUMBER").
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"rank", "user_id", "display_name", "total_points", "current_streak", "longest_streak", "created_at",
		}).AddRow("not-a-rank", "user-1", "Alice", 250, 4, 9, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)))

	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	rec := httptest.NewRecorder()

	leaderboardHandler(db)(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL")
}
