package main

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*RewardLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRewardLedger(db), mock
}

func balanceRows(total, current, longest int64, lastStreak *time.Time) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"user_id", "total_points", "current_streak", "longest_streak", "last_streak_date"})
	if lastStreak != nil {
		return rows.AddRow("user-1", total, current, longest, *lastStreak)
	}
	return rows.AddRow("user-1", total, current, longest, nil)
}

func TestCompleteHabitCreditsAndAdvancesStreaks(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM habits").
		WithArgs("habit-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "points", "active"}).
			AddRow("user-1", 10, true))
	mock.ExpectQuery("FROM habit_progress").
		WithArgs("habit-1").
		WillReturnRows(sqlmock.NewRows([]string{"streak", "total_completions", "last_completed"}).
			AddRow(3, 8, yesterday))
	mock.ExpectExec("UPDATE habit_progress").
		WithArgs("habit-1", int64(4), int64(9), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM user_balances").
		WithArgs("user-1").
		WillReturnRows(balanceRows(100, 3, 6, &yesterday))
	mock.ExpectExec("UPDATE user_balances").
		WithArgs("user-1", int64(110), int64(4), int64(6), truncateToDay(now), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO points_ledger_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := ledger.CompleteHabit(context.Background(), "habit-1", "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 10, result.PointsAwarded)
	assert.Equal(t, int64(4), result.HabitStreak)
	assert.Equal(t, int64(9), result.TotalCompletions)
	assert.Equal(t, int64(110), result.TotalPoints)
	assert.Equal(t, int64(4), result.CurrentStreak)
	assert.Equal(t, int64(6), result.LongestStreak)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteHabitLongestStreakFollowsCurrent(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM habits").
		WithArgs("habit-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "points", "active"}).
			AddRow("user-1", 5, true))
	mock.ExpectQuery("FROM habit_progress").
		WithArgs("habit-1").
		WillReturnRows(sqlmock.NewRows([]string{"streak", "total_completions", "last_completed"}).
			AddRow(6, 20, yesterday))
	mock.ExpectExec("UPDATE habit_progress").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM user_balances").
		WithArgs("user-1").
		WillReturnRows(balanceRows(50, 6, 6, &yesterday))
	mock.ExpectExec("UPDATE user_balances").
		WithArgs("user-1", int64(55), int64(7), int64(7), truncateToDay(now), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO points_ledger_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := ledger.CompleteHabit(context.Background(), "habit-1", "user-1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.CurrentStreak)
	assert.Equal(t, int64(7), result.LongestStreak)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteHabitTwiceSameDayRejected(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM habits").
		WithArgs("habit-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "points", "active"}).
			AddRow("user-1", 10, true))
	mock.ExpectQuery("FROM habit_progress").
		WithArgs("habit-1").
		WillReturnRows(sqlmock.NewRows([]string{"streak", "total_completions", "last_completed"}).
			AddRow(3, 8, earlier))
	mock.ExpectRollback()

	_, err := ledger.CompleteHabit(context.Background(), "habit-1", "user-1", now)
	assert.ErrorIs(t, err, errAlreadyCompletedToday)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteHabitNotOwner(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM habits").
		WithArgs("habit-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "points", "active"}).
			AddRow("someone-else", 10, true))
	mock.ExpectRollback()

	_, err := ledger.CompleteHabit(context.Background(), "habit-1", "user-1", now)
	assert.ErrorIs(t, err, errForbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteHabitInactiveIsNotFound(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM habits").
		WithArgs("habit-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "points", "active"}).
			AddRow("user-1", 10, false))
	mock.ExpectRollback()

	_, err := ledger.CompleteHabit(context.Background(), "habit-1", "user-1", now)
	assert.ErrorIs(t, err, errNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseDebitsPointsAndStock(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM products").
		WithArgs("prod-1").
		WillReturnRows(sqlmock.NewRows([]string{"points_cost", "stock", "active"}).
			AddRow(30, 5, true))
	mock.ExpectQuery("FROM user_balances").
		WithArgs("user-1").
		WillReturnRows(balanceRows(100, 2, 4, nil))
	mock.ExpectExec("UPDATE user_balances").
		WithArgs("user-1", int64(40), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE products").
		WithArgs("prod-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO purchase_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO points_ledger_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := ledger.PurchaseProduct(context.Background(), "prod-1", "user-1", 2, now)
	require.NoError(t, err)
	assert.Equal(t, int64(60), result.PointsSpent)
	assert.Equal(t, int64(40), result.TotalPoints)
	assert.Equal(t, 3, result.Stock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseInsufficientPointsLeavesStateUntouched(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM products").
		WithArgs("prod-1").
		WillReturnRows(sqlmock.NewRows([]string{"points_cost", "stock", "active"}).
			AddRow(50, 5, true))
	mock.ExpectQuery("FROM user_balances").
		WithArgs("user-1").
		WillReturnRows(balanceRows(40, 0, 0, nil))
	mock.ExpectRollback()

	_, err := ledger.PurchaseProduct(context.Background(), "prod-1", "user-1", 1, now)
	assert.ErrorIs(t, err, errInsufficientPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseInsufficientStock(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM products").
		WithArgs("prod-1").
		WillReturnRows(sqlmock.NewRows([]string{"points_cost", "stock", "active"}).
			AddRow(10, 1, true))
	mock.ExpectRollback()

	_, err := ledger.PurchaseProduct(context.Background(), "prod-1", "user-1", 2, now)
	assert.ErrorIs(t, err, errInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseRejectsBadQuantity(t *testing.T) {
	ledger, _ := newMockLedger(t)
	now := time.Now().UTC()

	_, err := ledger.PurchaseProduct(context.Background(), "prod-1", "user-1", 0, now)
	assert.ErrorIs(t, err, errInvalidQuantity)

	_, err = ledger.PurchaseProduct(context.Background(), "prod-1", "user-1", -3, now)
	assert.ErrorIs(t, err, errInvalidQuantity)
}

func TestAppreciatePostRecomputesCachedTotal(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM posts").
		WithArgs("post-1").
		WillReturnRows(sqlmock.NewRows([]string{"author_id"}).AddRow("author-1"))
	mock.ExpectExec("INSERT INTO post_appreciations").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM post_appreciations").
		WithArgs("post-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(42))
	mock.ExpectExec("UPDATE posts").
		WithArgs("post-1", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := ledger.AppreciatePost(context.Background(), "post-1", "user-1", 25, "nice work", now)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.TotalAppreciationPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppreciatePostRejectsOutOfRangePoints(t *testing.T) {
	ledger, _ := newMockLedger(t)
	now := time.Now().UTC()

	_, err := ledger.AppreciatePost(context.Background(), "post-1", "user-1", 0, "", now)
	assert.ErrorIs(t, err, errInvalidPoints)

	_, err = ledger.AppreciatePost(context.Background(), "post-1", "user-1", 101, "", now)
	assert.ErrorIs(t, err, errInvalidPoints)
}

func TestCreditEventPointsOnce(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM events").
		WithArgs("event-1").
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(25))
	mock.ExpectQuery("FROM event_participants").
		WithArgs("event-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO event_credits").
		WithArgs("event-1", "user-1", EventReasonAttendance, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM user_balances").
		WithArgs("user-1").
		WillReturnRows(balanceRows(10, 0, 0, nil))
	mock.ExpectExec("UPDATE user_balances").
		WithArgs("user-1", int64(35), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO points_ledger_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := ledger.CreditEventPoints(context.Background(), "event-1", "user-1", EventReasonAttendance, now)
	require.NoError(t, err)
	assert.Equal(t, 25, result.PointsAwarded)
	assert.Equal(t, int64(35), result.TotalPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditEventPointsDuplicateRejected(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM events").
		WithArgs("event-1").
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(25))
	mock.ExpectQuery("FROM event_participants").
		WithArgs("event-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO event_credits").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := ledger.CreditEventPoints(context.Background(), "event-1", "user-1", EventReasonAttendance, now)
	assert.ErrorIs(t, err, errAlreadyCredited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditEventPointsUnknownReason(t *testing.T) {
	ledger, _ := newMockLedger(t)

	_, err := ledger.CreditEventPoints(context.Background(), "event-1", "user-1", "vibes", time.Now().UTC())
	assert.ErrorIs(t, err, errInvalidReason)
}

func TestCreditEventPointsRequiresRegistration(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM events").
		WithArgs("event-1").
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(25))
	mock.ExpectQuery("FROM event_participants").
		WithArgs("event-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := ledger.CreditEventPoints(context.Background(), "event-1", "user-1", EventReasonCompletion, now)
	assert.ErrorIs(t, err, errNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinCooldown(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lastClaim := now.Add(-1 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM checkin_claims").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"last_claim_at", "claim_count"}).
			AddRow(lastClaim, 3))
	mock.ExpectRollback()

	_, remaining, err := ledger.CheckinDaily(context.Background(), "user-1", 5, 20*time.Hour, now)
	assert.ErrorIs(t, err, errCheckinCooldown)
	assert.Equal(t, 19*time.Hour, remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckinFirstClaim(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM checkin_claims").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"last_claim_at", "claim_count"}))
	mock.ExpectExec("INSERT INTO checkin_claims").
		WithArgs("user-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM user_balances").
		WithArgs("user-1").
		WillReturnRows(balanceRows(0, 0, 0, nil))
	mock.ExpectExec("UPDATE user_balances").
		WithArgs("user-1", int64(5), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO points_ledger_log").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, _, err := ledger.CheckinDaily(context.Background(), "user-1", 5, 20*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Reward)
	assert.Equal(t, int64(5), result.TotalPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustPointsCannotGoNegative(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM user_balances").
		WithArgs("user-1").
		WillReturnRows(balanceRows(10, 0, 0, nil))
	mock.ExpectRollback()

	_, err := ledger.AdjustPoints(context.Background(), "user-1", -20, "admin-1", now)
	assert.ErrorIs(t, err, errInsufficientPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalanceNotFound(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery("FROM user_balances").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "total_points", "current_streak", "longest_streak", "last_streak_date"}))

	_, err := ledger.GetBalance(context.Background(), "missing")
	assert.ErrorIs(t, err, errNotFound)
}

func TestCreateBalanceCommitsZeroedRow(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_balances").
		WithArgs("user-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ledger.CreateBalance(context.Background(), "user-1", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}
