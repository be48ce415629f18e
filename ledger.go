package main

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Ledger operation failures surfaced to the HTTP layer. Each maps to a
// structured error code in the response envelope; none are retried.
var (
	errNotFound              = errors.New("NOT_FOUND")
	errForbidden             = errors.New("FORBIDDEN")
	errAlreadyCompletedToday = errors.New("ALREADY_COMPLETED_TODAY")
	errInsufficientStock     = errors.New("INSUFFICIENT_STOCK")
	errInsufficientPoints    = errors.New("INSUFFICIENT_POINTS")
	errAlreadyCredited       = errors.New("ALREADY_CREDITED")
	errInvalidPoints         = errors.New("INVALID_POINTS")
	errInvalidQuantity       = errors.New("INVALID_QUANTITY")
	errInvalidReason         = errors.New("INVALID_REASON")
	errCheckinCooldown       = errors.New("COOLDOWN")
)

// Point sources recorded in points_ledger_log.
const (
	SourceHabit           = "habit"
	SourceEventAttendance = "event_attendance"
	SourceEventCompletion = "event_completion"
	SourcePurchase        = "purchase"
	SourceCheckin         = "checkin"
	SourceAdminAdjust     = "admin_adjust"
)

const (
	EventReasonAttendance = "attendance"
	EventReasonCompletion = "completion"
)

// RewardLedger owns all writes to user_balances. Every mutation runs inside
// a single transaction with row locks, and every credit or debit appends a
// points_ledger_log row with the balance before and after.
type RewardLedger struct {
	db *sql.DB
}

func NewRewardLedger(db *sql.DB) *RewardLedger {
	return &RewardLedger{db: db}
}

type Balance struct {
	UserID         string
	TotalPoints    int64
	CurrentStreak  int64
	LongestStreak  int64
	LastStreakDate *time.Time
}

type HabitCompletionResult struct {
	HabitID          string
	PointsAwarded    int
	HabitStreak      int64
	TotalCompletions int64
	TotalPoints      int64
	CurrentStreak    int64
	LongestStreak    int64
}

type PurchaseResult struct {
	ProductID   string
	Quantity    int
	PointsSpent int64
	TotalPoints int64
	Stock       int
}

type AppreciationResult struct {
	PostID                  string
	Points                  int
	TotalAppreciationPoints int64
}

type EventCreditResult struct {
	EventID       string
	Reason        string
	PointsAwarded int
	TotalPoints   int64
}

type CheckinResult struct {
	Reward      int
	TotalPoints int64
	ClaimCount  int64
}

// CreateBalance inserts the zeroed balance row for a new user. Balances are
// never deleted afterwards; deactivating the user leaves the row in place.
func (l *RewardLedger) CreateBalance(ctx context.Context, userID string, now time.Time) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := l.createBalanceTx(ctx, tx, userID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// createBalanceTx joins the caller's transaction, so the user row and the
// balance row commit together.
func (l *RewardLedger) createBalanceTx(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, total_points, current_streak, longest_streak, last_streak_date, updated_at)
		VALUES ($1, 0, 0, 0, NULL, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, now)
	return err
}

func (l *RewardLedger) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	var b Balance
	var lastStreak sql.NullTime
	err := l.db.QueryRowContext(ctx, `
		SELECT user_id, total_points, current_streak, longest_streak, last_streak_date
		FROM user_balances
		WHERE user_id = $1
	`, userID).Scan(&b.UserID, &b.TotalPoints, &b.CurrentStreak, &b.LongestStreak, &lastStreak)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastStreak.Valid {
		t := lastStreak.Time
		b.LastStreakDate = &t
	}
	return &b, nil
}

// CompleteHabit marks the habit done for the current UTC day, advances both
// the habit streak and the user streak, and credits the habit's point value.
// The habit write and the balance write commit together.
func (l *RewardLedger) CompleteHabit(ctx context.Context, habitID string, userID string, now time.Time) (*HabitCompletionResult, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var ownerID string
	var points int
	var active bool
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, points, active
		FROM habits
		WHERE habit_id = $1
		FOR UPDATE
	`, habitID).Scan(&ownerID, &points, &active)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, errNotFound
	}
	if ownerID != userID {
		return nil, errForbidden
	}

	var habitStreak int64
	var totalCompletions int64
	var lastCompleted sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT streak, total_completions, last_completed
		FROM habit_progress
		WHERE habit_id = $1
		FOR UPDATE
	`, habitID).Scan(&habitStreak, &totalCompletions, &lastCompleted)
	if err == sql.ErrNoRows {
		// Progress rows are created with the habit; recover if one is missing.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO habit_progress (habit_id, user_id, streak, total_completions, last_completed)
			VALUES ($1, $2, 0, 0, NULL)
		`, habitID, userID); err != nil {
			return nil, err
		}
		habitStreak = 0
		totalCompletions = 0
		lastCompleted = sql.NullTime{}
	} else if err != nil {
		return nil, err
	}

	var lastPtr *time.Time
	if lastCompleted.Valid {
		t := lastCompleted.Time
		lastPtr = &t
		if sameDay(t, now) {
			return nil, errAlreadyCompletedToday
		}
	}

	habitStreak = nextStreak(lastPtr, now, habitStreak)
	totalCompletions++

	if _, err := tx.ExecContext(ctx, `
		UPDATE habit_progress
		SET streak = $2,
			total_completions = $3,
			last_completed = $4
		WHERE habit_id = $1
	`, habitID, habitStreak, totalCompletions, now); err != nil {
		return nil, err
	}

	balance, err := lockBalanceTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	today := truncateToDay(now)
	userStreak := balance.CurrentStreak
	if balance.LastStreakDate == nil || !sameDay(*balance.LastStreakDate, now) {
		userStreak = nextStreak(balance.LastStreakDate, now, balance.CurrentStreak)
	}
	longest := maxStreak(balance.LongestStreak, userStreak)

	before := balance.TotalPoints
	after := before + int64(points)

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_balances
		SET total_points = $2,
			current_streak = $3,
			longest_streak = $4,
			last_streak_date = $5,
			updated_at = $6
		WHERE user_id = $1
	`, userID, after, userStreak, longest, today, now); err != nil {
		return nil, err
	}

	if err := logPointsTx(ctx, tx, userID, SourceHabit, habitID, int64(points), before, after, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	pointsCreditedTotal.WithLabelValues(SourceHabit).Add(float64(points))

	return &HabitCompletionResult{
		HabitID:          habitID,
		PointsAwarded:    points,
		HabitStreak:      habitStreak,
		TotalCompletions: totalCompletions,
		TotalPoints:      after,
		CurrentStreak:    userStreak,
		LongestStreak:    longest,
	}, nil
}

// PurchaseProduct debits pointsCost*quantity from the buyer and decrements
// stock, both in one transaction. Nothing changes on failure.
func (l *RewardLedger) PurchaseProduct(ctx context.Context, productID string, userID string, quantity int, now time.Time) (*PurchaseResult, error) {
	if quantity < 1 {
		return nil, errInvalidQuantity
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var pointsCost int
	var stock int
	var active bool
	err = tx.QueryRowContext(ctx, `
		SELECT points_cost, stock, active
		FROM products
		WHERE product_id = $1
		FOR UPDATE
	`, productID).Scan(&pointsCost, &stock, &active)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, errNotFound
	}
	if stock < quantity {
		return nil, errInsufficientStock
	}

	balance, err := lockBalanceTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	cost := int64(pointsCost) * int64(quantity)
	if balance.TotalPoints < cost {
		return nil, errInsufficientPoints
	}

	before := balance.TotalPoints
	after := before - cost
	stockAfter := stock - quantity

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_balances
		SET total_points = $2,
			updated_at = $3
		WHERE user_id = $1
	`, userID, after, now); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = $2
		WHERE product_id = $1
	`, productID, stockAfter); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO purchase_log (
			product_id,
			user_id,
			quantity,
			points_cost,
			points_spent,
			points_before,
			points_after,
			stock_after,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, productID, userID, quantity, pointsCost, cost, before, after, stockAfter, now); err != nil {
		return nil, err
	}

	if err := logPointsTx(ctx, tx, userID, SourcePurchase, productID, -cost, before, after, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	pointsDebitedTotal.WithLabelValues(SourcePurchase).Add(float64(cost))

	return &PurchaseResult{
		ProductID:   productID,
		Quantity:    quantity,
		PointsSpent: cost,
		TotalPoints: after,
		Stock:       stockAfter,
	}, nil
}

// AppreciatePost appends an appreciation record and recomputes the post's
// cached total from scratch so the cache can never drift from the records.
// Repeat appreciation by the same user is allowed. The author's personal
// balance is not credited; appreciation is a post-level aggregate only.
func (l *RewardLedger) AppreciatePost(ctx context.Context, postID string, fromUser string, points int, message string, now time.Time) (*AppreciationResult, error) {
	if points < 1 || points > 100 {
		return nil, errInvalidPoints
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var authorID string
	err = tx.QueryRowContext(ctx, `
		SELECT author_id
		FROM posts
		WHERE post_id = $1
		FOR UPDATE
	`, postID).Scan(&authorID)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}

	var msg sql.NullString
	if message != "" {
		msg = sql.NullString{String: message, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO post_appreciations (post_id, from_user, points, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, postID, fromUser, points, msg, now); err != nil {
		return nil, err
	}

	var total int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points), 0)
		FROM post_appreciations
		WHERE post_id = $1
	`, postID).Scan(&total)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE posts
		SET total_appreciation_points = $2
		WHERE post_id = $1
	`, postID, total); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	appreciationsTotal.Inc()

	return &AppreciationResult{
		PostID:                  postID,
		Points:                  points,
		TotalAppreciationPoints: total,
	}, nil
}

// CreditEventPoints settles event points for one participant, at most once
// per (event, user, reason). Same shape as habit completion but with no
// streak bookkeeping.
func (l *RewardLedger) CreditEventPoints(ctx context.Context, eventID string, userID string, reason string, now time.Time) (*EventCreditResult, error) {
	source := ""
	switch reason {
	case EventReasonAttendance:
		source = SourceEventAttendance
	case EventReasonCompletion:
		source = SourceEventCompletion
	default:
		return nil, errInvalidReason
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var points int
	err = tx.QueryRowContext(ctx, `
		SELECT points
		FROM events
		WHERE event_id = $1
		FOR UPDATE
	`, eventID).Scan(&points)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}

	var registered bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM event_participants
			WHERE event_id = $1 AND user_id = $2
		)
	`, eventID, userID).Scan(&registered)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, errNotFound
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO event_credits (event_id, user_id, reason, credited_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id, user_id, reason) DO NOTHING
	`, eventID, userID, reason, now)
	if err != nil {
		return nil, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		return nil, errAlreadyCredited
	}

	balance, err := lockBalanceTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	before := balance.TotalPoints
	after := before + int64(points)

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_balances
		SET total_points = $2,
			updated_at = $3
		WHERE user_id = $1
	`, userID, after, now); err != nil {
		return nil, err
	}

	if err := logPointsTx(ctx, tx, userID, source, eventID, int64(points), before, after, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	pointsCreditedTotal.WithLabelValues(source).Add(float64(points))

	return &EventCreditResult{
		EventID:       eventID,
		Reason:        reason,
		PointsAwarded: points,
		TotalPoints:   after,
	}, nil
}

// CheckinDaily grants the fixed daily bonus, gated by a per-user cooldown.
func (l *RewardLedger) CheckinDaily(ctx context.Context, userID string, reward int, cooldown time.Duration, now time.Time) (*CheckinResult, time.Duration, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var lastClaim time.Time
	var claimCount int64
	err = tx.QueryRowContext(ctx, `
		SELECT last_claim_at, claim_count
		FROM checkin_claims
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&lastClaim, &claimCount)
	if err != nil && err != sql.ErrNoRows {
		return nil, 0, err
	}
	if err == nil {
		next := lastClaim.Add(cooldown)
		if now.Before(next) {
			return nil, next.Sub(now), errCheckinCooldown
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkin_claims (user_id, last_claim_at, claim_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id)
		DO UPDATE SET
			last_claim_at = EXCLUDED.last_claim_at,
			claim_count = checkin_claims.claim_count + 1
	`, userID, now); err != nil {
		return nil, 0, err
	}
	claimCount++

	balance, err := lockBalanceTx(ctx, tx, userID)
	if err != nil {
		return nil, 0, err
	}

	before := balance.TotalPoints
	after := before + int64(reward)

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_balances
		SET total_points = $2,
			updated_at = $3
		WHERE user_id = $1
	`, userID, after, now); err != nil {
		return nil, 0, err
	}

	if err := logPointsTx(ctx, tx, userID, SourceCheckin, "", int64(reward), before, after, now); err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}

	pointsCreditedTotal.WithLabelValues(SourceCheckin).Add(float64(reward))

	return &CheckinResult{
		Reward:      reward,
		TotalPoints: after,
		ClaimCount:  claimCount,
	}, 0, nil
}

// AdjustPoints applies a signed admin adjustment. Debits that would take the
// balance below zero fail with INSUFFICIENT_POINTS.
func (l *RewardLedger) AdjustPoints(ctx context.Context, userID string, amount int64, adminID string, now time.Time) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balance, err := lockBalanceTx(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	before := balance.TotalPoints
	after := before + amount
	if after < 0 {
		return 0, errInsufficientPoints
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_balances
		SET total_points = $2,
			updated_at = $3
		WHERE user_id = $1
	`, userID, after, now); err != nil {
		return 0, err
	}

	if err := logPointsTx(ctx, tx, userID, SourceAdminAdjust, adminID, amount, before, after, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return after, nil
}

func lockBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (*Balance, error) {
	var b Balance
	var lastStreak sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, total_points, current_streak, longest_streak, last_streak_date
		FROM user_balances
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&b.UserID, &b.TotalPoints, &b.CurrentStreak, &b.LongestStreak, &lastStreak)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastStreak.Valid {
		t := lastStreak.Time
		b.LastStreakDate = &t
	}
	return &b, nil
}

func logPointsTx(ctx context.Context, tx *sql.Tx, userID string, sourceType string, referenceID string, amount int64, before int64, after int64, now time.Time) error {
	var ref sql.NullString
	if referenceID != "" {
		ref = sql.NullString{String: referenceID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO points_ledger_log (
			user_id,
			source_type,
			reference_id,
			amount,
			points_before,
			points_after,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, userID, sourceType, ref, amount, before, after, now)
	return err
}
