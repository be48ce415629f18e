package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	habitMinPoints = 1
	habitMaxPoints = 500
)

var (
	errInvalidHabitPoints = errors.New("INVALID_HABIT_POINTS")
	errInvalidTitle       = errors.New("INVALID_TITLE")
	errHabitLimitReached  = errors.New("HABIT_LIMIT_REACHED")
)

type Habit struct {
	HabitID     string     `json:"habitId"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Points      int        `json:"points"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	Streak      int64      `json:"streak"`
	Completions int64      `json:"totalCompletions"`
	LastDone    *time.Time `json:"lastCompleted,omitempty"`
}

func createHabit(ctx context.Context, db *sql.DB, userID string, title string, description string, category string, points int) (*Habit, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > 120 {
		return nil, errInvalidTitle
	}
	if points < habitMinPoints || points > habitMaxPoints {
		return nil, errInvalidHabitPoints
	}

	maxHabits := GetGlobalSettings().MaxHabitsPerUser
	if maxHabits > 0 {
		var count int
		if err := db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM habits WHERE user_id = $1 AND active = TRUE
		`, userID).Scan(&count); err != nil {
			return nil, err
		}
		if count >= maxHabits {
			return nil, errHabitLimitReached
		}
	}

	habitID := uuid.New().String()
	now := time.Now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO habits (habit_id, user_id, title, description, category, points, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
	`, habitID, userID, title, nullableString(description), nullableString(category), points, now); err != nil {
		return nil, err
	}

	// Progress is born with the habit and dies with it.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO habit_progress (habit_id, user_id, streak, total_completions, last_completed)
		VALUES ($1, $2, 0, 0, NULL)
	`, habitID, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Habit{
		HabitID:   habitID,
		UserID:    userID,
		Title:     title,
		Category:  category,
		Points:    points,
		Active:    true,
		CreatedAt: now,
	}, nil
}

func listHabits(ctx context.Context, db *sql.DB, userID string) ([]Habit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT h.habit_id, h.user_id, h.title, COALESCE(h.description, ''), COALESCE(h.category, ''),
			h.points, h.active, h.created_at,
			COALESCE(hp.streak, 0), COALESCE(hp.total_completions, 0), hp.last_completed
		FROM habits h
		LEFT JOIN habit_progress hp ON hp.habit_id = h.habit_id
		WHERE h.user_id = $1 AND h.active = TRUE
		ORDER BY h.created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	habits := []Habit{}
	for rows.Next() {
		var h Habit
		var lastDone sql.NullTime
		if err := rows.Scan(&h.HabitID, &h.UserID, &h.Title, &h.Description, &h.Category,
			&h.Points, &h.Active, &h.CreatedAt,
			&h.Streak, &h.Completions, &lastDone); err != nil {
			return nil, err
		}
		if lastDone.Valid {
			t := lastDone.Time
			h.LastDone = &t
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

func getHabit(ctx context.Context, db *sql.DB, habitID string) (*Habit, error) {
	var h Habit
	var lastDone sql.NullTime
	err := db.QueryRowContext(ctx, `
		SELECT h.habit_id, h.user_id, h.title, COALESCE(h.description, ''), COALESCE(h.category, ''),
			h.points, h.active, h.created_at,
			COALESCE(hp.streak, 0), COALESCE(hp.total_completions, 0), hp.last_completed
		FROM habits h
		LEFT JOIN habit_progress hp ON hp.habit_id = h.habit_id
		WHERE h.habit_id = $1
	`, habitID).Scan(&h.HabitID, &h.UserID, &h.Title, &h.Description, &h.Category,
		&h.Points, &h.Active, &h.CreatedAt,
		&h.Streak, &h.Completions, &lastDone)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastDone.Valid {
		t := lastDone.Time
		h.LastDone = &t
	}
	return &h, nil
}

func updateHabit(ctx context.Context, db *sql.DB, habitID string, userID string, title string, description string, category string, points int) error {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > 120 {
		return errInvalidTitle
	}
	if points < habitMinPoints || points > habitMaxPoints {
		return errInvalidHabitPoints
	}

	habit, err := getHabit(ctx, db, habitID)
	if err != nil {
		return err
	}
	if habit.UserID != userID {
		return errForbidden
	}

	_, err = db.ExecContext(ctx, `
		UPDATE habits
		SET title = $2,
			description = $3,
			category = $4,
			points = $5
		WHERE habit_id = $1
	`, habitID, title, nullableString(description), nullableString(category), points)
	return err
}

// deleteHabit removes the habit and its progress together. The points it
// already granted stay on the user's balance and in the ledger log.
func deleteHabit(ctx context.Context, db *sql.DB, habitID string, userID string) error {
	habit, err := getHabit(ctx, db, habitID)
	if err != nil {
		return err
	}
	if habit.UserID != userID {
		return errForbidden
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM habits
		WHERE habit_id = $1
	`, habitID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM habit_progress
		WHERE habit_id = $1
	`, habitID); err != nil {
		return err
	}

	return tx.Commit()
}
