package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event status is derived from the start/end timestamps. The stored column
// is a cache kept fresh by eventStatus at read time and by the periodic
// sweep; the timestamps stay authoritative.
const (
	EventStatusUpcoming  = "upcoming"
	EventStatusOngoing   = "ongoing"
	EventStatusCompleted = "completed"
)

var (
	errInvalidEventWindow = errors.New("INVALID_EVENT_WINDOW")
	errEventNotCompleted  = errors.New("EVENT_NOT_COMPLETED")
	errEventEnded         = errors.New("EVENT_ENDED")
	errEventNotStarted    = errors.New("EVENT_NOT_STARTED")
	errNotRegistered      = errors.New("NOT_REGISTERED")
	errAlreadyRegistered  = errors.New("ALREADY_REGISTERED")
)

type Event struct {
	EventID     string    `json:"eventId"`
	OrgID       string    `json:"orgId,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Points      int       `json:"points"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func eventStatus(startsAt time.Time, endsAt time.Time, now time.Time) string {
	switch {
	case now.Before(startsAt):
		return EventStatusUpcoming
	case now.Before(endsAt):
		return EventStatusOngoing
	default:
		return EventStatusCompleted
	}
}

func createEvent(ctx context.Context, db *sql.DB, creator *User, orgID string, title string, description string, location string, startsAt time.Time, endsAt time.Time, points int) (*Event, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > 160 {
		return nil, errInvalidTitle
	}
	if !endsAt.After(startsAt) {
		return nil, errInvalidEventWindow
	}
	if points < 0 || points > habitMaxPoints {
		return nil, errInvalidHabitPoints
	}
	if orgID != "" {
		member, err := isOrgMember(ctx, db, orgID, creator.UserID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, errForbidden
		}
	}

	eventID := uuid.New().String()
	now := time.Now().UTC()
	status := eventStatus(startsAt, endsAt, now)

	_, err := db.ExecContext(ctx, `
		INSERT INTO events (event_id, org_id, created_by, title, description, location, starts_at, ends_at, points, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, eventID, nullableString(orgID), creator.UserID, title, nullableString(description), nullableString(location), startsAt, endsAt, points, status, now)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:   eventID,
		OrgID:     orgID,
		CreatedBy: creator.UserID,
		Title:     title,
		Location:  location,
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		Points:    points,
		Status:    status,
		CreatedAt: now,
	}, nil
}

func getEvent(ctx context.Context, db *sql.DB, eventID string) (*Event, error) {
	var e Event
	var orgID sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT event_id, org_id, created_by, title, COALESCE(description, ''), COALESCE(location, ''),
			starts_at, ends_at, points, status, created_at
		FROM events
		WHERE event_id = $1
	`, eventID).Scan(&e.EventID, &orgID, &e.CreatedBy, &e.Title, &e.Description, &e.Location,
		&e.StartsAt, &e.EndsAt, &e.Points, &e.Status, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if orgID.Valid {
		e.OrgID = orgID.String
	}
	e.Status = eventStatus(e.StartsAt, e.EndsAt, time.Now().UTC())
	return &e, nil
}

func listEvents(ctx context.Context, db *sql.DB, statusFilter string, limit int) ([]Event, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	now := time.Now().UTC()
	query := `
		SELECT event_id, org_id, created_by, title, COALESCE(description, ''), COALESCE(location, ''),
			starts_at, ends_at, points, status, created_at
		FROM events
	`
	args := []interface{}{}
	// Filter on the derived status before limiting; the cached column can
	// lag between sweeps.
	if statusFilter != "" {
		query += `
		WHERE CASE
			WHEN starts_at > $1 THEN 'upcoming'
			WHEN ends_at > $1 THEN 'ongoing'
			ELSE 'completed'
		END = $2
		ORDER BY starts_at ASC
		LIMIT $3`
		args = append(args, now, statusFilter, limit)
	} else {
		query += `
		ORDER BY starts_at ASC
		LIMIT $1`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var orgID sql.NullString
		if err := rows.Scan(&e.EventID, &orgID, &e.CreatedBy, &e.Title, &e.Description, &e.Location,
			&e.StartsAt, &e.EndsAt, &e.Points, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		if orgID.Valid {
			e.OrgID = orgID.String
		}
		e.Status = eventStatus(e.StartsAt, e.EndsAt, now)
		events = append(events, e)
	}
	return events, rows.Err()
}

func registerForEvent(ctx context.Context, db *sql.DB, eventID string, userID string) error {
	event, err := getEvent(ctx, db, eventID)
	if err != nil {
		return err
	}
	if event.Status == EventStatusCompleted {
		return errEventEnded
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO event_participants (event_id, user_id, registered_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id, user_id) DO NOTHING
	`, eventID, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errAlreadyRegistered
	}
	return nil
}

// markAttendance records attendance and settles attendance points through
// the ledger. Only the event creator (or an org member for org events) may
// mark attendance.
func markAttendance(ctx context.Context, db *sql.DB, ledger *RewardLedger, eventID string, actor *User, userID string) (*EventCreditResult, error) {
	event, err := getEvent(ctx, db, eventID)
	if err != nil {
		return nil, err
	}
	if err := canManageEvent(ctx, db, event, actor); err != nil {
		return nil, err
	}
	if event.Status == EventStatusUpcoming {
		return nil, errEventNotStarted
	}

	result, err := db.ExecContext(ctx, `
		UPDATE event_participants
		SET attended = TRUE,
			attended_at = NOW()
		WHERE event_id = $1 AND user_id = $2
	`, eventID, userID)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errNotRegistered
	}

	return ledger.CreditEventPoints(ctx, eventID, userID, EventReasonAttendance, time.Now().UTC())
}

// settleEventCompletion credits completion points to every attendee once the
// event has ended. Credits already granted are skipped.
func settleEventCompletion(ctx context.Context, db *sql.DB, ledger *RewardLedger, eventID string, actor *User) (int, error) {
	event, err := getEvent(ctx, db, eventID)
	if err != nil {
		return 0, err
	}
	if err := canManageEvent(ctx, db, event, actor); err != nil {
		return 0, err
	}
	if event.Status != EventStatusCompleted {
		return 0, errEventNotCompleted
	}

	rows, err := db.QueryContext(ctx, `
		SELECT user_id
		FROM event_participants
		WHERE event_id = $1 AND attended = TRUE
	`, eventID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	attendees := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return 0, err
		}
		attendees = append(attendees, userID)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	credited := 0
	now := time.Now().UTC()
	for _, userID := range attendees {
		if _, err := ledger.CreditEventPoints(ctx, eventID, userID, EventReasonCompletion, now); err != nil {
			if errors.Is(err, errAlreadyCredited) {
				continue
			}
			return credited, err
		}
		credited++
	}
	return credited, nil
}

func canManageEvent(ctx context.Context, db *sql.DB, event *Event, actor *User) error {
	if actor.Role == "admin" || event.CreatedBy == actor.UserID {
		return nil
	}
	if event.OrgID != "" {
		member, err := isOrgMember(ctx, db, event.OrgID, actor.UserID)
		if err != nil {
			return err
		}
		if member {
			return nil
		}
	}
	return errForbidden
}

// refreshEventStatuses syncs the cached status column with the timestamps.
// Run by the cron sweep; reads already derive the status themselves.
func refreshEventStatuses(db *sql.DB) error {
	now := time.Now().UTC()
	_, err := db.Exec(`
		UPDATE events
		SET status = CASE
			WHEN starts_at > $1 THEN 'upcoming'
			WHEN ends_at > $1 THEN 'ongoing'
			ELSE 'completed'
		END
		WHERE status <> CASE
			WHEN starts_at > $1 THEN 'upcoming'
			WHEN ends_at > $1 THEN 'ongoing'
			ELSE 'completed'
		END
	`, now)
	return err
}
