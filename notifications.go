package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	NotificationCategoryStreak   = "streak"
	NotificationCategoryStore    = "store"
	NotificationCategoryPost     = "post"
	NotificationCategorySystem   = "system"
	notificationRetentionDefault = 48 * time.Hour
)

// Streak lengths that earn a congratulation. Anything else is noise.
var streakMilestones = map[int64]bool{
	3: true, 7: true, 14: true, 30: true, 60: true, 100: true, 365: true,
}

type NotificationItem struct {
	ID        int64      `json:"id"`
	Category  string     `json:"category"`
	Message   string     `json:"message"`
	Level     string     `json:"level"`
	Link      string     `json:"link,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsRead    bool       `json:"isRead"`
}

type notifier struct {
	db *sql.DB
}

func newNotifier(db *sql.DB) *notifier {
	return &notifier{db: db}
}

// emit inserts asynchronously. Notifications are best-effort and never
// block or fail the request that triggered them.
func (n *notifier) emit(userID string, category string, level string, message string) {
	go func() {
		expires := time.Now().UTC().Add(notificationRetentionDefault)
		_, err := n.db.Exec(`
			INSERT INTO notifications (user_id, target_role, category, message, level, created_at, expires_at)
			VALUES ($1, 'user', $2, $3, $4, NOW(), $5)
		`, nullableString(userID), category, message, level, expires)
		if err != nil {
			log.Warn().Err(err).Str("category", category).Msg("notification emit failed")
		}
	}()
}

func (n *notifier) streakMilestone(userID string, streak int64) {
	if !streakMilestones[streak] {
		return
	}
	n.emit(userID, NotificationCategoryStreak, "info",
		fmt.Sprintf("%d day streak! Keep it going.", streak))
}

func (n *notifier) purchase(userID string, productID string, pointsSpent int64) {
	n.emit(userID, NotificationCategoryStore, "info",
		fmt.Sprintf("Purchase confirmed: %d points spent.", pointsSpent))
}

func (n *notifier) appreciation(authorID string, fromUsername string, points int) {
	n.emit(authorID, NotificationCategoryPost, "info",
		fmt.Sprintf("%s appreciated your post with %d points.", fromUsername, points))
}

func (n *notifier) broadcast(message string) {
	n.emit("", NotificationCategorySystem, "info", message)
}

func fetchNotifications(db *sql.DB, userID string, limit int) ([]NotificationItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 60
	}

	rows, err := db.Query(`
		SELECT n.id, COALESCE(n.category, 'system'), n.message, n.level,
			COALESCE(n.link, ''), n.created_at, n.expires_at,
			(r.notification_id IS NOT NULL) AS is_read
		FROM notifications n
		LEFT JOIN notification_reads r
			ON r.notification_id = n.id AND r.user_id = $1
		WHERE (n.expires_at IS NULL OR n.expires_at > NOW())
			AND (n.user_id IS NULL OR n.user_id = $1)
		ORDER BY n.id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []NotificationItem{}
	for rows.Next() {
		var item NotificationItem
		var expires sql.NullTime
		if err := rows.Scan(&item.ID, &item.Category, &item.Message, &item.Level,
			&item.Link, &item.CreatedAt, &expires, &item.IsRead); err != nil {
			return nil, err
		}
		if expires.Valid {
			item.ExpiresAt = &expires.Time
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func markNotificationsRead(db *sql.DB, userID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := []interface{}{userID}
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("($%d, $1, NOW())", i+2)
		args = append(args, id)
	}
	query := `
		INSERT INTO notification_reads (notification_id, user_id, read_at)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT (notification_id, user_id) DO NOTHING
	`
	_, err := db.Exec(query, args...)
	return err
}

func listNotificationsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		items, err := fetchNotifications(db, user.UserID, queryInt(r, "limit", 60))
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": items})
	}
}

func readNotificationsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		var req struct {
			IDs []int64 `json:"ids"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		if err := markNotificationsRead(db, user.UserID, req.IDs); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

// sweepStreakRisk warns users whose streak survives only if they complete a
// habit before the new day ends. Runs once per day right after the UTC
// rollover.
func sweepStreakRisk(db *sql.DB) {
	expires := time.Now().UTC().Add(notificationRetentionDefault)
	result, err := db.Exec(`
		INSERT INTO notifications (user_id, target_role, category, message, level, created_at, expires_at)
		SELECT b.user_id, 'user', 'streak',
			'Your ' || b.current_streak || '-day streak is on the line. Complete a habit today to keep it.',
			'warning', NOW(), $1
		FROM user_balances b
		JOIN users u ON u.user_id = b.user_id
		WHERE u.active = TRUE
			AND b.current_streak > 0
			AND b.last_streak_date = CURRENT_DATE - 1
	`, expires)
	if err != nil {
		log.Warn().Err(err).Msg("streak risk sweep failed")
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Info().Int64("notified", n).Msg("streak risk sweep")
	}
}

func pruneNotifications(db *sql.DB) {
	if _, err := db.Exec(`
		DELETE FROM notifications
		WHERE expires_at IS NOT NULL AND expires_at < NOW()
	`); err != nil {
		log.Warn().Err(err).Msg("notification prune failed")
	}
	_, _ = db.Exec(`DELETE FROM notification_reads WHERE notification_id NOT IN (SELECT id FROM notifications)`)
}
