package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

type liveBalanceSnapshot struct {
	TotalPoints   int64 `json:"totalPoints"`
	CurrentStreak int64 `json:"currentStreak"`
	LongestStreak int64 `json:"longestStreak"`
}

type liveSnapshot struct {
	ServerTime    string               `json:"serverTime"`
	Authenticated bool                 `json:"authenticated"`
	ActiveUsers   int64                `json:"activeUsers"`
	OngoingEvents int64                `json:"ongoingEvents"`
	TopUsers      []LeaderboardEntry   `json:"topUsers"`
	Balance       *liveBalanceSnapshot `json:"balance,omitempty"`
	Unread        int64                `json:"unreadNotifications,omitempty"`
}

func buildLiveSnapshot(db *sql.DB, ledger *RewardLedger, cfg Config, r *http.Request) liveSnapshot {
	now := time.Now().UTC()

	snapshot := liveSnapshot{
		ServerTime: now.Format(time.RFC3339),
	}

	_ = db.QueryRow(`
		SELECT COUNT(*) FROM users WHERE active = TRUE
	`).Scan(&snapshot.ActiveUsers)
	_ = db.QueryRow(`
		SELECT COUNT(*) FROM events WHERE starts_at <= $1 AND ends_at > $1
	`, now).Scan(&snapshot.OngoingEvents)

	if top, err := topLeaderboard(r.Context(), db, 5); err == nil {
		snapshot.TopUsers = top
	}

	if user, err := requestUser(db, cfg, r); err == nil && user != nil {
		snapshot.Authenticated = true
		if balance, err := ledger.GetBalance(r.Context(), user.UserID); err == nil {
			snapshot.Balance = &liveBalanceSnapshot{
				TotalPoints:   balance.TotalPoints,
				CurrentStreak: balance.CurrentStreak,
				LongestStreak: balance.LongestStreak,
			}
		}
		_ = db.QueryRow(`
			SELECT COUNT(*)
			FROM notifications n
			LEFT JOIN notification_reads r ON r.notification_id = n.id AND r.user_id = $1
			WHERE (n.expires_at IS NULL OR n.expires_at > NOW())
				AND (n.user_id IS NULL OR n.user_id = $1)
				AND r.notification_id IS NULL
		`, user.UserID).Scan(&snapshot.Unread)
	}

	return snapshot
}

func streamHandler(db *sql.DB, ledger *RewardLedger, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		sendSnapshot := func() bool {
			payload, err := json.Marshal(buildLiveSnapshot(db, ledger, cfg, r))
			if err != nil {
				return false
			}
			if _, err := w.Write([]byte("event: snapshot\n")); err != nil {
				return false
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return false
			}
			if _, err := w.Write(payload); err != nil {
				return false
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return false
			}
			flusher.Flush()
			return true
		}

		if !sendSnapshot() {
			return
		}

		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !sendSnapshot() {
					return
				}
			}
		}
	}
}
