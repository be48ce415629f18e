package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

type TelemetryEventRequest struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

type FeedbackRequest struct {
	Rating  int             `json:"rating,omitempty"`
	Message string          `json:"message"`
	Context json.RawMessage `json:"context,omitempty"`
}

func telemetryHandler(db *sql.DB, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TelemetryEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.EventType == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// The route is public; attribute the row when a valid token is
		// presented, stay anonymous otherwise.
		userID := ""
		if user, err := requestUser(db, cfg, r); err == nil && user != nil {
			userID = user.UserID
		}

		_, _ = db.Exec(`
			INSERT INTO activity_log (user_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, NOW())
		`, nullableString(userID), req.EventType, req.Payload)

		w.WriteHeader(http.StatusNoContent)
	}
}

func feedbackHandler(db *sql.DB, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Message == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		userID := ""
		if user, err := requestUser(db, cfg, r); err == nil && user != nil {
			userID = user.UserID
		}

		_, _ = db.Exec(`
			INSERT INTO user_feedback (user_id, rating, message, context, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, nullableString(userID), req.Rating, req.Message, req.Context, time.Now().UTC())

		w.WriteHeader(http.StatusNoContent)
	}
}
