package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

/* ====== response envelope ====== */

func writeJSON(w http.ResponseWriter, status int, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if _, set := payload["ok"]; !set {
		payload["ok"] = true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":    false,
		"error": code,
	})
}

// Sentinel errors carry their wire code as the message, so the envelope
// code is err.Error() and only the status needs mapping.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errInvalidCredentials), errors.Is(err, errInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, errAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errAlreadyCompletedToday),
		errors.Is(err, errInsufficientStock),
		errors.Is(err, errInsufficientPoints),
		errors.Is(err, errAlreadyCredited),
		errors.Is(err, errAlreadyRegistered),
		errors.Is(err, errCheckinCooldown),
		errors.Is(err, errUsernameTaken),
		errors.Is(err, errOrgNameTaken),
		errors.Is(err, errCommunityNameTaken):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	if isInternalErr(err) {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	writeError(w, statusForError(err), err.Error())
}

// respondLedgerError is respondError plus the failure counter for
// balance-mutating operations.
func respondLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	if !isInternalErr(err) {
		ledgerFailuresTotal.WithLabelValues(err.Error()).Inc()
	}
	respondError(w, r, err)
}

var domainErrors = []error{
	errNotFound, errForbidden, errAlreadyCompletedToday,
	errInsufficientStock, errInsufficientPoints, errAlreadyCredited,
	errInvalidPoints, errInvalidQuantity, errInvalidReason,
	errCheckinCooldown, errInvalidCredentials, errInvalidToken,
	errAccountDisabled, errUsernameTaken, errInvalidUsername,
	errInvalidPassword, errInvalidDisplayName, errInvalidHabitPoints,
	errInvalidTitle, errHabitLimitReached, errInvalidEventWindow,
	errEventNotCompleted, errEventEnded, errEventNotStarted,
	errNotRegistered, errAlreadyRegistered, errOrgNameTaken, errInvalidOrgName,
	errInvalidProduct, errCommunityNameTaken, errInvalidCommunity,
	errInvalidPost, errNotMember, errPostLimitReached, errRateLimited,
}

func isInternalErr(err error) bool {
	for _, sentinel := range domainErrors {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return false
	}
	return true
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE")
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

/* ====== auth ====== */

type signupRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func signupHandler(db *sql.DB, cfg Config, ledger *RewardLedger, limiter *rateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !GetGlobalSettings().SignupsEnabled {
			writeError(w, http.StatusForbidden, "SIGNUPS_DISABLED")
			return
		}
		if err := limiter.check(r.Context(), getClientIP(r), "signup"); err != nil {
			respondError(w, r, err)
			return
		}

		var req signupRequest
		if !decodeBody(w, r, &req) {
			return
		}

		user, err := createUser(r.Context(), db, ledger, req.Username, req.Password, req.Email, req.DisplayName)
		if err != nil {
			respondError(w, r, err)
			return
		}

		log.Info().Str("userId", user.UserID).Str("username", user.Username).Msg("user registered")
		issueSession(w, db, cfg, user, r)
	}
}

func loginHandler(db *sql.DB, cfg Config, limiter *rateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := limiter.check(r.Context(), getClientIP(r), "login"); err != nil {
			respondError(w, r, err)
			return
		}

		var req loginRequest
		if !decodeBody(w, r, &req) {
			return
		}

		user, err := authenticateUser(r.Context(), db, req.Username, req.Password)
		if err != nil {
			respondError(w, r, err)
			return
		}

		issueSession(w, db, cfg, user, r)
	}
}

func issueSession(w http.ResponseWriter, db *sql.DB, cfg Config, user *User, r *http.Request) {
	now := time.Now().UTC()
	access, expiresAt, err := issueAccessToken(cfg, user, now)
	if err != nil {
		respondError(w, r, err)
		return
	}
	refresh, _, err := createRefreshToken(db, user.UserID, cfg.RefreshTTL, r.UserAgent(), getClientIP(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":       user.UserID,
		"username":     user.Username,
		"role":         user.Role,
		"accessToken":  access,
		"refreshToken": refresh,
		"expiresAt":    expiresAt,
	})
}

func refreshHandler(db *sql.DB, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		userID, err := consumeRefreshToken(db, req.RefreshToken)
		if err != nil {
			respondError(w, r, err)
			return
		}
		user, err := loadUser(db, userID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if !user.Active {
			respondError(w, r, errAccountDisabled)
			return
		}

		issueSession(w, db, cfg, user, r)
	}
}

func logoutHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		revokeUserRefreshTokens(db, user.UserID)
		writeJSON(w, http.StatusOK, nil)
	}
}

/* ====== profile + balance ====== */

func meHandler(db *sql.DB, ledger *RewardLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		balance, err := ledger.GetBalance(r.Context(), user.UserID)
		if err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"userId":        user.UserID,
			"username":      user.Username,
			"displayName":   user.DisplayName,
			"role":          user.Role,
			"totalPoints":   balance.TotalPoints,
			"currentStreak": balance.CurrentStreak,
			"longestStreak": balance.LongestStreak,
		})
	}
}

func updateProfileHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		var req struct {
			DisplayName string `json:"displayName"`
			Email       string `json:"email"`
			Bio         string `json:"bio"`
			AvatarURL   string `json:"avatarUrl"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		if err := updateUserProfile(r.Context(), db, user.UserID, req.DisplayName, req.Email, req.Bio, req.AvatarURL); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func deactivateHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if err := deactivateUser(r.Context(), db, user.UserID); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func balanceHandler(ledger *RewardLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		balance, err := ledger.GetBalance(r.Context(), user.UserID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"totalPoints":   balance.TotalPoints,
			"currentStreak": balance.CurrentStreak,
			"longestStreak": balance.LongestStreak,
		})
	}
}

func ledgerHistoryHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		limit := clampLimit(queryInt(r, "limit", 50), 50, 200)

		rows, err := db.QueryContext(r.Context(), `
			SELECT source_type, COALESCE(reference_id, ''), amount, points_before, points_after, created_at
			FROM points_ledger_log
			WHERE user_id = $1
			ORDER BY id DESC
			LIMIT $2
		`, user.UserID, limit)
		if err != nil {
			respondError(w, r, err)
			return
		}
		defer rows.Close()

		type entry struct {
			SourceType   string    `json:"sourceType"`
			ReferenceID  string    `json:"referenceId,omitempty"`
			Amount       int64     `json:"amount"`
			PointsBefore int64     `json:"pointsBefore"`
			PointsAfter  int64     `json:"pointsAfter"`
			CreatedAt    time.Time `json:"createdAt"`
		}
		entries := []entry{}
		for rows.Next() {
			var e entry
			if err := rows.Scan(&e.SourceType, &e.ReferenceID, &e.Amount, &e.PointsBefore, &e.PointsAfter, &e.CreatedAt); err != nil {
				respondError(w, r, err)
				return
			}
			entries = append(entries, e)
		}
		if err := rows.Err(); err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
	}
}

/* ====== habits ====== */

type habitRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Points      int    `json:"points"`
}

func createHabitHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		var req habitRequest
		if !decodeBody(w, r, &req) {
			return
		}

		habit, err := createHabit(r.Context(), db, user.UserID, req.Title, req.Description, req.Category, req.Points)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"habit": habit})
	}
}

func listHabitsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		habits, err := listHabits(r.Context(), db, user.UserID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"habits": habits})
	}
}

func updateHabitHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		var req habitRequest
		if !decodeBody(w, r, &req) {
			return
		}

		err := updateHabit(r.Context(), db, chi.URLParam(r, "habitID"), user.UserID, req.Title, req.Description, req.Category, req.Points)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func deleteHabitHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if err := deleteHabit(r.Context(), db, chi.URLParam(r, "habitID"), user.UserID); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func completeHabitHandler(db *sql.DB, ledger *RewardLedger, notifier *notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		result, err := ledger.CompleteHabit(r.Context(), chi.URLParam(r, "habitID"), user.UserID, time.Now().UTC())
		if err != nil {
			respondLedgerError(w, r, err)
			return
		}

		notifier.streakMilestone(user.UserID, result.CurrentStreak)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"pointsEarned":     result.PointsAwarded,
			"habitStreak":      result.HabitStreak,
			"totalCompletions": result.TotalCompletions,
			"currentStreak":    result.CurrentStreak,
			"longestStreak":    result.LongestStreak,
			"totalPoints":      result.TotalPoints,
		})
	}
}

/* ====== events ====== */

func createEventHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		var req struct {
			OrgID       string    `json:"orgId"`
			Title       string    `json:"title"`
			Description string    `json:"description"`
			Location    string    `json:"location"`
			StartsAt    time.Time `json:"startsAt"`
			EndsAt      time.Time `json:"endsAt"`
			Points      int       `json:"points"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		event, err := createEvent(r.Context(), db, user, req.OrgID, req.Title, req.Description, req.Location, req.StartsAt, req.EndsAt, req.Points)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"event": event})
	}
}

func listEventsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := listEvents(r.Context(), db, r.URL.Query().Get("status"), queryInt(r, "limit", 50))
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
	}
}

func getEventHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := getEvent(r.Context(), db, chi.URLParam(r, "eventID"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"event": event})
	}
}

func registerEventHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if err := registerForEvent(r.Context(), db, chi.URLParam(r, "eventID"), user.UserID); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func attendEventHandler(db *sql.DB, ledger *RewardLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := userFromContext(r.Context())

		var req struct {
			UserID string `json:"userId"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		result, err := markAttendance(r.Context(), db, ledger, chi.URLParam(r, "eventID"), actor, req.UserID)
		if err != nil {
			respondLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"pointsEarned": result.PointsAwarded,
			"totalPoints":  result.TotalPoints,
		})
	}
}

func settleEventHandler(db *sql.DB, ledger *RewardLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := userFromContext(r.Context())
		credited, err := settleEventCompletion(r.Context(), db, ledger, chi.URLParam(r, "eventID"), actor)
		if err != nil {
			respondLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"credited": credited})
	}
}

/* ====== organizations + store ====== */

func createOrgHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		org, err := createOrganization(r.Context(), db, user, req.Name, req.Description)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"organization": org})
	}
}

func listOrgsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgs, err := listOrganizations(r.Context(), db)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"organizations": orgs})
	}
}

func addOrgMemberHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := userFromContext(r.Context())

		var req struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		if err := addOrgMember(r.Context(), db, actor, chi.URLParam(r, "orgID"), req.UserID, req.Role); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func createProductHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := userFromContext(r.Context())

		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			PointsCost  int    `json:"pointsCost"`
			Stock       int    `json:"stock"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		product, err := createProduct(r.Context(), db, actor, chi.URLParam(r, "orgID"), req.Name, req.Description, req.PointsCost, req.Stock)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"product": product})
	}
}

func updateProductHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := userFromContext(r.Context())

		var req struct {
			PointsCost int  `json:"pointsCost"`
			Stock      int  `json:"stock"`
			Active     bool `json:"active"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		product, err := updateProduct(r.Context(), db, actor, chi.URLParam(r, "productID"), req.PointsCost, req.Stock, req.Active)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"product": product})
	}
}

func listProductsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		products, err := listProducts(r.Context(), db, r.URL.Query().Get("orgId"), false)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"products": products})
	}
}

func purchaseHandler(db *sql.DB, ledger *RewardLedger, notifier *notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !GetGlobalSettings().StorePurchasesEnabled {
			writeError(w, http.StatusForbidden, "PURCHASES_DISABLED")
			return
		}
		user := userFromContext(r.Context())

		var req struct {
			Quantity int `json:"quantity"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Quantity == 0 {
			req.Quantity = 1
		}

		result, err := ledger.PurchaseProduct(r.Context(), chi.URLParam(r, "productID"), user.UserID, req.Quantity, time.Now().UTC())
		if err != nil {
			respondLedgerError(w, r, err)
			return
		}

		notifier.purchase(user.UserID, result.ProductID, result.PointsSpent)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"pointsSpent":    result.PointsSpent,
			"totalPoints":    result.TotalPoints,
			"remainingStock": result.Stock,
		})
	}
}

/* ====== communities + posts ====== */

func createCommunityHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		community, err := createCommunity(r.Context(), db, user, req.Name, req.Description)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"community": community})
	}
}

func listCommunitiesHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		communities, err := listCommunities(r.Context(), db)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"communities": communities})
	}
}

func joinCommunityHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if err := joinCommunity(r.Context(), db, chi.URLParam(r, "communityID"), user.UserID); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func leaveCommunityHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if err := leaveCommunity(r.Context(), db, chi.URLParam(r, "communityID"), user.UserID); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	}
}

func createPostHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		var req struct {
			Content string `json:"content"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		post, err := createPost(r.Context(), db, user, chi.URLParam(r, "communityID"), req.Content)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"post": post})
	}
}

func listPostsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		posts, err := listPosts(r.Context(), db, chi.URLParam(r, "communityID"), queryInt(r, "limit", 50))
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
	}
}

func appreciateHandler(db *sql.DB, ledger *RewardLedger, notifier *notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !GetGlobalSettings().AppreciationsEnabled {
			writeError(w, http.StatusForbidden, "APPRECIATIONS_DISABLED")
			return
		}
		user := userFromContext(r.Context())

		var req struct {
			Points  int    `json:"points"`
			Message string `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		postID := chi.URLParam(r, "postID")
		result, err := ledger.AppreciatePost(r.Context(), postID, user.UserID, req.Points, req.Message, time.Now().UTC())
		if err != nil {
			respondLedgerError(w, r, err)
			return
		}

		if post, err := getPost(r.Context(), db, postID); err == nil {
			notifier.appreciation(post.AuthorID, user.Username, req.Points)
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"postId":      postID,
			"totalPoints": result.TotalAppreciationPoints,
		})
	}
}

func listAppreciationsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appreciations, err := listAppreciations(r.Context(), db, chi.URLParam(r, "postID"), queryInt(r, "limit", 50))
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"appreciations": appreciations})
	}
}

/* ====== check-in ====== */

func checkinHandler(ledger *RewardLedger, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		result, remaining, err := ledger.CheckinDaily(r.Context(), user.UserID, cfg.CheckinReward, cfg.CheckinCooldown, time.Now().UTC())
		if errors.Is(err, errCheckinCooldown) {
			ledgerFailuresTotal.WithLabelValues(err.Error()).Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"ok":               false,
				"error":            err.Error(),
				"secondsRemaining": int64(remaining.Seconds()),
			})
			return
		}
		if err != nil {
			respondLedgerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"pointsEarned": result.Reward,
			"totalPoints":  result.TotalPoints,
			"claimCount":   result.ClaimCount,
		})
	}
}

/* ====== admin ====== */

func adminAdjustHandler(db *sql.DB, ledger *RewardLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin := userFromContext(r.Context())

		var req struct {
			UserID string `json:"userId"`
			Amount int64  `json:"amount"`
			Reason string `json:"reason"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		total, err := ledger.AdjustPoints(r.Context(), req.UserID, req.Amount, admin.UserID, time.Now().UTC())
		if err != nil {
			respondLedgerError(w, r, err)
			return
		}

		recordAdminAction(db, admin.UserID, "adjust_points", req.UserID, req.Reason)
		writeJSON(w, http.StatusOK, map[string]interface{}{"totalPoints": total})
	}
}

func adminSetRoleHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin := userFromContext(r.Context())

		var req struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		if err := setUserRole(r.Context(), db, req.UserID, req.Role); err != nil {
			respondError(w, r, err)
			return
		}

		recordAdminAction(db, admin.UserID, "set_role", req.UserID, req.Role)
		writeJSON(w, http.StatusOK, nil)
	}
}

func adminListUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		search := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := clampLimit(queryInt(r, "limit", 50), 50, 200)

		query := `
			SELECT u.user_id, u.username, COALESCE(u.email, ''), COALESCE(u.display_name, ''),
				u.role, u.active, u.created_at, b.total_points, b.current_streak
			FROM users u
			JOIN user_balances b ON b.user_id = u.user_id
		`
		args := []interface{}{}
		if search != "" {
			query += ` WHERE u.username ILIKE $1 OR u.display_name ILIKE $1 OR u.email ILIKE $1`
			args = append(args, "%"+search+"%")
			query += ` ORDER BY u.created_at DESC LIMIT $2`
		} else {
			query += ` ORDER BY u.created_at DESC LIMIT $1`
		}
		args = append(args, limit)

		rows, err := db.QueryContext(r.Context(), query, args...)
		if err != nil {
			respondError(w, r, err)
			return
		}
		defer rows.Close()

		users := []map[string]interface{}{}
		for rows.Next() {
			var (
				userID, username, email, displayName, role string
				active                                     bool
				createdAt                                  time.Time
				totalPoints, currentStreak                 int64
			)
			if err := rows.Scan(&userID, &username, &email, &displayName, &role, &active, &createdAt, &totalPoints, &currentStreak); err != nil {
				respondError(w, r, err)
				return
			}
			users = append(users, map[string]interface{}{
				"userId":        userID,
				"username":      username,
				"email":         email,
				"displayName":   displayName,
				"role":          role,
				"active":        active,
				"createdAt":     createdAt,
				"totalPoints":   totalPoints,
				"currentStreak": currentStreak,
			})
		}
		if err := rows.Err(); err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
	}
}

func adminAuditLogHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := clampLimit(queryInt(r, "limit", 100), 100, 500)

		rows, err := db.QueryContext(r.Context(), `
			SELECT a.id, a.admin_user_id, COALESCE(u.username, ''), a.action_type,
				a.scope_type, COALESCE(a.scope_id, ''), COALESCE(a.reason, ''), a.created_at
			FROM admin_audit_log a
			LEFT JOIN users u ON u.user_id = a.admin_user_id
			ORDER BY a.created_at DESC
			LIMIT $1
		`, limit)
		if err != nil {
			respondError(w, r, err)
			return
		}
		defer rows.Close()

		entries := []map[string]interface{}{}
		for rows.Next() {
			var (
				id                                                     int64
				adminID, adminName, action, scopeType, scopeID, reason string
				createdAt                                              time.Time
			)
			if err := rows.Scan(&id, &adminID, &adminName, &action, &scopeType, &scopeID, &reason, &createdAt); err != nil {
				respondError(w, r, err)
				return
			}
			entries = append(entries, map[string]interface{}{
				"id":         id,
				"adminId":    adminID,
				"adminName":  adminName,
				"actionType": action,
				"scopeType":  scopeType,
				"scopeId":    scopeID,
				"reason":     reason,
				"createdAt":  createdAt,
			})
		}
		if err := rows.Err(); err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
	}
}

func recordAdminAction(db *sql.DB, adminID string, action string, targetID string, reason string) {
	_, err := db.Exec(`
		INSERT INTO admin_audit_log (admin_user_id, action_type, scope_type, scope_id, reason, created_at)
		VALUES ($1, $2, 'user', $3, $4, NOW())
	`, adminID, action, nullableString(targetID), nullableString(reason))
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("failed to record admin action")
	}
}

/* ====== helpers ====== */

func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
