package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type leaderboardFilters struct {
	Query    string
	Sort     string
	Page     int
	PageSize int
}

type LeaderboardEntry struct {
	Rank          int64     `json:"rank"`
	UserID        string    `json:"userId"`
	DisplayName   string    `json:"displayName"`
	TotalPoints   int64     `json:"totalPoints"`
	CurrentStreak int64     `json:"currentStreak"`
	LongestStreak int64     `json:"longestStreak"`
	MemberSince   time.Time `json:"memberSince"`
}

func leaderboardHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := parseLeaderboardFilters(r)
		orderBy := leaderboardOrderBy(filters.Sort)

		whereClauses := []string{"u.active = TRUE"}
		args := []interface{}{}
		argIndex := 1

		if filters.Query != "" {
			whereClauses = append(whereClauses, "(u.username ILIKE $"+strconv.Itoa(argIndex)+" OR u.display_name ILIKE $"+strconv.Itoa(argIndex)+")")
			args = append(args, "%"+filters.Query+"%")
			argIndex++
		}

		if min := GetGlobalSettings().LeaderboardMinActivity; min > 0 {
			whereClauses = append(whereClauses, "b.total_points >= $"+strconv.Itoa(argIndex))
			args = append(args, min)
			argIndex++
		}

		baseCTE := fmt.Sprintf(`
			WITH user_stats AS (
				SELECT
					u.user_id,
					COALESCE(u.display_name, u.username) AS display_name,
					b.total_points,
					b.current_streak,
					b.longest_streak,
					u.created_at
				FROM users u
				JOIN user_balances b ON b.user_id = u.user_id
				WHERE %s
			)
		`, strings.Join(whereClauses, " AND "))

		countQuery := baseCTE + "SELECT COUNT(*) FROM user_stats"
		var total int
		if err := db.QueryRow(countQuery, args...).Scan(&total); err != nil {
			respondError(w, r, err)
			return
		}

		offset := (filters.Page - 1) * filters.PageSize
		argsWithPage := append(args, filters.PageSize, offset)
		resultsQuery := fmt.Sprintf(`
			%s
			SELECT
				ROW_NUMBER() OVER (ORDER BY %s) AS rank,
				user_id,
				display_name,
				total_points,
				current_streak,
				longest_streak,
				created_at
			FROM user_stats
			ORDER BY %s
			LIMIT $%d OFFSET $%d
		`, baseCTE, orderBy, orderBy, len(args)+1, len(args)+2)

		rows, err := db.Query(resultsQuery, argsWithPage...)
		if err != nil {
			respondError(w, r, err)
			return
		}
		defer rows.Close()

		results := []LeaderboardEntry{}
		for rows.Next() {
			var entry LeaderboardEntry
			if err := rows.Scan(&entry.Rank, &entry.UserID, &entry.DisplayName,
				&entry.TotalPoints, &entry.CurrentStreak, &entry.LongestStreak, &entry.MemberSince); err != nil {
				respondError(w, r, err)
				return
			}
			results = append(results, entry)
		}
		if err := rows.Err(); err != nil {
			respondError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"page":     filters.Page,
			"pageSize": filters.PageSize,
			"total":    total,
			"results":  results,
		})
	}
}

func parseLeaderboardFilters(r *http.Request) leaderboardFilters {
	query := r.URL.Query()
	page := parsePositiveInt(query.Get("page"), 1)
	pageSize := parsePositiveInt(query.Get("pageSize"), 50)
	if pageSize > 200 {
		pageSize = 200
	}

	return leaderboardFilters{
		Query:    strings.TrimSpace(query.Get("q")),
		Sort:     strings.TrimSpace(query.Get("sort")),
		Page:     page,
		PageSize: pageSize,
	}
}

func leaderboardOrderBy(sortKey string) string {
	switch sortKey {
	case "current_streak":
		return "current_streak DESC, total_points DESC, created_at ASC, user_id ASC"
	case "longest_streak":
		return "longest_streak DESC, total_points DESC, created_at ASC, user_id ASC"
	case "total_points", "":
		fallthrough
	default:
		return "total_points DESC, longest_streak DESC, created_at ASC, user_id ASC"
	}
}

func parsePositiveInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

// topLeaderboard returns the highest-ranked active users, used by the live
// snapshot stream.
func topLeaderboard(ctx context.Context, db *sql.DB, limit int) ([]LeaderboardEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT u.user_id,
			COALESCE(u.display_name, u.username),
			b.total_points,
			b.current_streak,
			b.longest_streak,
			u.created_at
		FROM users u
		JOIN user_balances b ON b.user_id = u.user_id
		WHERE u.active = TRUE
		ORDER BY b.total_points DESC, b.longest_streak DESC, u.created_at ASC, u.user_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LeaderboardEntry{}
	rank := int64(0)
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.TotalPoints, &e.CurrentStreak, &e.LongestStreak, &e.MemberSince); err != nil {
			return nil, err
		}
		rank++
		e.Rank = rank
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
