package main

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Runtime tunables persisted in global_settings and cached in memory.
// Admin updates write through the cache.
type GlobalSettings struct {
	SignupsEnabled         bool
	AppreciationsEnabled   bool
	StorePurchasesEnabled  bool
	MaxHabitsPerUser       int
	MaxPostsPerDay         int
	MaintenanceMessage     string
	LeaderboardMinActivity int
}

var (
	settingsMu     sync.RWMutex
	cachedSettings = GlobalSettings{
		SignupsEnabled:        true,
		AppreciationsEnabled:  true,
		StorePurchasesEnabled: true,
		MaxHabitsPerUser:      50,
		MaxPostsPerDay:        20,
	}
)

func LoadGlobalSettings(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT key, value
		FROM global_settings
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	settingsMu.Lock()
	defer settingsMu.Unlock()

	for rows.Next() {
		var key string
		var value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		applySetting(&cachedSettings, key, value)
	}
	return rows.Err()
}

func GetGlobalSettings() GlobalSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return cachedSettings
}

func UpdateGlobalSettings(db *sql.DB, updates map[string]string) (GlobalSettings, error) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	for key, value := range updates {
		applySetting(&cachedSettings, key, value)
		_, err := db.Exec(`
			INSERT INTO global_settings (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, key, value)
		if err != nil {
			return cachedSettings, err
		}
	}
	return cachedSettings, nil
}

func applySetting(target *GlobalSettings, key string, value string) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "signups_enabled":
		if v, err := parseBool(value); err == nil {
			target.SignupsEnabled = v
		}
	case "appreciations_enabled":
		if v, err := parseBool(value); err == nil {
			target.AppreciationsEnabled = v
		}
	case "store_purchases_enabled":
		if v, err := parseBool(value); err == nil {
			target.StorePurchasesEnabled = v
		}
	case "max_habits_per_user":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.MaxHabitsPerUser = v
		}
	case "max_posts_per_day":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.MaxPostsPerDay = v
		}
	case "maintenance_message":
		target.MaintenanceMessage = strings.TrimSpace(value)
	case "leaderboard_min_activity":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			target.LeaderboardMinActivity = v
		}
	}
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, strconv.ErrSyntax
	}
}

func getSettingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings := GetGlobalSettings()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"signupsEnabled":        settings.SignupsEnabled,
			"appreciationsEnabled":  settings.AppreciationsEnabled,
			"storePurchasesEnabled": settings.StorePurchasesEnabled,
			"maxHabitsPerUser":      settings.MaxHabitsPerUser,
			"maxPostsPerDay":        settings.MaxPostsPerDay,
			"maintenanceMessage":    settings.MaintenanceMessage,
		})
	}
}

func updateSettingsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin := userFromContext(r.Context())

		var updates map[string]string
		if !decodeBody(w, r, &updates) {
			return
		}

		settings, err := UpdateGlobalSettings(db, updates)
		if err != nil {
			respondError(w, r, err)
			return
		}

		recordAdminAction(db, admin.UserID, "update_settings", "", "")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"signupsEnabled":        settings.SignupsEnabled,
			"appreciationsEnabled":  settings.AppreciationsEnabled,
			"storePurchasesEnabled": settings.StorePurchasesEnabled,
			"maxHabitsPerUser":      settings.MaxHabitsPerUser,
			"maxPostsPerDay":        settings.MaxPostsPerDay,
			"maintenanceMessage":    settings.MaintenanceMessage,
		})
	}
}
