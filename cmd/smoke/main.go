// Command smoke exercises a running server end to end: sign up, create a
// habit, complete it, check in, and read the balance back. Intended for
// staging checks after a deploy.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type authResponse struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	UserID      string `json:"userId,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

type habitResponse struct {
	OK    bool `json:"ok"`
	Habit struct {
		HabitID string `json:"habitId"`
	} `json:"habit"`
}

type completeResponse struct {
	OK            bool  `json:"ok"`
	PointsEarned  int   `json:"pointsEarned"`
	CurrentStreak int64 `json:"currentStreak"`
	TotalPoints   int64 `json:"totalPoints"`
}

type balanceResponse struct {
	OK            bool  `json:"ok"`
	TotalPoints   int64 `json:"totalPoints"`
	CurrentStreak int64 `json:"currentStreak"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	baseURL := strings.TrimSpace(os.Getenv("API_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	client := &http.Client{Timeout: 15 * time.Second}
	username := "smoke-" + uuid.New().String()[:8]
	password := uuid.New().String()

	var auth authResponse
	if err := post(client, baseURL+"/api/auth/signup", "", map[string]interface{}{
		"username":    username,
		"password":    password,
		"displayName": "Smoke Test",
	}, &auth); err != nil {
		log.Fatal().Err(err).Msg("signup failed")
	}
	if !auth.OK {
		log.Fatal().Str("error", auth.Error).Msg("signup rejected")
	}
	log.Info().Str("username", username).Msg("signed up")

	var habit habitResponse
	if err := post(client, baseURL+"/api/habits", auth.AccessToken, map[string]interface{}{
		"title":  "Smoke habit",
		"points": 10,
	}, &habit); err != nil {
		log.Fatal().Err(err).Msg("habit creation failed")
	}
	log.Info().Str("habitId", habit.Habit.HabitID).Msg("habit created")

	var completed completeResponse
	if err := post(client, baseURL+"/api/habits/"+habit.Habit.HabitID+"/complete", auth.AccessToken, nil, &completed); err != nil {
		log.Fatal().Err(err).Msg("habit completion failed")
	}
	if !completed.OK {
		log.Fatal().Msg("habit completion rejected")
	}
	log.Info().Int("pointsEarned", completed.PointsEarned).Int64("streak", completed.CurrentStreak).Msg("habit completed")

	// Second completion the same day must be rejected.
	var dup completeResponse
	if err := post(client, baseURL+"/api/habits/"+habit.Habit.HabitID+"/complete", auth.AccessToken, nil, &dup); err != nil {
		log.Fatal().Err(err).Msg("duplicate completion request failed")
	}
	if dup.OK {
		log.Fatal().Msg("duplicate completion was accepted; dedup is broken")
	}
	log.Info().Msg("duplicate completion rejected as expected")

	var checkin completeResponse
	if err := post(client, baseURL+"/api/me/checkin", auth.AccessToken, nil, &checkin); err != nil {
		log.Fatal().Err(err).Msg("checkin failed")
	}
	log.Info().Int("pointsEarned", checkin.PointsEarned).Msg("checked in")

	var balance balanceResponse
	if err := get(client, baseURL+"/api/me/balance", auth.AccessToken, &balance); err != nil {
		log.Fatal().Err(err).Msg("balance read failed")
	}
	expected := completed.TotalPoints + int64(checkin.PointsEarned)
	if balance.TotalPoints != expected {
		log.Fatal().Int64("got", balance.TotalPoints).Int64("want", expected).Msg("balance mismatch")
	}

	log.Info().Int64("totalPoints", balance.TotalPoints).Msg("smoke test passed")
	fmt.Println("OK")
}

func post(client *http.Client, url string, token string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func get(client *http.Client, url string, token string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
