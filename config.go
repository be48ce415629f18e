package main

import (
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	Env         string `env:"APP_ENV,default=local"`
	Port        string `env:"PORT,default=8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	JWTSecret      string        `env:"JWT_SECRET,required"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL,default=15m"`
	RefreshTTL     time.Duration `env:"REFRESH_TOKEN_TTL,default=720h"`

	AdminBootstrapPassword string `env:"ADMIN_BOOTSTRAP_PASSWORD,default="`

	CheckinReward   int           `env:"CHECKIN_REWARD,default=5"`
	CheckinCooldown time.Duration `env:"CHECKIN_COOLDOWN,default=20h"`

	SignupRateLimit         int `env:"SIGNUP_RATE_LIMIT,default=5"`
	SignupRateWindowSeconds int `env:"SIGNUP_RATE_WINDOW_SECONDS,default=600"`
	LoginRateLimit          int `env:"LOGIN_RATE_LIMIT,default=12"`
	LoginRateWindowSeconds  int `env:"LOGIN_RATE_WINDOW_SECONDS,default=600"`

	DevMode bool `env:"DEV_MODE,default=false"`
}

// LoadConfig reads .env when present, then decodes the environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
