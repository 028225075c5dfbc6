package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string

	TOTPIssuer string

	SessionTTL   time.Duration
	ChallengeTTL time.Duration

	LoginMaxAttempts  int
	LoginWindow       time.Duration
	TwoFactorMax      int
	TwoFactorWindow   time.Duration
	DownloadMax       int
	DownloadWindow    time.Duration
	PasswordMinLength int
	SweepInterval     time.Duration
}

func Load() Config {
	port := os.Getenv("AUTH_PORT")
	if port == "" {
		port = "8081"
	}

	issuer := os.Getenv("TOTP_ISSUER")
	if issuer == "" {
		issuer = "Lodge Portal"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),

		TOTPIssuer: issuer,

		SessionTTL:   time.Duration(readInt("SESSION_TTL_HOURS", 168)) * time.Hour,
		ChallengeTTL: time.Duration(readInt("CHALLENGE_TTL_MINUTES", 5)) * time.Minute,

		LoginMaxAttempts:  readInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindow:       time.Duration(readInt("LOGIN_WINDOW_MINUTES", 15)) * time.Minute,
		TwoFactorMax:      readInt("TWOFA_MAX_ATTEMPTS", 5),
		TwoFactorWindow:   time.Duration(readInt("TWOFA_WINDOW_MINUTES", 15)) * time.Minute,
		DownloadMax:       readInt("DOWNLOAD_MAX_REQUESTS", 10),
		DownloadWindow:    time.Duration(readInt("DOWNLOAD_WINDOW_MINUTES", 60)) * time.Minute,
		PasswordMinLength: readInt("PASSWORD_MIN_LENGTH", 14),
		SweepInterval:     time.Duration(readInt("SESSION_SWEEP_MINUTES", 60)) * time.Minute,
	}
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
