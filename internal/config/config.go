package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port     int
	DBPath   string
	SaltPath string
	LogLevel string
	// Password unlocks the vault at startup when set. Leaving it empty
	// defers unlocking to the API.
	Password string
}

func Load() Config {
	dbPath := envStr("CHATVAULT_DB", "chatvault.db")
	return Config{
		Port:     envInt("CHATVAULT_PORT", 8460),
		DBPath:   dbPath,
		SaltPath: envStr("CHATVAULT_SALT", dbPath+".salt"),
		LogLevel: envStr("CHATVAULT_LOG_LEVEL", "info"),
		Password: envStr("CHATVAULT_PASSWORD", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
