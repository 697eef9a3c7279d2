package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Env is the process configuration, loaded from the environment with an
// optional .env file on top.
type Env struct {
	DBPath      string
	SecureKey   string
	HeadersFile string
	LogLevel    string
}

func LoadEnv() Env {
	// Missing .env is fine; plain environment variables still apply.
	godotenv.Load()

	return Env{
		DBPath:      getenv("DF_DB_PATH", "accounts.sqlite3"),
		SecureKey:   os.Getenv("DF_SECURE_KEY"),
		HeadersFile: getenv("DF_HEADERS_FILE", "headers.json"),
		LogLevel:    getenv("DF_LOG_LEVEL", "info"),
	}
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// Headers are the anti-bot identity values harvested by the browser
// helper. They fill in whatever the account record leaves blank.
type Headers struct {
	ClientIntegrity string `json:"Client-Integrity"`
	ClientVersion   string `json:"Client-Version"`
	DeviceID        string `json:"X-Device-Id"`
}

// LoadHeaders reads the headers file. A missing file is not an error:
// accounts may carry their own header overrides.
func LoadHeaders(path string) (Headers, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Headers{}, nil
	}
	if err != nil {
		return Headers{}, fmt.Errorf("reading headers file: %w", err)
	}

	var headers Headers
	if err := json.Unmarshal(data, &headers); err != nil {
		return Headers{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return headers, nil
}
