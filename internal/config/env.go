package config

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
)

// loadEnvFile loads the first of .env/.env.local that exists.
// Existing process environment variables are not overwritten.
func loadEnvFile() error {
	for _, envPath := range []string{".env", ".env.local"} {
		if err := godotenv.Load(envPath); err == nil {
			slog.Debug("Loaded environment variables", "path", envPath)
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}
