package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DotEnvFiles are read from the working directory, first match wins per key.
// Variables already present in the process environment are never replaced.
var DotEnvFiles = []string{".env.local", ".env"}

// LoadDotEnv loads DotEnvFiles into the process environment. Missing files
// are skipped.
func LoadDotEnv() error {
	for _, name := range DotEnvFiles {
		if _, err := os.Stat(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", name, err)
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}
