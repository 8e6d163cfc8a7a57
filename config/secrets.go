package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys for the three required credentials.
const (
	EnvGeminiAPIKey     = "GEMINI_API_KEY"
	EnvCanvaAccessToken = "CANVA_ACCESS_TOKEN"
	EnvCanvaTemplateID  = "CANVA_BRAND_TEMPLATE_ID"
)

// Secrets holds the credentials read from the environment (.env or real env).
type Secrets struct {
	GeminiAPIKey     string
	CanvaAccessToken string
	CanvaTemplateID  string
}

// ConfigError reports missing or invalid credentials. It is raised before
// any network client is constructed.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required credentials: %s — check your .env file", strings.Join(e.Missing, ", "))
}

// LoadSecrets reads the credentials from the process environment. Call
// godotenv.Load first so a local .env file is honored.
func LoadSecrets() Secrets {
	return Secrets{
		GeminiAPIKey:     os.Getenv(EnvGeminiAPIKey),
		CanvaAccessToken: os.Getenv(EnvCanvaAccessToken),
		CanvaTemplateID:  os.Getenv(EnvCanvaTemplateID),
	}
}

// Validate returns a *ConfigError naming every unset credential.
func (s Secrets) Validate() error {
	var missing []string
	if s.GeminiAPIKey == "" {
		missing = append(missing, EnvGeminiAPIKey)
	}
	if s.CanvaAccessToken == "" {
		missing = append(missing, EnvCanvaAccessToken)
	}
	if s.CanvaTemplateID == "" {
		missing = append(missing, EnvCanvaTemplateID)
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// SaveSecrets rewrites the .env file with the given credentials, preserving
// nothing else — it is the settings-form save path, not a general env editor.
func SaveSecrets(path string, s Secrets) error {
	return godotenv.Write(map[string]string{
		EnvGeminiAPIKey:     s.GeminiAPIKey,
		EnvCanvaAccessToken: s.CanvaAccessToken,
		EnvCanvaTemplateID:  s.CanvaTemplateID,
	}, path)
}
