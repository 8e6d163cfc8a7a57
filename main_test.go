package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nish261/clipmaker/config"
)

func TestNewPipelineRejectsMissingCredentials(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "must not be reached", http.StatusTeapot)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Analysis.BaseURL = srv.URL
	cfg.Render.BaseURL = srv.URL

	_, err := newPipeline(cfg, config.Secrets{GeminiAPIKey: "g"}, t.TempDir(), nil)

	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if len(cfgErr.Missing) != 2 {
		t.Errorf("Missing = %v, want the two unset Canva credentials", cfgErr.Missing)
	}
	if calls != 0 {
		t.Errorf("backend received %d calls before the credential check", calls)
	}
}

func TestNewPipelineWiresWithFullCredentials(t *testing.T) {
	secrets := config.Secrets{GeminiAPIKey: "g", CanvaAccessToken: "c", CanvaTemplateID: "t"}
	pipe, err := newPipeline(config.Default(), secrets, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("newPipeline: %v", err)
	}
	if pipe == nil {
		t.Fatal("newPipeline returned nil pipeline")
	}
}
