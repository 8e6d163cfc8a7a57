package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Ingest   IngestConfig   `yaml:"ingest"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Clips    ClipsConfig    `yaml:"clips"`
	Render   RenderConfig   `yaml:"render"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Upload   UploadConfig   `yaml:"upload"`
	Paths    PathsConfig    `yaml:"paths"`
}

type IngestConfig struct {
	Binary string `yaml:"binary"`
	Format string `yaml:"format"`
}

type AnalysisConfig struct {
	BaseURL              string `yaml:"base_url"`
	Model                string `yaml:"model"`
	PollIntervalSec      int    `yaml:"poll_interval_sec"`
	ProcessingTimeoutSec int    `yaml:"processing_timeout_sec"`
}

type ClipsConfig struct {
	Preset       string `yaml:"preset"`
	CRF          int    `yaml:"crf"`
	AudioBitrate string `yaml:"audio_bitrate"`
}

type RenderConfig struct {
	BaseURL          string `yaml:"base_url"`
	ExportFormat     string `yaml:"export_format"`
	ExportQuality    string `yaml:"export_quality"`
	PollIntervalSec  int    `yaml:"poll_interval_sec"`
	MaxPollAttempts  int    `yaml:"max_poll_attempts"`
	VideoPlaceholder string `yaml:"video_placeholder"`
	TextPlaceholder  string `yaml:"text_placeholder"`
}

type PipelineConfig struct {
	DefaultClipCount int  `yaml:"default_clip_count"`
	ContinueOnError  bool `yaml:"continue_on_error"`
}

type UploadConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Visibility        string   `yaml:"visibility"`
	CategoryID        string   `yaml:"category_id"`
	MadeForKids       bool     `yaml:"made_for_kids"`
	NotifySubscribers bool     `yaml:"notify_subscribers"`
	DefaultLanguage   string   `yaml:"default_language"`
	Tags              []string `yaml:"tags"`
}

type PathsConfig struct {
	Temp   string `yaml:"temp"`
	Output string `yaml:"output"`
	Logs   string `yaml:"logs"`
}

// Default returns the built-in configuration used when config.yaml is
// absent or leaves fields unset.
func Default() *Config {
	return &Config{
		Ingest: IngestConfig{
			Binary: "yt-dlp",
			Format: "bestvideo[ext=mp4][height<=1080]+bestaudio[ext=m4a]/best[ext=mp4][height<=1080]",
		},
		Analysis: AnalysisConfig{
			BaseURL:              "https://generativelanguage.googleapis.com",
			Model:                "gemini-1.5-pro-latest",
			PollIntervalSec:      2,
			ProcessingTimeoutSec: 600,
		},
		Clips: ClipsConfig{
			Preset:       "fast",
			CRF:          23,
			AudioBitrate: "192k",
		},
		Render: RenderConfig{
			BaseURL:          "https://api.canva.com/rest/v1",
			ExportFormat:     "mp4",
			ExportQuality:    "1080p",
			PollIntervalSec:  3,
			MaxPollAttempts:  60,
			VideoPlaceholder: "video_placeholder_1",
			TextPlaceholder:  "text_placeholder_1",
		},
		Pipeline: PipelineConfig{
			DefaultClipCount: 3,
		},
		Upload: UploadConfig{
			Visibility:      "private",
			CategoryID:      "24",
			DefaultLanguage: "en",
			Tags:            []string{"shorts", "viral"},
		},
		Paths: PathsConfig{
			Temp:   "temp",
			Output: "output",
			Logs:   "logs",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error — the defaults are returned as-is so the CLI works out of the box.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PollInterval is the delay between analysis-backend processing checks.
func (a AnalysisConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalSec) * time.Second
}

// ProcessingTimeout bounds the total wait for the analysis backend to make
// an upload ready. Zero means wait forever.
func (a AnalysisConfig) ProcessingTimeout() time.Duration {
	return time.Duration(a.ProcessingTimeoutSec) * time.Second
}

// PollInterval is the delay between export job status checks.
func (r RenderConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSec) * time.Second
}
