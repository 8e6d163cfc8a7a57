package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nish261/clipmaker/01_ingest"
	"github.com/nish261/clipmaker/02_analysis"
	"github.com/nish261/clipmaker/03_clips"
	"github.com/nish261/clipmaker/04_render"
	"github.com/nish261/clipmaker/05_publish"
	"github.com/nish261/clipmaker/config"
	"github.com/nish261/clipmaker/pipeline"
	"github.com/nish261/clipmaker/types"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	clipCount := flag.Int("clips", 0, "number of clips to produce (0 = config default)")
	configPath := flag.String("config", "config.yaml", "path to config file")
	doPublish := flag.Bool("publish", false, "upload finished clips to YouTube")
	flag.Parse()

	url := flag.Arg(0)
	if url == "" {
		fmt.Fprintln(os.Stderr, "usage: clipmaker [flags] <video-url>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// Load .env (local dev only — CI uses real env vars)
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	n := cfg.Pipeline.DefaultClipCount
	if *clipCount > 0 {
		n = *clipCount
	}

	// Create run ID and output dir for this run. Credentials are checked
	// before any directory is touched or any client built.
	runID := uuid.NewString()[:8]
	runDir := filepath.Join(cfg.Paths.Output, runID)

	pipe, err := newPipeline(cfg, config.LoadSecrets(), runDir, &progressPrinter{})
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	for _, dir := range []string{cfg.Paths.Temp, cfg.Paths.Output, cfg.Paths.Logs, runDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create dir %s: %v", dir, err)
		}
	}

	log.Printf("🎬 ClipMaker starting — Run ID: %s", runID)
	log.Printf("📁 Output dir: %s", runDir)
	log.Printf("🔗 Source: %s (%d clips)", url, n)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := &types.RunState{
		RunID:     runID,
		URL:       url,
		ClipCount: n,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}

	// Save state on exit
	defer func() {
		state.CompletedAt = time.Now().UTC().Format(time.RFC3339)
		saveState(state, runDir)
		if state.Error != "" {
			log.Printf("❌ Pipeline failed: %s", state.Error)
			os.Exit(1)
		}
		log.Printf("✅ Pipeline complete! %d clip(s) in %s", len(state.Results), runDir)
	}()

	records, err := pipe.Run(ctx, url, n)
	state.Results = records
	if err != nil {
		state.Error = fmt.Sprintf("Pipeline: %v", err)
		return
	}
	saveJSON(filepath.Join(runDir, "results.json"), records)

	for _, rec := range records {
		log.Printf("   🎞  %s [%s → %s] score %d/10", rec.Path, rec.Start, rec.End, rec.ViralityScore)
	}

	// ─────────────────────────────────────────────
	// Publish (optional)
	// ─────────────────────────────────────────────
	if *doPublish || cfg.Upload.Enabled {
		log.Println("\n━━━ STAGE 5: YouTube Upload ━━━")
		uploader := publish.New(cfg)
		for i, rec := range records {
			videoID, videoURL, err := uploader.Run(ctx, rec)
			if err != nil {
				state.Error = fmt.Sprintf("Stage 5 Publish clip %d: %v", i+1, err)
				return
			}
			_ = publish.LogUpload(videoID, videoURL, rec, cfg.Paths.Logs)
		}
	}
}

// newPipeline wires the four stage clients behind the credential gate: a
// missing credential fails here, before any client exists to make a call.
func newPipeline(cfg *config.Config, secrets config.Secrets, runDir string, obs pipeline.Observer) (*pipeline.Pipeline, error) {
	if err := secrets.Validate(); err != nil {
		return nil, err
	}
	return pipeline.New(
		ingest.New(cfg),
		analysis.New(cfg, secrets.GeminiAPIKey),
		clips.New(cfg),
		render.New(cfg, secrets.CanvaAccessToken, secrets.CanvaTemplateID, runDir),
		pipeline.Options{
			Observer:        obs,
			ContinueOnError: cfg.Pipeline.ContinueOnError,
		},
	), nil
}

// Stage banners keyed by the pipeline's stage names.
var stageBanners = map[string]string{
	"ingest":   "STAGE 1: Download",
	"analysis": "STAGE 2: Viral Analysis",
	"clips":    "STAGE 3: Clip Cutting",
	"render":   "STAGE 4: Template Render",
}

// progressPrinter renders pipeline callbacks as log lines. Each stage gets a
// banner the first time it starts.
type progressPrinter struct {
	seen        map[string]bool
	lastPercent int
}

func (p *progressPrinter) OnStageStart(stage, message string) {
	if p.seen == nil {
		p.seen = make(map[string]bool)
	}
	if !p.seen[stage] {
		p.seen[stage] = true
		if banner, ok := stageBanners[stage]; ok {
			log.Printf("\n━━━ %s ━━━", banner)
		}
	}
	log.Printf("[pipeline] %s", message)
}

func (p *progressPrinter) OnProgress(percent int) {
	if percent == p.lastPercent {
		return
	}
	p.lastPercent = percent
	log.Printf("[pipeline] Progress: %d%%", percent)
}

func (p *progressPrinter) OnClipDone(index, total int, record types.ResultRecord) {
	log.Printf("[pipeline] ✅ Clip %d/%d done: %s (score %d/10)", index, total, record.Path, record.ViralityScore)
}

func (p *progressPrinter) OnClipError(index, total int, err error) {
	log.Printf("[pipeline] ⚠️  Clip %d/%d failed: %v", index, total, err)
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func saveState(state *types.RunState, dir string) {
	saveJSON(filepath.Join(dir, "pipeline_state.json"), state)
}

func saveJSON(path string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("Warning: could not marshal JSON for %s: %v", path, err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Printf("Warning: could not save %s: %v", path, err)
	}
}
