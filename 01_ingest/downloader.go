package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/nish261/clipmaker/config"
)

// rawVideoName is the well-known output filename inside the temp dir.
// Re-running the pipeline overwrites it.
const rawVideoName = "raw_video.mp4"

// DownloadError wraps any failure while fetching the source video. Stderr
// carries the first few KB of the backend's stderr for diagnosis.
type DownloadError struct {
	URL    string
	Stderr string
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("download %s: %v\nstderr: %s", e.URL, e.Err, e.Stderr)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Downloader fetches remote videos via yt-dlp
type Downloader struct {
	cfg *config.Config
}

// New creates a new Downloader
func New(cfg *config.Config) *Downloader {
	return &Downloader{cfg: cfg}
}

// Download fetches the video at url into <temp>/raw_video.mp4, capped at
// 1080p MP4 by the configured format selector. Single attempt, no retry —
// any failure surfaces as a *DownloadError.
func (d *Downloader) Download(ctx context.Context, url string) (string, error) {
	log.Printf("[ingest] Downloading video: %s", url)

	if err := os.MkdirAll(d.cfg.Paths.Temp, 0755); err != nil {
		return "", &DownloadError{URL: url, Err: fmt.Errorf("create temp dir: %w", err)}
	}
	outFile := filepath.Join(d.cfg.Paths.Temp, rawVideoName)

	bin, err := exec.LookPath(d.cfg.Ingest.Binary)
	if err != nil {
		return "", &DownloadError{URL: url, Err: fmt.Errorf("%s not found in PATH: %w", d.cfg.Ingest.Binary, err)}
	}

	stderr := &limitedBuffer{limit: 4096}
	cmd := exec.CommandContext(ctx, bin, downloadArgs(d.cfg.Ingest.Format, outFile, url)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = io.MultiWriter(os.Stderr, stderr)

	if err := cmd.Run(); err != nil {
		return "", &DownloadError{URL: url, Stderr: stderr.String(), Err: err}
	}

	if _, err := os.Stat(outFile); err != nil {
		return "", &DownloadError{URL: url, Stderr: stderr.String(), Err: fmt.Errorf("no output file produced: %w", err)}
	}

	log.Printf("[ingest] ✅ Video saved: %s", outFile)
	return outFile, nil
}

func downloadArgs(format, outFile, url string) []string {
	return []string{
		"-f", format,
		"-o", outFile,
		"--no-playlist",
		"--force-overwrites",
		url,
	}
}

// limitedBuffer keeps the first limit bytes written and discards the rest,
// so a chatty subprocess cannot bloat an error message.
type limitedBuffer struct {
	buf   []byte
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - len(b.buf); remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return string(b.buf) }
