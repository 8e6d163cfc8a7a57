package clips

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nish261/clipmaker/config"
)

// TimestampError reports a timestamp string that could not be converted to
// a seconds offset.
type TimestampError struct {
	Input  string
	Reason string
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("invalid timestamp %q: %s", e.Input, e.Reason)
}

// ClipCutError wraps a failed cut, carrying the requested window and the
// tail of ffmpeg's stderr.
type ClipCutError struct {
	Start  string
	End    string
	Stderr string
	Err    error
}

func (e *ClipCutError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("cut clip [%s → %s]: %v\nstderr: %s", e.Start, e.End, e.Err, e.Stderr)
	}
	return fmt.Sprintf("cut clip [%s → %s]: %v", e.Start, e.End, e.Err)
}

func (e *ClipCutError) Unwrap() error { return e.Err }

// ToSeconds converts "HH:MM:SS", "MM:SS" or bare seconds to a float seconds
// offset. Components may be fractional. Malformed input (empty, more than 3
// components, non-numeric or negative parts) fails with a *TimestampError.
func ToSeconds(ts string) (float64, error) {
	trimmed := strings.TrimSpace(ts)
	if trimmed == "" {
		return 0, &TimestampError{Input: ts, Reason: "empty timestamp"}
	}

	parts := strings.Split(trimmed, ":")
	if len(parts) > 3 {
		return 0, &TimestampError{Input: ts, Reason: fmt.Sprintf("%d components, want at most 3", len(parts))}
	}

	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, &TimestampError{Input: ts, Reason: fmt.Sprintf("non-numeric component %q", p)}
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, &TimestampError{Input: ts, Reason: fmt.Sprintf("component %q out of range", p)}
		}
		total = total*60 + v
	}
	return total, nil
}

// Processor cuts segments out of the source video with ffmpeg
type Processor struct {
	cfg *config.Config
}

// New creates a new Processor
func New(cfg *config.Config) *Processor {
	return &Processor{cfg: cfg}
}

// Slice re-encodes the half-open window [start, end) of src into
// <temp>/clip_{index}.mp4 and returns that path. Re-encoding rather than
// stream copy keeps the boundaries frame-accurate. A partial output file is
// removed on failure.
func (p *Processor) Slice(ctx context.Context, src, start, end string, index int) (string, error) {
	startSec, err := ToSeconds(start)
	if err != nil {
		return "", err
	}
	endSec, err := ToSeconds(end)
	if err != nil {
		return "", err
	}
	if endSec <= startSec {
		return "", &ClipCutError{Start: start, End: end, Err: fmt.Errorf("end %.3fs is not after start %.3fs", endSec, startSec)}
	}

	outFile := filepath.Join(p.cfg.Paths.Temp, fmt.Sprintf("clip_%d.mp4", index))
	log.Printf("[clips] Cutting clip %d: %s → %s (%.1fs)", index, start, end, endSec-startSec)

	stderr := &limitedBuffer{limit: 4096}
	cmd := exec.CommandContext(ctx, "ffmpeg", sliceArgs(src, startSec, endSec, p.cfg.Clips, outFile)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = io.MultiWriter(os.Stderr, stderr)

	if err := cmd.Run(); err != nil {
		os.Remove(outFile)
		return "", &ClipCutError{Start: start, End: end, Stderr: stderr.String(), Err: err}
	}

	if dur, perr := probeDuration(outFile); perr == nil {
		log.Printf("[clips] ✅ clip_%d.mp4: %.2fs (requested %.2fs)", index, dur, endSec-startSec)
	} else {
		log.Printf("[clips] ✅ clip_%d.mp4 written (duration probe failed: %v)", index, perr)
	}
	return outFile, nil
}

func sliceArgs(src string, startSec, endSec float64, cfg config.ClipsConfig, outFile string) []string {
	// -ss after -i decodes up to the seek point for exact-frame cuts;
	// stream copy would snap to the nearest keyframe.
	return []string{
		"-y",
		"-i", src,
		"-ss", formatSeconds(startSec),
		"-to", formatSeconds(endSec),
		"-c:v", "libx264",
		"-preset", cfg.Preset,
		"-crf", strconv.Itoa(cfg.CRF),
		"-c:a", "aac",
		"-b:a", cfg.AudioBitrate,
		"-movflags", "+faststart",
		outFile,
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// probeDuration uses ffprobe to get accurate media duration in seconds
func probeDuration(file string) (float64, error) {
	out, err := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		file,
	).Output()
	if err != nil {
		return 0, err
	}
	var dur float64
	_, err = fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &dur)
	return dur, err
}

// limitedBuffer keeps the first limit bytes written and discards the rest.
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
