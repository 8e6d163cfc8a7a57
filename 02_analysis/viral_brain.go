package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nish261/clipmaker/config"
	"github.com/nish261/clipmaker/types"
)

// segmentPrompt asks the model for its viral-segment picks. %d is the clip count.
const segmentPrompt = `You are a viral content editor analyzing this video. Identify the %d MOST "out of pocket", wild, unexpected, or highly viral-worthy segments.

Requirements:
- Each clip must be 15-60 seconds long
- Focus on moments that are shocking, hilarious, controversial, or highly engaging
- Prioritize strong emotional reactions and surprising content

Respond with ONLY a valid JSON array in this exact format — no markdown, no explanation:
[
  {
    "start": "00:04:12",
    "end": "00:05:00",
    "summary": "Brief description of why this moment is viral-worthy",
    "virality_score": 8
  }
]

Timestamps use HH:MM:SS. virality_score is an integer from 1 (mild) to 10 (extremely viral).`

const (
	mimeTypeMP4 = "video/mp4"
	stateActive = "ACTIVE"
	stateFailed = "FAILED"
)

// AnalysisError wraps any failure while talking to the inference backend.
// Op is one of upload, poll, generate, parse.
type AnalysisError struct {
	Op  string
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis %s: %v", e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Brain finds viral segments using the Gemini API
type Brain struct {
	cfg        *config.Config
	apiKey     string
	httpClient *http.Client
}

// New creates a new Brain
func New(cfg *config.Config, apiKey string) *Brain {
	return &Brain{
		cfg:    cfg,
		apiKey: apiKey,
		// Generous timeout: the upload call streams the whole video.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

type uploadStartRequest struct {
	File uploadFileMeta `json:"file"`
}

type uploadFileMeta struct {
	DisplayName string `json:"display_name"`
}

type fileInfo struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type uploadResponse struct {
	File fileInfo `json:"file"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"file_data,omitempty"`
}

type fileData struct {
	MimeType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Prepare uploads the media file to the backend and blocks until it is ready
// for inference, polling every poll interval. The wait is bounded by
// analysis.processing_timeout_sec (0 = wait forever).
func (b *Brain) Prepare(ctx context.Context, mediaPath string) (types.MediaHandle, error) {
	log.Printf("[analysis] Uploading %s to Gemini...", filepath.Base(mediaPath))

	handle, err := b.uploadFile(ctx, mediaPath)
	if err != nil {
		return types.MediaHandle{}, &AnalysisError{Op: "upload", Err: err}
	}
	log.Printf("[analysis] Upload accepted: %s — waiting for processing...", handle.Name)

	if err := b.waitUntilActive(ctx, &handle); err != nil {
		return types.MediaHandle{}, err
	}

	log.Printf("[analysis] ✅ File active: %s", handle.URI)
	return handle, nil
}

// uploadFile runs the backend's resumable upload: a start call that hands
// back an upload URL, then a single upload+finalize call streaming the file.
func (b *Brain) uploadFile(ctx context.Context, mediaPath string) (types.MediaHandle, error) {
	f, err := os.Open(mediaPath)
	if err != nil {
		return types.MediaHandle{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return types.MediaHandle{}, err
	}

	startBody, err := json.Marshal(uploadStartRequest{File: uploadFileMeta{DisplayName: filepath.Base(mediaPath)}})
	if err != nil {
		return types.MediaHandle{}, fmt.Errorf("marshal upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.cfg.Analysis.BaseURL+"/upload/v1beta/files", bytes.NewReader(startBody))
	if err != nil {
		return types.MediaHandle{}, err
	}
	req.Header.Set("x-goog-api-key", b.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.FormatInt(fi.Size(), 10))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeTypeMP4)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return types.MediaHandle{}, fmt.Errorf("upload start: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.MediaHandle{}, fmt.Errorf("upload start: HTTP %d: %s", resp.StatusCode, body)
	}

	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return types.MediaHandle{}, fmt.Errorf("upload start: backend returned no upload URL")
	}

	upReq, err := http.NewRequestWithContext(ctx, "POST", uploadURL, f)
	if err != nil {
		return types.MediaHandle{}, err
	}
	upReq.ContentLength = fi.Size()
	upReq.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	upReq.Header.Set("X-Goog-Upload-Offset", "0")

	upResp, err := b.httpClient.Do(upReq)
	if err != nil {
		return types.MediaHandle{}, fmt.Errorf("upload bytes: %w", err)
	}
	defer upResp.Body.Close()

	if upResp.StatusCode < 200 || upResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(upResp.Body, 4096))
		return types.MediaHandle{}, fmt.Errorf("upload bytes: HTTP %d: %s", upResp.StatusCode, body)
	}

	var ur uploadResponse
	if err := json.NewDecoder(upResp.Body).Decode(&ur); err != nil {
		return types.MediaHandle{}, fmt.Errorf("decode upload response: %w", err)
	}
	if ur.File.Name == "" {
		return types.MediaHandle{}, fmt.Errorf("upload response missing file name")
	}

	return types.MediaHandle{Name: ur.File.Name, URI: ur.File.URI, MimeType: mimeTypeMP4}, nil
}

// waitUntilActive owns the processing poll loop: the backend flips the
// file's state out-of-band, so the client re-reads it until a terminal
// state. Cancellation lands between attempts, never mid-request.
func (b *Brain) waitUntilActive(ctx context.Context, handle *types.MediaHandle) error {
	interval := b.cfg.Analysis.PollInterval()
	timeout := b.cfg.Analysis.ProcessingTimeout()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		info, err := b.fileState(ctx, handle.Name)
		if err != nil {
			return &AnalysisError{Op: "poll", Err: err}
		}

		switch info.State {
		case stateActive:
			if info.URI != "" {
				handle.URI = info.URI
			}
			return nil
		case stateFailed:
			msg := "backend reported processing FAILED"
			if info.Error != nil {
				msg = fmt.Sprintf("%s: %s", msg, info.Error.Message)
			}
			return &AnalysisError{Op: "poll", Err: errors.New(msg)}
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return &AnalysisError{Op: "poll", Err: fmt.Errorf("file not active after %s", timeout)}
		}

		select {
		case <-ctx.Done():
			return &AnalysisError{Op: "poll", Err: ctx.Err()}
		case <-time.After(interval):
		}
	}
}

func (b *Brain) fileState(ctx context.Context, name string) (fileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/v1beta/%s", b.cfg.Analysis.BaseURL, name), nil)
	if err != nil {
		return fileInfo{}, err
	}
	req.Header.Set("x-goog-api-key", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fileInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fileInfo{}, fmt.Errorf("file state: HTTP %d: %s", resp.StatusCode, body)
	}

	var info fileInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fileInfo{}, fmt.Errorf("decode file state: %w", err)
	}
	return info, nil
}

// FindSegments issues one inference request asking for the n most viral
// segments as a JSON array. The response is defensively de-fenced before
// parsing; backend order is preserved.
func (b *Brain) FindSegments(ctx context.Context, handle types.MediaHandle, n int) ([]types.Segment, error) {
	log.Printf("[analysis] Asking %s for the %d most viral segments...", b.cfg.Analysis.Model, n)

	reqBody := generateRequest{
		Contents: []content{{
			Parts: []part{
				{FileData: &fileData{MimeType: handle.MimeType, FileURI: handle.URI}},
				{Text: fmt.Sprintf(segmentPrompt, n)},
			},
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &AnalysisError{Op: "generate", Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", b.cfg.Analysis.BaseURL, b.cfg.Analysis.Model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &AnalysisError{Op: "generate", Err: err}
	}
	req.Header.Set("x-goog-api-key", b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &AnalysisError{Op: "generate", Err: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AnalysisError{Op: "generate", Err: err}
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBytes, &genResp); err != nil {
		return nil, &AnalysisError{Op: "generate", Err: fmt.Errorf("parse response: %w", err)}
	}
	if genResp.Error != nil {
		return nil, &AnalysisError{Op: "generate", Err: fmt.Errorf("backend error %d: %s", genResp.Error.Code, genResp.Error.Message)}
	}
	if len(genResp.Candidates) == 0 {
		return nil, &AnalysisError{Op: "generate", Err: fmt.Errorf("backend returned no candidates")}
	}

	var sb strings.Builder
	for _, p := range genResp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := cleanJSON(sb.String())

	var segments []types.Segment
	if err := json.Unmarshal([]byte(text), &segments); err != nil {
		return nil, &AnalysisError{Op: "parse", Err: fmt.Errorf("parse segments JSON: %w\nraw content: %s", err, text[:min(200, len(text))])}
	}
	if err := validateSegments(segments); err != nil {
		return nil, &AnalysisError{Op: "parse", Err: err}
	}

	log.Printf("[analysis] ✅ Found %d candidate segments", len(segments))
	for i, s := range segments {
		log.Printf("[analysis]   %d. [%s → %s] score %d/10 — %s", i+1, s.Start, s.End, s.ViralityScore, truncate(s.Summary, 80))
	}
	return segments, nil
}

// validateSegments rejects structurally incomplete records so a half-formed
// backend response fails loudly instead of flowing downstream.
func validateSegments(segs []types.Segment) error {
	for i, s := range segs {
		if s.Start == "" || s.End == "" {
			return fmt.Errorf("segment %d missing start/end timestamps", i)
		}
		if s.Summary == "" {
			return fmt.Errorf("segment %d missing summary", i)
		}
		if s.ViralityScore < 1 || s.ViralityScore > 10 {
			return fmt.Errorf("segment %d virality score %d outside 1..10", i, s.ViralityScore)
		}
	}
	return nil
}

// cleanJSON strips markdown fences if the model wraps its response in ```json ... ```
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
