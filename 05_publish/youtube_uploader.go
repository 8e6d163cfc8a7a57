package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nish261/clipmaker/config"
	"github.com/nish261/clipmaker/types"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YouTube caps titles at 100 characters; leave room for the " #Shorts" tag.
const titleMaxChars = 90

// Uploader publishes finished clips to YouTube via Data API v3
type Uploader struct {
	cfg *config.Config
}

// New creates a new Uploader
func New(cfg *config.Config) *Uploader {
	return &Uploader{cfg: cfg}
}

// Run uploads one rendered clip to YouTube and returns its video ID and URL.
func (u *Uploader) Run(ctx context.Context, record types.ResultRecord) (string, string, error) {
	log.Println("[publish] Authenticating with YouTube API...")

	client, err := u.getOAuthClient(ctx)
	if err != nil {
		return "", "", fmt.Errorf("youtube auth: %w", err)
	}

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return "", "", fmt.Errorf("youtube service: %w", err)
	}

	snippet := buildSnippet(record, u.cfg)
	log.Printf("[publish] Uploading: %q", snippet.Title)

	status := &youtube.VideoStatus{
		PrivacyStatus:           u.cfg.Upload.Visibility,
		SelfDeclaredMadeForKids: u.cfg.Upload.MadeForKids,
	}

	video := &youtube.Video{
		Snippet: snippet,
		Status:  status,
	}

	f, err := os.Open(record.Path)
	if err != nil {
		return "", "", fmt.Errorf("open clip file: %w", err)
	}
	defer f.Close()

	fi, _ := f.Stat()
	log.Printf("[publish] File size: %.1f MB", float64(fi.Size())/1024/1024)

	// Resumable upload (required for files > 5MB)
	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)
	call.NotifySubscribers(u.cfg.Upload.NotifySubscribers)

	uploaded, err := call.Do()
	if err != nil {
		return "", "", fmt.Errorf("youtube upload: %w", err)
	}

	videoID := uploaded.Id
	videoURL := fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID)

	log.Printf("[publish] ✅ Uploaded successfully!")
	log.Printf("[publish] Video ID: %s", videoID)
	log.Printf("[publish] Video URL: %s", videoURL)

	return videoID, videoURL, nil
}

// getOAuthClient creates an OAuth2 HTTP client using env credentials
func (u *Uploader) getOAuthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")

	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}

	return oauth2.NewClient(ctx, conf.TokenSource(ctx, token)), nil
}

func buildSnippet(record types.ResultRecord, cfg *config.Config) *youtube.VideoSnippet {
	return &youtube.VideoSnippet{
		Title:                buildTitle(record.Summary),
		Description:          buildDescription(record),
		Tags:                 cfg.Upload.Tags,
		CategoryId:           cfg.Upload.CategoryID,
		DefaultLanguage:      cfg.Upload.DefaultLanguage,
		DefaultAudioLanguage: cfg.Upload.DefaultLanguage,
	}
}

func buildTitle(summary string) string {
	title := strings.TrimSpace(summary)
	if title == "" {
		title = "Viral Clip"
	}
	if len(title) > titleMaxChars {
		title = title[:titleMaxChars-3] + "..."
	}
	return title + " #Shorts"
}

func buildDescription(record types.ResultRecord) string {
	var sb strings.Builder
	if record.Summary != "" {
		sb.WriteString(record.Summary)
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("Clipped from %s to %s of the original video.\n", record.Start, record.End))
	sb.WriteString(fmt.Sprintf("Virality score: %d/10\n\n", record.ViralityScore))
	sb.WriteString("#Shorts")
	return sb.String()
}

// LogUpload saves the upload result to the logs directory
func LogUpload(videoID, videoURL string, record types.ResultRecord, logsDir string) error {
	logEntry := map[string]interface{}{
		"video_id":       videoID,
		"video_url":      videoURL,
		"clip_file":      record.Path,
		"summary":        record.Summary,
		"virality_score": record.ViralityScore,
		"uploaded_at":    time.Now().UTC().Format(time.RFC3339),
	}

	logFile := filepath.Join(logsDir, fmt.Sprintf("upload_%s.json", time.Now().Format("20060102_150405")))
	data, _ := json.MarshalIndent(logEntry, "", "  ")
	if err := os.WriteFile(logFile, data, 0644); err != nil {
		return err
	}

	log.Printf("[publish] Upload log saved: %s", logFile)
	return nil
}
