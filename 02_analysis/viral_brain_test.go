package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/nish261/clipmaker/config"
	"github.com/nish261/clipmaker/types"
)

const segmentsJSON = `[
  {"start": "00:04:12", "end": "00:05:00", "summary": "wild moment", "virality_score": 8},
  {"start": "00:10:00", "end": "00:10:30", "summary": "funny bit", "virality_score": 6}
]`

func TestCleanJSON(t *testing.T) {
	bare := `[{"start":"00:01"}]`
	tests := []struct {
		name string
		in   string
	}{
		{"bare", bare},
		{"json fence", "```json\n" + bare + "\n```"},
		{"plain fence", "```\n" + bare + "\n```"},
		{"fence with whitespace", "  ```json\n" + bare + "\n```  \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cleanJSON(tt.in)
			if got != bare {
				t.Errorf("cleanJSON(%q) = %q, want %q", tt.in, got, bare)
			}
			if again := cleanJSON(got); again != got {
				t.Errorf("cleanJSON not idempotent: %q → %q", got, again)
			}
		})
	}
}

// newGenerateServer returns a backend stub whose generateContent reply
// splits text across the given parts.
func newGenerateServer(t *testing.T, parts ...string) (*httptest.Server, *http.Request, *[]byte) {
	t.Helper()
	var gotReq http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = *r
		gotBody, _ = io.ReadAll(r.Body)

		var partList []map[string]string
		for _, p := range parts {
			partList = append(partList, map[string]string{"text": p})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": partList}},
			},
		})
	}))
	return srv, &gotReq, &gotBody
}

func newBrain(baseURL string) *Brain {
	cfg := config.Default()
	cfg.Analysis.BaseURL = baseURL
	cfg.Analysis.PollIntervalSec = 0
	return New(cfg, "test-key")
}

func testHandle() types.MediaHandle {
	return types.MediaHandle{Name: "files/abc123", URI: "https://backend/files/abc123", MimeType: "video/mp4"}
}

func TestFindSegmentsFencedEqualsBare(t *testing.T) {
	bareSrv, _, _ := newGenerateServer(t, segmentsJSON)
	defer bareSrv.Close()
	fencedSrv, _, _ := newGenerateServer(t, "```json\n"+segmentsJSON+"\n```")
	defer fencedSrv.Close()

	fromBare, err := newBrain(bareSrv.URL).FindSegments(context.Background(), testHandle(), 2)
	if err != nil {
		t.Fatalf("bare FindSegments: %v", err)
	}
	fromFenced, err := newBrain(fencedSrv.URL).FindSegments(context.Background(), testHandle(), 2)
	if err != nil {
		t.Fatalf("fenced FindSegments: %v", err)
	}

	if !reflect.DeepEqual(fromBare, fromFenced) {
		t.Errorf("fenced parse differs from bare:\n%v\n%v", fromFenced, fromBare)
	}
	if len(fromBare) != 2 {
		t.Fatalf("got %d segments, want 2", len(fromBare))
	}
	if fromBare[0].Summary != "wild moment" || fromBare[0].ViralityScore != 8 {
		t.Errorf("segment 0 = %+v", fromBare[0])
	}
	if fromBare[1].Start != "00:10:00" || fromBare[1].End != "00:10:30" {
		t.Errorf("segment 1 window = [%s → %s]", fromBare[1].Start, fromBare[1].End)
	}
}

func TestFindSegmentsReassemblesParts(t *testing.T) {
	srv, _, _ := newGenerateServer(t, "```json\n[\n  {\"start\": \"00:04:12\", \"end\": \"00:05:00\",", " \"summary\": \"wild moment\", \"virality_score\": 8}\n]\n```")
	defer srv.Close()

	segs, err := newBrain(srv.URL).FindSegments(context.Background(), testHandle(), 1)
	if err != nil {
		t.Fatalf("FindSegments: %v", err)
	}
	if len(segs) != 1 || segs[0].Start != "00:04:12" {
		t.Errorf("segments = %+v", segs)
	}
}

func TestFindSegmentsRequestShape(t *testing.T) {
	srv, gotReq, gotBody := newGenerateServer(t, segmentsJSON)
	defer srv.Close()

	if _, err := newBrain(srv.URL).FindSegments(context.Background(), testHandle(), 5); err != nil {
		t.Fatalf("FindSegments: %v", err)
	}

	if gotReq.Header.Get("x-goog-api-key") != "test-key" {
		t.Errorf("api key header = %q", gotReq.Header.Get("x-goog-api-key"))
	}
	if !strings.HasSuffix(gotReq.URL.Path, ":generateContent") {
		t.Errorf("path = %q, want a generateContent call", gotReq.URL.Path)
	}
	if !strings.Contains(gotReq.URL.Path, config.Default().Analysis.Model) {
		t.Errorf("path %q does not name the configured model", gotReq.URL.Path)
	}

	var req generateRequest
	if err := json.Unmarshal(*gotBody, &req); err != nil {
		t.Fatalf("request body is not valid JSON: %v", err)
	}
	if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
		t.Fatalf("request shape = %+v", req)
	}
	fd := req.Contents[0].Parts[0].FileData
	if fd == nil || fd.FileURI != "https://backend/files/abc123" || fd.MimeType != "video/mp4" {
		t.Errorf("file part = %+v", fd)
	}
	prompt := req.Contents[0].Parts[1].Text
	if !strings.Contains(prompt, "5 MOST") {
		t.Errorf("prompt does not request 5 segments: %q", prompt)
	}
	if !strings.Contains(prompt, "virality_score") {
		t.Errorf("prompt does not pin the response schema: %q", prompt)
	}
}

func TestFindSegmentsParseFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"malformed JSON", "here are your clips!"},
		{"truncated array", `[{"start": "00:01:00", "end":`},
		{"missing summary", `[{"start": "00:01:00", "end": "00:01:30", "summary": "", "virality_score": 5}]`},
		{"missing timestamps", `[{"summary": "cool", "virality_score": 5}]`},
		{"score out of range", `[{"start": "00:01:00", "end": "00:01:30", "summary": "cool", "virality_score": 0}]`},
		{"score too high", `[{"start": "00:01:00", "end": "00:01:30", "summary": "cool", "virality_score": 11}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newGenerateServer(t, tt.text)
			defer srv.Close()

			_, err := newBrain(srv.URL).FindSegments(context.Background(), testHandle(), 1)
			var aErr *AnalysisError
			if !errors.As(err, &aErr) {
				t.Fatalf("error = %v, want *AnalysisError", err)
			}
			if aErr.Op != "parse" {
				t.Errorf("Op = %q, want parse", aErr.Op)
			}
		})
	}
}

func TestFindSegmentsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 429, "message": "quota exceeded"},
		})
	}))
	defer srv.Close()

	_, err := newBrain(srv.URL).FindSegments(context.Background(), testHandle(), 1)
	var aErr *AnalysisError
	if !errors.As(err, &aErr) {
		t.Fatalf("error = %v, want *AnalysisError", err)
	}
	if aErr.Op != "generate" {
		t.Errorf("Op = %q, want generate", aErr.Op)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error does not carry the backend message: %v", err)
	}
}

func writeFakeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw_video.mp4")
	if err := os.WriteFile(path, []byte("fake-video-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPrepareUploadsAndPollsUntilActive(t *testing.T) {
	var srv *httptest.Server
	polls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/upload/v1beta/files", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Goog-Upload-Command"); got != "start" {
			t.Errorf("upload start command = %q", got)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		if got := r.Header.Get("X-Goog-Upload-Header-Content-Type"); got != "video/mp4" {
			t.Errorf("content type header = %q", got)
		}
		w.Header().Set("X-Goog-Upload-URL", srv.URL+"/upload-session")
	})
	mux.HandleFunc("/upload-session", func(w http.ResponseWriter, r *http.Request) {
		if cmd := r.Header.Get("X-Goog-Upload-Command"); !strings.Contains(cmd, "finalize") {
			t.Errorf("upload command = %q, want finalize", cmd)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "fake-video-bytes" {
			t.Errorf("uploaded bytes = %q", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{"name": "files/abc123", "uri": "", "state": "PROCESSING"},
		})
	})
	mux.HandleFunc("/v1beta/files/abc123", func(w http.ResponseWriter, r *http.Request) {
		polls++
		state := "PROCESSING"
		if polls >= 3 {
			state = "ACTIVE"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name": "files/abc123", "uri": "https://backend/files/abc123", "state": state,
		})
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	handle, err := newBrain(srv.URL).Prepare(context.Background(), writeFakeVideo(t))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if handle.Name != "files/abc123" {
		t.Errorf("handle.Name = %q", handle.Name)
	}
	if handle.URI != "https://backend/files/abc123" {
		t.Errorf("handle.URI = %q, want the URI from the final poll", handle.URI)
	}
	if polls != 3 {
		t.Errorf("polls = %d, want 3 (two PROCESSING, one ACTIVE)", polls)
	}
}

func TestPrepareProcessingFailed(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/upload/v1beta/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Goog-Upload-URL", srv.URL+"/upload-session")
	})
	mux.HandleFunc("/upload-session", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{"name": "files/abc123", "state": "PROCESSING"},
		})
	})
	mux.HandleFunc("/v1beta/files/abc123", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"name": "files/abc123", "state": "FAILED",
			"error": map[string]any{"code": 400, "message": "unsupported codec"},
		})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	_, err := newBrain(srv.URL).Prepare(context.Background(), writeFakeVideo(t))
	var aErr *AnalysisError
	if !errors.As(err, &aErr) {
		t.Fatalf("error = %v, want *AnalysisError", err)
	}
	if aErr.Op != "poll" {
		t.Errorf("Op = %q, want poll", aErr.Op)
	}
	if !strings.Contains(err.Error(), "unsupported codec") {
		t.Errorf("error does not carry the backend message: %v", err)
	}
}

func TestPrepareProcessingTimeout(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/upload/v1beta/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Goog-Upload-URL", srv.URL+"/upload-session")
	})
	mux.HandleFunc("/upload-session", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{"name": "files/abc123", "state": "PROCESSING"},
		})
	})
	mux.HandleFunc("/v1beta/files/abc123", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"name": "files/abc123", "state": "PROCESSING"})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Default()
	cfg.Analysis.BaseURL = srv.URL
	cfg.Analysis.PollIntervalSec = 0
	cfg.Analysis.ProcessingTimeoutSec = 1
	b := New(cfg, "test-key")

	_, err := b.Prepare(context.Background(), writeFakeVideo(t))
	var aErr *AnalysisError
	if !errors.As(err, &aErr) {
		t.Fatalf("error = %v, want *AnalysisError", err)
	}
	if aErr.Op != "poll" {
		t.Errorf("Op = %q, want poll", aErr.Op)
	}
	if !strings.Contains(err.Error(), "not active after") {
		t.Errorf("error = %v, want a timeout message", err)
	}
}

func TestPrepareUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "token lacks files scope")
	}))
	defer srv.Close()

	_, err := newBrain(srv.URL).Prepare(context.Background(), writeFakeVideo(t))
	var aErr *AnalysisError
	if !errors.As(err, &aErr) {
		t.Fatalf("error = %v, want *AnalysisError", err)
	}
	if aErr.Op != "upload" {
		t.Errorf("Op = %q, want upload", aErr.Op)
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "token lacks files scope") {
		t.Errorf("error does not carry status and body: %v", err)
	}
}

func TestPrepareCancelledBetweenPolls(t *testing.T) {
	var srv *httptest.Server
	ctx, cancel := context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/upload/v1beta/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Goog-Upload-URL", srv.URL+"/upload-session")
	})
	mux.HandleFunc("/upload-session", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{"name": "files/abc123", "state": "PROCESSING"},
		})
	})
	mux.HandleFunc("/v1beta/files/abc123", func(w http.ResponseWriter, r *http.Request) {
		cancel() // cancel while the pipeline is waiting between attempts
		json.NewEncoder(w).Encode(map[string]any{"name": "files/abc123", "state": "PROCESSING"})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Default()
	cfg.Analysis.BaseURL = srv.URL
	cfg.Analysis.PollIntervalSec = 30 // long enough that only cancellation can end the wait
	b := New(cfg, "test-key")

	_, err := b.Prepare(ctx, writeFakeVideo(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
