package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/nish261/clipmaker/config"
)

// Export job states as the backend reports them.
const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// UploadError is a non-2xx response from the asset upload endpoint. Body
// carries the backend's response for diagnosis.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("asset upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// TemplateError is a non-2xx response from the autofill endpoint.
type TemplateError struct {
	StatusCode int
	Body       string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template autofill failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// ExportError is a terminal failure reported by the export job (or a
// rejected submission). Payload is the backend's full status payload.
type ExportError struct {
	Payload string
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export job failed: %s", e.Payload)
}

// ExportTimeoutError means the poll budget ran out before the job reached a
// terminal state. No unbounded waiting on a third-party job.
type ExportTimeoutError struct {
	Attempts int
}

func (e *ExportTimeoutError) Error() string {
	return fmt.Sprintf("export job not terminal after %d poll attempts", e.Attempts)
}

// DownloadError means the rendered result could not be fetched after the
// export job itself succeeded.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download render result %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Factory drives the Canva Connect API: upload a clip as an asset, autofill
// the brand template with it, export the design and pull down the result.
type Factory struct {
	cfg        *config.Config
	token      string
	templateID string
	outputDir  string
	httpClient *http.Client
}

// New creates a new Factory writing rendered videos into outputDir
func New(cfg *config.Config, token, templateID, outputDir string) *Factory {
	return &Factory{
		cfg:        cfg,
		token:      token,
		templateID: templateID,
		outputDir:  outputDir,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type assetResponse struct {
	Asset struct {
		ID string `json:"id"`
	} `json:"asset"`
}

type autofillRequest struct {
	BrandTemplateID string                   `json:"brand_template_id"`
	Data            map[string]autofillField `json:"data"`
}

type autofillField struct {
	Type    string `json:"type"`
	AssetID string `json:"asset_id,omitempty"`
	Text    string `json:"text,omitempty"`
}

type designResponse struct {
	Design struct {
		ID string `json:"id"`
	} `json:"design"`
}

type exportRequest struct {
	DesignID string       `json:"design_id"`
	Format   exportFormat `json:"format"`
}

type exportFormat struct {
	Type    string `json:"type"`
	Quality string `json:"quality"`
}

type exportJobResponse struct {
	Job struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Result *struct {
			URL string `json:"url"`
		} `json:"result"`
	} `json:"job"`
}

// UploadAsset pushes the clip to the backend's asset store via multipart
// POST and returns the new asset id.
func (f *Factory) UploadAsset(ctx context.Context, clipPath string) (string, error) {
	log.Printf("[render] Uploading asset: %s", filepath.Base(clipPath))

	file, err := os.Open(clipPath)
	if err != nil {
		return "", fmt.Errorf("open clip: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="asset"; filename=%q`, filepath.Base(clipPath)))
	hdr.Set("Content-Type", "video/mp4")
	partW, err := mw.CreatePart(hdr)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(partW, file); err != nil {
		return "", fmt.Errorf("read clip: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.cfg.Render.BaseURL+"/assets", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("asset upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UploadError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var ar assetResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", fmt.Errorf("decode asset response: %w", err)
	}
	if ar.Asset.ID == "" {
		return "", fmt.Errorf("asset response missing id")
	}

	log.Printf("[render] Asset uploaded: %s", ar.Asset.ID)
	return ar.Asset.ID, nil
}

// InstantiateTemplate binds the uploaded asset into the brand template's
// video placeholder — and the summary into the text placeholder when one
// was produced — returning the resulting design id.
func (f *Factory) InstantiateTemplate(ctx context.Context, assetID, summary string) (string, error) {
	data := map[string]autofillField{
		f.cfg.Render.VideoPlaceholder: {Type: "video", AssetID: assetID},
	}
	if summary != "" {
		data[f.cfg.Render.TextPlaceholder] = autofillField{Type: "text", Text: summary}
	}

	body, err := json.Marshal(autofillRequest{BrandTemplateID: f.templateID, Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal autofill request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.cfg.Render.BaseURL+"/autofills", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("template autofill: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &TemplateError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var dr designResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", fmt.Errorf("decode autofill response: %w", err)
	}
	if dr.Design.ID == "" {
		return "", fmt.Errorf("autofill response missing design id")
	}

	log.Printf("[render] Template instantiated: design %s", dr.Design.ID)
	return dr.Design.ID, nil
}

// ExportVideo submits an export job for the design and polls it every poll
// interval, up to max_poll_attempts. success downloads the rendered bytes;
// failed raises the status payload; running out of attempts is a timeout.
func (f *Factory) ExportVideo(ctx context.Context, designID string) (string, error) {
	log.Printf("[render] Exporting design %s (%s, %s)...", designID, f.cfg.Render.ExportFormat, f.cfg.Render.ExportQuality)

	jobID, err := f.submitExport(ctx, designID)
	if err != nil {
		return "", err
	}

	interval := f.cfg.Render.PollInterval()
	maxAttempts := f.cfg.Render.MaxPollAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}

		status, resultURL, raw, err := f.exportStatus(ctx, jobID)
		if err != nil {
			return "", err
		}

		switch status {
		case statusSuccess:
			log.Printf("[render] Export succeeded after %d poll(s)", attempt)
			return f.downloadResult(ctx, resultURL, designID)
		case statusFailed:
			return "", &ExportError{Payload: string(raw)}
		}

		log.Printf("[render] Export %s: %s (attempt %d/%d)", jobID, status, attempt, maxAttempts)
	}

	return "", &ExportTimeoutError{Attempts: maxAttempts}
}

func (f *Factory) submitExport(ctx context.Context, designID string) (string, error) {
	body, err := json.Marshal(exportRequest{
		DesignID: designID,
		Format:   exportFormat{Type: f.cfg.Render.ExportFormat, Quality: f.cfg.Render.ExportQuality},
	})
	if err != nil {
		return "", fmt.Errorf("marshal export request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.cfg.Render.BaseURL+"/exports", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ExportError{Payload: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, readBody(resp.Body))}
	}

	var ej exportJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&ej); err != nil {
		return "", fmt.Errorf("decode export response: %w", err)
	}
	if ej.Job.ID == "" {
		return "", fmt.Errorf("export response missing job id")
	}
	return ej.Job.ID, nil
}

func (f *Factory) exportStatus(ctx context.Context, jobID string) (status, resultURL string, raw []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", f.cfg.Render.BaseURL+"/exports/"+jobID, nil)
	if err != nil {
		return "", "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", "", nil, fmt.Errorf("export status: %w", err)
	}
	defer resp.Body.Close()

	raw, err = io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", "", nil, fmt.Errorf("read export status: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", nil, &ExportError{Payload: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, raw)}
	}

	var ej exportJobResponse
	if err := json.Unmarshal(raw, &ej); err != nil {
		return "", "", nil, fmt.Errorf("decode export status: %w", err)
	}
	if ej.Job.Result != nil {
		resultURL = ej.Job.Result.URL
	}
	return ej.Job.Status, resultURL, raw, nil
}

// downloadResult streams the rendered video from its signed URL to disk.
// The URL is pre-authorized, so no bearer header here.
func (f *Factory) downloadResult(ctx context.Context, resultURL, designID string) (string, error) {
	if resultURL == "" {
		return "", &DownloadError{URL: resultURL, Err: fmt.Errorf("export succeeded without a result url")}
	}
	if err := os.MkdirAll(f.outputDir, 0755); err != nil {
		return "", &DownloadError{URL: resultURL, Err: err}
	}
	outFile := filepath.Join(f.outputDir, fmt.Sprintf("canva_video_%s.mp4", designID))

	req, err := http.NewRequestWithContext(ctx, "GET", resultURL, nil)
	if err != nil {
		return "", &DownloadError{URL: resultURL, Err: err}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", &DownloadError{URL: resultURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{URL: resultURL, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	out, err := os.Create(outFile)
	if err != nil {
		return "", &DownloadError{URL: resultURL, Err: err}
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(outFile)
		return "", &DownloadError{URL: resultURL, Err: err}
	}
	if err := out.Close(); err != nil {
		return "", &DownloadError{URL: resultURL, Err: err}
	}

	log.Printf("[render] ✅ Rendered video saved: %s", outFile)
	return outFile, nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(b)
}
