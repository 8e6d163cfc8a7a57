package types

// Segment is one candidate viral moment identified by the analysis backend.
// Start and End are textual timestamps ("HH:MM:SS", "MM:SS" or bare seconds)
// exactly as the backend returned them.
type Segment struct {
	Start         string `json:"start"`
	End           string `json:"end"`
	Summary       string `json:"summary"`
	ViralityScore int    `json:"virality_score"`
}

// MediaHandle references a video uploaded to the analysis backend.
// Name is the backend's file id (used for polling), URI is what inference
// requests reference.
type MediaHandle struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mime_type"`
}

// ResultRecord is the final output unit for one rendered clip. Summary,
// ViralityScore, Start and End are carried through from the originating
// segment unchanged.
type ResultRecord struct {
	Path          string `json:"path"`
	Summary       string `json:"summary"`
	ViralityScore int    `json:"virality_score"`
	Start         string `json:"start"`
	End           string `json:"end"`
}

// RunState tracks the full state of one pipeline run
type RunState struct {
	RunID       string         `json:"run_id"`
	URL         string         `json:"url"`
	ClipCount   int            `json:"clip_count"`
	StartedAt   string         `json:"started_at"`
	CompletedAt string         `json:"completed_at"`
	Results     []ResultRecord `json:"results,omitempty"`
	Error       string         `json:"error,omitempty"`
}
