package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/nish261/clipmaker/types"
)

// Ingestor fetches a remote video into a local file.
type Ingestor interface {
	Download(ctx context.Context, url string) (string, error)
}

// Analyzer uploads media to the inference backend and asks it for candidate
// viral segments.
type Analyzer interface {
	Prepare(ctx context.Context, mediaPath string) (types.MediaHandle, error)
	FindSegments(ctx context.Context, handle types.MediaHandle, n int) ([]types.Segment, error)
}

// Slicer cuts one segment out of the source media.
type Slicer interface {
	Slice(ctx context.Context, src, start, end string, index int) (string, error)
}

// Renderer pushes a clip through the template rendering backend.
type Renderer interface {
	UploadAsset(ctx context.Context, clipPath string) (string, error)
	InstantiateTemplate(ctx context.Context, assetID, summary string) (string, error)
	ExportVideo(ctx context.Context, designID string) (string, error)
}

// Observer receives presentation callbacks from a run. The pipeline never
// depends on a specific UI; percent values never decrease.
type Observer interface {
	OnStageStart(stage, message string)
	OnProgress(percent int)
	OnClipDone(index, total int, record types.ResultRecord)
	OnClipError(index, total int, err error)
}

// NopObserver discards all callbacks.
type NopObserver struct{}

func (NopObserver) OnStageStart(string, string)             {}
func (NopObserver) OnProgress(int)                          {}
func (NopObserver) OnClipDone(int, int, types.ResultRecord) {}
func (NopObserver) OnClipError(int, int, error)             {}

// Options tunes a Pipeline beyond its stage components.
type Options struct {
	Observer Observer
	// ContinueOnError skips a failed clip instead of aborting the run.
	ContinueOnError bool
}

// Progress milestones in percent; per-clip work interpolates 50 → 95.
const (
	progressStart       = 5
	progressDownloading = 10
	progressDownloaded  = 30
	progressUploading   = 35
	progressAnalyzing   = 40
	progressSegments    = 50
	progressDone        = 100
)

// Pipeline runs the stages strictly in sequence: download, analyze, then per
// segment (in backend order) cut → upload → template → export. One clip
// completes end-to-end before the next begins.
type Pipeline struct {
	ingestor        Ingestor
	brain           Analyzer
	slicer          Slicer
	factory         Renderer
	obs             Observer
	continueOnError bool
}

// New creates a new Pipeline
func New(ingestor Ingestor, brain Analyzer, slicer Slicer, factory Renderer, opts Options) *Pipeline {
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	return &Pipeline{
		ingestor:        ingestor,
		brain:           brain,
		slicer:          slicer,
		factory:         factory,
		obs:             obs,
		continueOnError: opts.ContinueOnError,
	}
}

// Run executes one full pipeline pass and returns a ResultRecord per
// rendered clip, in segment order. By default the first stage error aborts
// the run, returning the records produced so far alongside the error.
func (p *Pipeline) Run(ctx context.Context, url string, clipCount int) ([]types.ResultRecord, error) {
	p.obs.OnProgress(progressStart)

	p.obs.OnStageStart("ingest", "Downloading video...")
	p.obs.OnProgress(progressDownloading)
	src, err := p.ingestor.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	p.obs.OnProgress(progressDownloaded)

	p.obs.OnStageStart("analysis", "Uploading video for analysis...")
	p.obs.OnProgress(progressUploading)
	handle, err := p.brain.Prepare(ctx, src)
	if err != nil {
		return nil, err
	}

	p.obs.OnStageStart("analysis", fmt.Sprintf("Finding the %d most viral moments...", clipCount))
	p.obs.OnProgress(progressAnalyzing)
	segments, err := p.brain.FindSegments(ctx, handle, clipCount)
	if err != nil {
		return nil, err
	}
	p.obs.OnProgress(progressSegments)

	if len(segments) == 0 {
		log.Println("[pipeline] ⚠️  Backend returned no segments")
	}

	total := len(segments)
	results := make([]types.ResultRecord, 0, total)
	for i, seg := range segments {
		index := i + 1
		record, err := p.processSegment(ctx, src, seg, index, total)
		if err != nil {
			p.obs.OnClipError(index, total, err)
			if p.continueOnError {
				continue
			}
			return results, fmt.Errorf("clip %d/%d: %w", index, total, err)
		}
		results = append(results, record)
		p.obs.OnClipDone(index, total, record)
	}

	p.obs.OnProgress(progressDone)
	return results, nil
}

// processSegment takes one segment end-to-end through cut, asset upload,
// template autofill and export.
func (p *Pipeline) processSegment(ctx context.Context, src string, seg types.Segment, index, total int) (types.ResultRecord, error) {
	// Interpolate this clip's share of the 50→95 progress band. Integer
	// steps may repeat for large clip counts; they never go backwards.
	prev := progressSegments + (index-1)*45/total
	span := progressSegments + index*45/total - prev

	p.obs.OnStageStart("clips", fmt.Sprintf("Cutting clip %d/%d [%s → %s]...", index, total, seg.Start, seg.End))
	p.obs.OnProgress(prev + span/4)
	clip, err := p.slicer.Slice(ctx, src, seg.Start, seg.End, index)
	if err != nil {
		return types.ResultRecord{}, err
	}

	p.obs.OnStageStart("render", fmt.Sprintf("Uploading clip %d/%d...", index, total))
	p.obs.OnProgress(prev + span/2)
	assetID, err := p.factory.UploadAsset(ctx, clip)
	if err != nil {
		return types.ResultRecord{}, err
	}

	p.obs.OnStageStart("render", fmt.Sprintf("Applying template to clip %d/%d...", index, total))
	p.obs.OnProgress(prev + 3*span/4)
	designID, err := p.factory.InstantiateTemplate(ctx, assetID, seg.Summary)
	if err != nil {
		return types.ResultRecord{}, err
	}

	p.obs.OnStageStart("render", fmt.Sprintf("Rendering clip %d/%d...", index, total))
	p.obs.OnProgress(prev + span)
	path, err := p.factory.ExportVideo(ctx, designID)
	if err != nil {
		return types.ResultRecord{}, err
	}

	return types.ResultRecord{
		Path:          path,
		Summary:       seg.Summary,
		ViralityScore: seg.ViralityScore,
		Start:         seg.Start,
		End:           seg.End,
	}, nil
}
