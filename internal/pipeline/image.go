// Package pipeline orchestrates media detection: decode, per-frame inference,
// annotation, and persistence of output artifacts with cleanup on failure.
package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"

	"github.com/MeKo-Tech/vigil/internal/detection"
	"github.com/MeKo-Tech/vigil/internal/modelcache"
)

// Config holds the pipeline settings consumed from application configuration.
type Config struct {
	StaticDir      string
	TempDir        string
	MaxImageWidth  int
	MaxImageHeight int
	FrameSkip      int
}

// DefaultConfig returns default pipeline settings.
func DefaultConfig() Config {
	return Config{
		StaticDir:      "static",
		TempDir:        os.TempDir(),
		MaxImageWidth:  1920,
		MaxImageHeight: 1080,
		FrameSkip:      3,
	}
}

// ImageResult is the outcome of a successful image detection run.
type ImageResult struct {
	Detections []detection.Record
	Artifact   Artifact
	Width      int
	Height     int
}

// ImagePipeline runs single-frame detect, annotate, and persist.
type ImagePipeline struct {
	cache     *modelcache.Cache
	annotator *detection.Annotator
	cfg       Config
}

// NewImagePipeline creates an image pipeline over the shared model cache.
func NewImagePipeline(cache *modelcache.Cache, annotator *detection.Annotator, cfg Config) *ImagePipeline {
	return &ImagePipeline{cache: cache, annotator: annotator, cfg: cfg}
}

// Process decodes the uploaded image, runs detection at the given confidence
// threshold, and persists an annotated copy under a fresh artifact name. The
// decoded frame itself is never drawn on; annotation happens on a copy. On
// failure no artifact is left behind.
func (p *ImagePipeline) Process(data []byte, modelID string, confidence float64) (*ImageResult, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ProcessingError{Stage: "decode", Err: err}
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > p.cfg.MaxImageWidth || height > p.cfg.MaxImageHeight {
		return nil, &DimensionError{
			Width:     width,
			Height:    height,
			MaxWidth:  p.cfg.MaxImageWidth,
			MaxHeight: p.cfg.MaxImageHeight,
		}
	}

	eng, err := p.cache.Acquire(modelID)
	if err != nil {
		return nil, err
	}

	raw, err := eng.Infer(img, confidence)
	if err != nil {
		return nil, &ProcessingError{Stage: "inference", Err: err}
	}

	records := detection.Normalize(raw, eng.Labels())
	annotated := p.annotator.Annotate(img, records)

	artifact, err := p.persist(annotated)
	if err != nil {
		return nil, err
	}

	slog.Info("Image processed",
		"model", modelID,
		"detections", len(records),
		"artifact", artifact.Filename)

	return &ImageResult{
		Detections: records,
		Artifact:   artifact,
		Width:      width,
		Height:     height,
	}, nil
}

// persist writes the annotated frame under a fresh random artifact name,
// removing the file again if the write does not complete.
func (p *ImagePipeline) persist(img image.Image) (Artifact, error) {
	if err := os.MkdirAll(p.cfg.StaticDir, 0o750); err != nil {
		return Artifact{}, &ProcessingError{Stage: "persist", Err: err}
	}

	filename := newArtifactFilename(".jpg")
	path := filepath.Join(p.cfg.StaticDir, filename)

	if err := imaging.Save(img, path); err != nil {
		_ = os.Remove(path)
		return Artifact{}, &ProcessingError{Stage: "persist", Err: err}
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(path)
		return Artifact{}, &ProcessingError{Stage: "persist", Err: fmt.Errorf("artifact not written: %s", path)}
	}

	return Artifact{Filename: filename, Path: path, SizeBytes: info.Size()}, nil
}
