package pipeline

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/MeKo-Tech/vigil/internal/detection"
	"github.com/MeKo-Tech/vigil/internal/engine"
	"github.com/MeKo-Tech/vigil/internal/modelcache"
)

// frameSource yields decoded frames in source order plus stream metadata.
type frameSource interface {
	Read(dst *gocv.Mat) bool
	FPS() float64
	Width() int
	Height() int
	TotalFrames() int
	Close() error
}

// frameSink consumes frames in write order into an output container.
type frameSink interface {
	Write(frame gocv.Mat) error
	Close() error
}

// VideoResult is the outcome of a successful video detection run.
type VideoResult struct {
	Artifact       Artifact
	TotalFrames    int
	FramesDetected int
}

// VideoPipeline runs frame-by-frame decode, strided inference, annotation,
// and re-encode over an uploaded video.
type VideoPipeline struct {
	cache     *modelcache.Cache
	annotator *detection.Annotator
	cfg       Config

	// Source/sink constructors are injectable so tests can substitute fakes
	// for the gocv-backed defaults.
	openSource func(path string) (frameSource, error)
	openSink   func(path string, fps float64, width, height int) (frameSink, error)
}

// NewVideoPipeline creates a video pipeline over the shared model cache.
func NewVideoPipeline(cache *modelcache.Cache, annotator *detection.Annotator, cfg Config) *VideoPipeline {
	if cfg.FrameSkip < 1 {
		cfg.FrameSkip = 1
	}
	return &VideoPipeline{
		cache:      cache,
		annotator:  annotator,
		cfg:        cfg,
		openSource: openCaptureSource,
		openSink:   openWriterSink,
	}
}

// Process stages the uploaded bytes to a private temp file, decodes frames in
// order, runs detection on every FrameSkip-th frame, passes the rest through,
// and writes all frames at the source frame rate to a fresh output artifact.
// Every failure path removes the staged input and any partial output.
func (p *VideoPipeline) Process(data []byte, originalName, modelID string, confidence float64) (*VideoResult, error) {
	if err := os.MkdirAll(p.cfg.TempDir, 0o750); err != nil {
		return nil, &ProcessingError{Stage: "stage", Err: err}
	}
	if err := os.MkdirAll(p.cfg.StaticDir, 0o750); err != nil {
		return nil, &ProcessingError{Stage: "stage", Err: err}
	}

	tempPath := newTempFilename(p.cfg.TempDir, originalName)
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return nil, &ProcessingError{Stage: "stage", Err: err}
	}
	// The staged input is removed on every exit, success or failure.
	defer func() { _ = os.Remove(tempPath) }()

	eng, err := p.cache.Acquire(modelID)
	if err != nil {
		return nil, err
	}

	src, err := p.openSource(tempPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableVideo, err)
	}

	filename := newArtifactFilename(".mp4")
	outPath := filepath.Join(p.cfg.StaticDir, filename)

	sink, err := p.openSink(outPath, src.FPS(), src.Width(), src.Height())
	if err != nil {
		_ = src.Close()
		_ = os.Remove(outPath)
		return nil, fmt.Errorf("%w: %v", ErrUnwritableOutput, err)
	}

	written, detected, loopErr := p.processFrames(src, sink, eng.Infer, eng.Labels(), confidence)

	// Handles are released on both paths before the output is inspected.
	sinkErr := sink.Close()
	_ = src.Close()

	if loopErr != nil {
		_ = os.Remove(outPath)
		return nil, loopErr
	}
	if sinkErr != nil {
		_ = os.Remove(outPath)
		return nil, &ProcessingError{Stage: "finalize", Err: sinkErr}
	}

	info, statErr := os.Stat(outPath)
	if statErr != nil || info.Size() == 0 {
		_ = os.Remove(outPath)
		return nil, ErrEmptyOutput
	}

	slog.Info("Video processed",
		"model", modelID,
		"total_frames", written,
		"frames_detected", detected,
		"artifact", filename)

	return &VideoResult{
		Artifact:       Artifact{Filename: filename, Path: outPath, SizeBytes: info.Size()},
		TotalFrames:    written,
		FramesDetected: detected,
	}, nil
}

type inferFunc func(img image.Image, confidenceThreshold float64) ([]engine.Detection, error)

// processFrames iterates the source in order, annotating every FrameSkip-th
// frame and passing the rest through. Every frame is written, so output frame
// count equals input frame count. The loop is bounded by the source's
// reported total when it reports one, guarding against over-reporting
// sources.
func (p *VideoPipeline) processFrames(src frameSource, sink frameSink,
	infer inferFunc, labels []string, confidence float64,
) (written, detected int, err error) {
	total := src.TotalFrames()

	frame := gocv.NewMat()
	defer func() { _ = frame.Close() }()

	for {
		if total > 0 && written >= total {
			break
		}
		if !src.Read(&frame) {
			break
		}
		if frame.Empty() {
			continue
		}

		if written%p.cfg.FrameSkip == 0 {
			if err := p.annotateFrame(&frame, infer, labels, confidence); err != nil {
				return written, detected, err
			}
			detected++
		}

		if err := sink.Write(frame); err != nil {
			return written, detected, &ProcessingError{Stage: "encode", Err: err}
		}
		written++
	}

	return written, detected, nil
}

// annotateFrame runs inference on the frame and replaces its contents with
// the annotated rendering.
func (p *VideoPipeline) annotateFrame(frame *gocv.Mat, infer inferFunc, labels []string, confidence float64) error {
	img, err := frame.ToImage()
	if err != nil {
		return &ProcessingError{Stage: "decode", Err: err}
	}

	raw, err := infer(img, confidence)
	if err != nil {
		return &ProcessingError{Stage: "inference", Err: err}
	}

	records := detection.Normalize(raw, labels)
	if len(records) == 0 {
		return nil
	}

	annotated := p.annotator.Annotate(img, records)
	mat, err := gocv.ImageToMatRGB(annotated)
	if err != nil {
		return &ProcessingError{Stage: "annotate", Err: err}
	}
	defer func() { _ = mat.Close() }()

	mat.CopyTo(frame)
	return nil
}

// captureSource adapts gocv.VideoCapture to frameSource.
type captureSource struct {
	cap *gocv.VideoCapture
}

func openCaptureSource(path string) (frameSource, error) {
	cap, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, err
	}
	if !cap.IsOpened() {
		_ = cap.Close()
		return nil, fmt.Errorf("capture not opened for %s", path)
	}
	return &captureSource{cap: cap}, nil
}

func (s *captureSource) Read(dst *gocv.Mat) bool { return s.cap.Read(dst) }
func (s *captureSource) FPS() float64            { return s.cap.Get(gocv.VideoCaptureFPS) }
func (s *captureSource) Width() int              { return int(s.cap.Get(gocv.VideoCaptureFrameWidth)) }
func (s *captureSource) Height() int             { return int(s.cap.Get(gocv.VideoCaptureFrameHeight)) }
func (s *captureSource) TotalFrames() int        { return int(s.cap.Get(gocv.VideoCaptureFrameCount)) }
func (s *captureSource) Close() error            { return s.cap.Close() }

// writerSink adapts gocv.VideoWriter to frameSink.
type writerSink struct {
	writer *gocv.VideoWriter
}

func openWriterSink(path string, fps float64, width, height int) (frameSink, error) {
	if fps <= 0 {
		fps = 30
	}
	writer, err := gocv.VideoWriterFile(path, "mp4v", fps, width, height, true)
	if err != nil {
		return nil, err
	}
	if !writer.IsOpened() {
		_ = writer.Close()
		return nil, fmt.Errorf("writer not opened for %s", path)
	}
	return &writerSink{writer: writer}, nil
}

func (s *writerSink) Write(frame gocv.Mat) error { return s.writer.Write(frame) }
func (s *writerSink) Close() error               { return s.writer.Close() }
