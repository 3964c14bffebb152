package pipeline

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/MeKo-Tech/vigil/internal/detection"
	"github.com/MeKo-Tech/vigil/internal/engine"
)

// fakeSource yields a fixed number of synthetic frames.
type fakeSource struct {
	frames   int
	reported int // reported total; may differ from frames actually yielded
	served   int
	closed   bool
}

func (s *fakeSource) Read(dst *gocv.Mat) bool {
	if s.served >= s.frames {
		return false
	}
	s.served++
	m := gocv.NewMatWithSize(32, 48, gocv.MatTypeCV8UC3)
	defer func() { _ = m.Close() }()
	m.CopyTo(dst)
	return true
}

func (s *fakeSource) FPS() float64     { return 24 }
func (s *fakeSource) Width() int       { return 48 }
func (s *fakeSource) Height() int      { return 32 }
func (s *fakeSource) TotalFrames() int { return s.reported }
func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// fakeSink appends one byte per frame to the output path so the pipeline's
// non-empty check sees a real file.
type fakeSink struct {
	file    *os.File
	written int
}

func newFakeSink(path string) (*fakeSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fakeSink{file: f}, nil
}

func (s *fakeSink) Write(gocv.Mat) error {
	s.written++
	_, err := s.file.Write([]byte{0})
	return err
}

func (s *fakeSink) Close() error { return s.file.Close() }

func newTestVideoPipeline(t *testing.T, eng *stubEngine, src *fakeSource) (*VideoPipeline, Config, *fakeSink) {
	t.Helper()
	cfg := testImageConfig(t)

	p := NewVideoPipeline(newTestCache(eng), detection.NewAnnotator(detection.DefaultStyle()), cfg)
	p.openSource = func(path string) (frameSource, error) {
		assert.FileExists(t, path)
		return src, nil
	}

	sink := &fakeSink{}
	p.openSink = func(path string, fps float64, width, height int) (frameSink, error) {
		assert.InDelta(t, 24, fps, 1e-9)
		assert.Equal(t, 48, width)
		assert.Equal(t, 32, height)
		created, err := newFakeSink(path)
		if err != nil {
			return nil, err
		}
		*sink = *created
		return sink, nil
	}
	return p, cfg, sink
}

func TestVideoProcessFrameSkip(t *testing.T) {
	eng := &stubEngine{
		labels: []string{"person"},
		detections: []engine.Detection{
			{ClassIndex: 0, Confidence: 0.9, X1: 2, Y1: 2, X2: 20, Y2: 20},
		},
	}
	src := &fakeSource{frames: 10, reported: 10}
	p, cfg, sink := newTestVideoPipeline(t, eng, src)

	result, err := p.Process([]byte("container-bytes"), "clip.mp4", "alpha", 0.25)
	require.NoError(t, err)

	assert.Equal(t, 10, result.TotalFrames)
	// Detection ran on frames 0, 3, 6, 9.
	assert.Equal(t, 4, result.FramesDetected)
	assert.Equal(t, int64(4), eng.inferCalls.Load())
	// Every frame is written, detected or not.
	assert.Equal(t, 10, sink.written)

	assert.FileExists(t, result.Artifact.Path)
	assert.Positive(t, result.Artifact.SizeBytes)
	assert.True(t, src.closed)

	// The staged upload is removed on success.
	assertDirEmpty(t, cfg.TempDir)
}

func TestVideoProcessBoundedByReportedTotal(t *testing.T) {
	eng := &stubEngine{labels: []string{"person"}}
	// Source over-reports nothing here; it reports fewer frames than it could
	// yield, and the loop must stop at the reported count.
	src := &fakeSource{frames: 10, reported: 5}
	p, _, sink := newTestVideoPipeline(t, eng, src)

	result, err := p.Process([]byte("container-bytes"), "clip.mp4", "alpha", 0.25)
	require.NoError(t, err)

	assert.Equal(t, 5, result.TotalFrames)
	assert.Equal(t, 5, sink.written)
}

func TestVideoProcessUnreadableSource(t *testing.T) {
	eng := &stubEngine{labels: []string{"person"}}
	cfg := testImageConfig(t)
	p := NewVideoPipeline(newTestCache(eng), detection.NewAnnotator(detection.DefaultStyle()), cfg)
	p.openSource = func(string) (frameSource, error) {
		return nil, errors.New("bad container")
	}

	_, err := p.Process([]byte("junk"), "clip.mp4", "alpha", 0.25)
	require.ErrorIs(t, err, ErrUnreadableVideo)

	assertDirEmpty(t, cfg.TempDir)
	assertDirEmpty(t, cfg.StaticDir)
}

func TestVideoProcessUnwritableOutput(t *testing.T) {
	eng := &stubEngine{labels: []string{"person"}}
	src := &fakeSource{frames: 3, reported: 3}
	cfg := testImageConfig(t)
	p := NewVideoPipeline(newTestCache(eng), detection.NewAnnotator(detection.DefaultStyle()), cfg)
	p.openSource = func(string) (frameSource, error) { return src, nil }
	p.openSink = func(string, float64, int, int) (frameSink, error) {
		return nil, errors.New("no codec")
	}

	_, err := p.Process([]byte("container-bytes"), "clip.mp4", "alpha", 0.25)
	require.ErrorIs(t, err, ErrUnwritableOutput)

	assert.True(t, src.closed)
	assertDirEmpty(t, cfg.TempDir)
	assertDirEmpty(t, cfg.StaticDir)
}

func TestVideoProcessEmptyOutput(t *testing.T) {
	eng := &stubEngine{labels: []string{"person"}}
	src := &fakeSource{frames: 0, reported: 0}
	cfg := testImageConfig(t)
	p := NewVideoPipeline(newTestCache(eng), detection.NewAnnotator(detection.DefaultStyle()), cfg)
	p.openSource = func(string) (frameSource, error) { return src, nil }
	p.openSink = func(path string, fps float64, width, height int) (frameSink, error) {
		return newFakeSink(path)
	}

	// No frames ever written, so the output file stays empty.
	_, err := p.Process([]byte("container-bytes"), "clip.mp4", "alpha", 0.25)
	require.ErrorIs(t, err, ErrEmptyOutput)

	assertDirEmpty(t, cfg.TempDir)
	assertDirEmpty(t, cfg.StaticDir)
}

func TestVideoProcessUnknownModel(t *testing.T) {
	eng := &stubEngine{labels: []string{"person"}}
	cfg := testImageConfig(t)
	p := NewVideoPipeline(newTestCache(eng), detection.NewAnnotator(detection.DefaultStyle()), cfg)
	p.openSource = func(string) (frameSource, error) {
		t.Fatal("source must not be opened for an unknown model")
		return nil, nil
	}

	_, err := p.Process([]byte("container-bytes"), "clip.mp4", "missing", 0.25)
	require.Error(t, err)
	assertDirEmpty(t, cfg.TempDir)
}

func TestVideoProcessInferenceFailureCleansUp(t *testing.T) {
	eng := &stubEngine{labels: []string{"person"}, inferErr: errors.New("session lost")}
	src := &fakeSource{frames: 5, reported: 5}
	cfg := testImageConfig(t)
	p := NewVideoPipeline(newTestCache(eng), detection.NewAnnotator(detection.DefaultStyle()), cfg)
	p.openSource = func(string) (frameSource, error) { return src, nil }
	p.openSink = func(path string, fps float64, width, height int) (frameSink, error) {
		return newFakeSink(path)
	}

	_, err := p.Process([]byte("container-bytes"), "clip.mp4", "alpha", 0.25)
	var procErr *ProcessingError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, "inference", procErr.Stage)

	assert.True(t, src.closed)
	assertDirEmpty(t, cfg.TempDir)
	assertDirEmpty(t, cfg.StaticDir)
}
