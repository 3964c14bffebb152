package engine

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/vigil/internal/mempool"
	"github.com/MeKo-Tech/vigil/internal/models"
)

const (
	// yoloInputSize is the square input resolution the YOLOv8 exports use.
	yoloInputSize = 640

	// yoloBoxChannels is the number of box coordinate channels (cx, cy, w, h)
	// preceding the per-class scores in the model output.
	yoloBoxChannels = 4

	// yoloIoUThreshold is the IoU threshold for non-maximum suppression.
	yoloIoUThreshold = 0.45
)

// LoaderConfig configures the ONNX engine loader.
type LoaderConfig struct {
	ModelsDir  string
	BaseURL    string
	NumThreads int
	GPU        GPUConfig
}

// DefaultLoaderConfig returns a default loader configuration.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		ModelsDir:  models.GetModelsDir(""),
		BaseURL:    DefaultWeightsBaseURL,
		NumThreads: 0,
		GPU:        DefaultGPUConfig(),
	}
}

// ONNXLoader loads YOLOv8 detection engines backed by ONNX Runtime.
type ONNXLoader struct {
	cfg LoaderConfig
}

// NewONNXLoader creates a loader with the given configuration.
func NewONNXLoader(cfg LoaderConfig) *ONNXLoader {
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = models.GetModelsDir("")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWeightsBaseURL
	}
	return &ONNXLoader{cfg: cfg}
}

// Load resolves the descriptor's weights from the cache directory, fetching
// and persisting them if absent, then initializes an inference session on the
// best available execution device.
func (l *ONNXLoader) Load(desc models.Descriptor) (Engine, error) {
	weightsPath := models.WeightsPath(l.cfg.ModelsDir, desc)

	if err := models.ValidateWeightsExist(weightsPath); err != nil {
		if fetchErr := fetchWeights(l.cfg.BaseURL, desc.Filename, weightsPath); fetchErr != nil {
			return nil, fetchErr
		}
	}

	if err := setupRuntime(l.cfg.GPU.Enabled); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model %s: %w", weightsPath, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected model signature: %d inputs, %d outputs", len(inputs), len(outputs))
	}

	session, err := l.createSession(weightsPath, inputs[0].Name, outputs[0].Name)
	if err != nil {
		return nil, err
	}

	slog.Info("Inference engine initialized",
		"model", desc.ID,
		"weights", weightsPath,
		"gpu_enabled", l.cfg.GPU.Enabled)

	return &yoloEngine{
		session: session,
		labels:  COCOLabels(),
	}, nil
}

func (l *ONNXLoader) createSession(modelPath, inputName, outputName string,
) (*onnxruntime_go.DynamicAdvancedSession, error) {
	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to destroy session options: %v\n", err)
		}
	}()

	if err := configureSessionForGPU(opts, l.cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}

	if l.cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(l.cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(modelPath,
		[]string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return session, nil
}

// yoloEngine runs YOLOv8 single-frame inference through an ONNX session.
type yoloEngine struct {
	mu      sync.Mutex
	session *onnxruntime_go.DynamicAdvancedSession
	labels  []string
}

// letterbox describes the resize-and-pad transform from source frame space
// into the model's square input space.
type letterbox struct {
	scale      float64
	padX, padY float64
	srcW, srcH int
}

func (e *yoloEngine) Labels() []string {
	return e.labels
}

func (e *yoloEngine) Infer(img image.Image, confidenceThreshold float64) ([]Detection, error) {
	if img == nil {
		return nil, errors.New("nil input frame")
	}

	data, lb := preprocess(img)
	defer mempool.PutFloat32(data)

	inputTensor, err := onnxruntime_go.NewTensor(
		onnxruntime_go.NewShape(1, 3, yoloInputSize, yoloInputSize), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "Error destroying input tensor: %v\n", err)
		}
	}()

	e.mu.Lock()
	session := e.session
	if session == nil {
		e.mu.Unlock()
		return nil, errors.New("engine is closed")
	}
	outputs := []onnxruntime_go.Value{nil}
	err = session.Run([]onnxruntime_go.Value{inputTensor}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "Error destroying output tensor: %v\n", err)
		}
	}()

	outTensor, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("expected float32 output tensor, got %T", outputs[0])
	}

	return decode(outTensor.GetData(), outTensor.GetShape(), len(e.labels), confidenceThreshold, lb)
}

func (e *yoloEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to destroy inference session: %v\n", err)
		}
		e.session = nil
	}
	return nil
}

// preprocess letterboxes the frame into the model input square and returns the
// normalized NCHW float32 data plus the transform for mapping boxes back.
func preprocess(img image.Image) ([]float32, letterbox) {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()

	scale := math.Min(float64(yoloInputSize)/float64(srcW), float64(yoloInputSize)/float64(srcH))
	scaledW := int(math.Round(float64(srcW) * scale))
	scaledH := int(math.Round(float64(srcH) * scale))
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}

	resized := imaging.Resize(img, scaledW, scaledH, imaging.Linear)
	canvas := imaging.New(yoloInputSize, yoloInputSize, image.Black)
	padX := (yoloInputSize - scaledW) / 2
	padY := (yoloInputSize - scaledH) / 2
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	// Returned to the pool by the caller once the input tensor is destroyed.
	data := mempool.GetFloat32(3 * yoloInputSize * yoloInputSize)
	plane := yoloInputSize * yoloInputSize
	for y := 0; y < yoloInputSize; y++ {
		for x := 0; x < yoloInputSize; x++ {
			i := canvas.PixOffset(x, y)
			idx := y*yoloInputSize + x
			data[idx] = float32(canvas.Pix[i]) / 255.0
			data[plane+idx] = float32(canvas.Pix[i+1]) / 255.0
			data[2*plane+idx] = float32(canvas.Pix[i+2]) / 255.0
		}
	}

	return data, letterbox{
		scale: scale,
		padX:  float64(padX),
		padY:  float64(padY),
		srcW:  srcW,
		srcH:  srcH,
	}
}

// decode converts the raw [1, 4+classes, anchors] output into detections in
// source frame space, filtered by confidence and de-duplicated with NMS.
func decode(data []float32, shape []int64, numClasses int, confThreshold float64,
	lb letterbox,
) ([]Detection, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("unexpected output rank: %v", shape)
	}
	channels := int(shape[1])
	anchors := int(shape[2])
	if channels != yoloBoxChannels+numClasses {
		return nil, fmt.Errorf("unexpected output channels: got %d, want %d", channels, yoloBoxChannels+numClasses)
	}
	if len(data) < channels*anchors {
		return nil, fmt.Errorf("output tensor too small: %d values for %dx%d", len(data), channels, anchors)
	}

	at := func(channel, anchor int) float64 {
		return float64(data[channel*anchors+anchor])
	}

	var candidates []Detection
	for i := 0; i < anchors; i++ {
		classIndex := -1
		best := 0.0
		for c := 0; c < numClasses; c++ {
			if score := at(yoloBoxChannels+c, i); score > best {
				best = score
				classIndex = c
			}
		}
		if classIndex < 0 || best < confThreshold {
			continue
		}

		cx, cy := at(0, i), at(1, i)
		w, h := at(2, i), at(3, i)

		// Map from letterboxed input space back to source pixels.
		x1 := (cx - w/2 - lb.padX) / lb.scale
		y1 := (cy - h/2 - lb.padY) / lb.scale
		x2 := (cx + w/2 - lb.padX) / lb.scale
		y2 := (cy + h/2 - lb.padY) / lb.scale

		x1 = clamp(x1, 0, float64(lb.srcW))
		y1 = clamp(y1, 0, float64(lb.srcH))
		x2 = clamp(x2, 0, float64(lb.srcW))
		y2 = clamp(y2, 0, float64(lb.srcH))
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		candidates = append(candidates, Detection{
			ClassIndex: classIndex,
			Confidence: best,
			X1:         x1,
			Y1:         y1,
			X2:         x2,
			Y2:         y2,
		})
	}

	return nonMaxSuppression(candidates, yoloIoUThreshold), nil
}

// nonMaxSuppression performs class-aware greedy NMS, keeping the highest
// confidence box among mutually overlapping ones.
func nonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) <= 1 {
		return dets
	}

	indices := make([]int, len(dets))
	for i := range indices {
		indices[i] = i
	}
	// Sort indices by confidence (descending), stable on input order.
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && dets[indices[j]].Confidence > dets[indices[j-1]].Confidence; j-- {
			indices[j], indices[j-1] = indices[j-1], indices[j]
		}
	}

	suppressed := mempool.GetBool(len(dets))
	defer mempool.PutBool(suppressed)
	kept := make([]Detection, 0, len(dets))
	for _, a := range indices {
		if suppressed[a] {
			continue
		}
		kept = append(kept, dets[a])
		for _, b := range indices {
			if suppressed[b] || a == b {
				continue
			}
			if dets[a].ClassIndex != dets[b].ClassIndex {
				continue
			}
			if iou(dets[a], dets[b]) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}

func iou(a, b Detection) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	iw := math.Max(0, ix2-ix1)
	ih := math.Max(0, iy2-iy1)
	inter := iw * ih
	if inter <= 0 {
		return 0
	}

	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
