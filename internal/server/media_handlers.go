package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/vigil/internal/modelcache"
	"github.com/MeKo-Tech/vigil/internal/models"
	"github.com/MeKo-Tech/vigil/internal/pipeline"
)

// DefaultModelID is used when a detect request does not name a model.
const DefaultModelID = models.YOLOv8Nano

// detectImageHandler processes image detection requests.
func (s *Server) detectImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, filename, modelID, confidence, ok := s.readUpload(w, r, "image")
	if !ok {
		detectRequestsTotal.WithLabelValues("image", "error").Inc()
		return
	}

	start := time.Now()
	result, err := s.imagePipeline.Process(data, modelID, confidence)
	if err != nil {
		detectRequestsTotal.WithLabelValues("image", "error").Inc()
		s.writePipelineError(w, err)
		return
	}
	elapsed := time.Since(start)

	detectRequestsTotal.WithLabelValues("image", "success").Inc()
	detectProcessingDuration.WithLabelValues("image").Observe(elapsed.Seconds())
	detectionsPerRequest.WithLabelValues("image").Observe(float64(len(result.Detections)))
	modelsLoaded.Set(float64(s.cache.Len()))

	response := ImageDetectionResponse{
		Success:          true,
		Detections:       result.Detections,
		ImageURL:         result.Artifact.URL(),
		OriginalFilename: filename,
		ModelUsed:        modelID,
		ImageSize:        fmt.Sprintf("%dx%d", result.Width, result.Height),
		ProcessingTime:   elapsed.Seconds(),
	}
	s.writeJSON(w, response)
}

// detectVideoHandler processes video detection requests.
func (s *Server) detectVideoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, filename, modelID, confidence, ok := s.readUpload(w, r, "video")
	if !ok {
		detectRequestsTotal.WithLabelValues("video", "error").Inc()
		return
	}

	start := time.Now()
	result, err := s.videoPipeline.Process(data, filename, modelID, confidence)
	if err != nil {
		detectRequestsTotal.WithLabelValues("video", "error").Inc()
		s.writePipelineError(w, err)
		return
	}
	elapsed := time.Since(start)

	detectRequestsTotal.WithLabelValues("video", "success").Inc()
	detectProcessingDuration.WithLabelValues("video").Observe(elapsed.Seconds())
	modelsLoaded.Set(float64(s.cache.Len()))

	response := VideoDetectionResponse{
		Success:          true,
		VideoURL:         result.Artifact.URL(),
		OriginalFilename: filename,
		ModelUsed:        modelID,
		TotalFrames:      result.TotalFrames,
		FramesDetected:   result.FramesDetected,
		ProcessingTime:   elapsed.Seconds(),
	}
	s.writeJSON(w, response)
}

// readUpload parses the multipart form shared by both detect endpoints and
// returns the file bytes plus the model and confidence parameters. The upload
// travels in the "file" form field; kind selects the accepted content-type
// family. On failure it writes the error response itself and returns ok=false.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, kind string) (
	data []byte, filename, modelID string, confidence float64, ok bool,
) {
	// Set content length limit
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)

	if err := r.ParseMultipartForm(s.maxUploadMB * 1024 * 1024); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
			return nil, "", "", 0, false
		}
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return nil, "", "", 0, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("No %s file provided", kind), http.StatusBadRequest)
		return nil, "", "", 0, false
	}
	defer func() { _ = file.Close() }()

	if header.Size > s.maxUploadMB*1024*1024 {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return nil, "", "", 0, false
	}
	if ct := header.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, kind+"/") && ct != "application/octet-stream" {
		s.writeErrorResponse(w, fmt.Sprintf("Unsupported content type for %s upload: %s", kind, ct),
			http.StatusBadRequest)
		return nil, "", "", 0, false
	}
	uploadSizeBytes.Observe(float64(header.Size))

	data, err = io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Failed to read %s data", kind), http.StatusInternalServerError)
		return nil, "", "", 0, false
	}

	modelID = r.FormValue("model")
	if modelID == "" {
		modelID = DefaultModelID
	}

	confidence = s.defaultConfidence
	if v := r.FormValue("confidence"); v != "" {
		parsed, parseErr := strconv.ParseFloat(v, 64)
		if parseErr != nil || parsed < 0 || parsed > 1 {
			s.writeErrorResponse(w, "Invalid confidence threshold", http.StatusBadRequest)
			return nil, "", "", 0, false
		}
		confidence = parsed
	}

	return data, header.Filename, modelID, confidence, true
}

// writePipelineError maps pipeline and cache errors onto HTTP statuses.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var unknownErr *modelcache.UnknownModelError
	var dimErr *pipeline.DimensionError
	var loadErr *modelcache.LoadError

	switch {
	case errors.As(err, &unknownErr):
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &dimErr):
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &loadErr):
		s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
	case errors.Is(err, pipeline.ErrUnreadableVideo),
		errors.Is(err, pipeline.ErrUnwritableOutput),
		errors.Is(err, pipeline.ErrEmptyOutput):
		s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
	default:
		s.writeErrorResponse(w, fmt.Sprintf("Detection failed: %v", err), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding response: %v\n", err)
	}
}
