package server

import (
	"net/http"

	"github.com/MeKo-Tech/vigil/internal/detection"
	"github.com/MeKo-Tech/vigil/internal/modelcache"
	"github.com/MeKo-Tech/vigil/internal/models"
	"github.com/MeKo-Tech/vigil/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// imageProcessor defines what the server needs from the image pipeline.
type imageProcessor interface {
	Process(data []byte, modelID string, confidence float64) (*pipeline.ImageResult, error)
}

// videoProcessor defines what the server needs from the video pipeline.
type videoProcessor interface {
	Process(data []byte, originalName, modelID string, confidence float64) (*pipeline.VideoResult, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	catalog           *models.Catalog
	cache             *modelcache.Cache
	imagePipeline     imageProcessor
	videoPipeline     videoProcessor
	corsOrigin        string
	maxUploadMB       int64
	defaultConfidence float64
	staticDir         string
}

// Config holds server configuration.
type Config struct {
	CORSOrigin        string
	MaxUploadMB       int64
	DefaultConfidence float64
	StaticDir         string
}

// Response types for API endpoints.
type HealthResponse struct {
	Status       string `json:"status"`
	Time         string `json:"time"`
	ModelsLoaded int    `json:"models_loaded"`
}

type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        string `json:"size"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
}

type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	Count  int         `json:"count"`
}

type LoadedModelsResponse struct {
	Models []modelcache.LoadedModel `json:"models"`
	Count  int                      `json:"count"`
}

type ImageDetectionResponse struct {
	Success          bool               `json:"success"`
	Detections       []detection.Record `json:"detections"`
	ImageURL         string             `json:"image_url"`
	OriginalFilename string             `json:"original_filename"`
	ModelUsed        string             `json:"model_used"`
	ImageSize        string             `json:"image_size"`
	ProcessingTime   float64            `json:"processing_time"`
}

type VideoDetectionResponse struct {
	Success          bool    `json:"success"`
	VideoURL         string  `json:"video_url"`
	OriginalFilename string  `json:"original_filename"`
	ModelUsed        string  `json:"model_used"`
	TotalFrames      int     `json:"total_frames"`
	FramesDetected   int     `json:"frames_detected"`
	ProcessingTime   float64 `json:"processing_time"`
}

type VideoStatusResponse struct {
	Ready    bool   `json:"ready"`
	Filename string `json:"filename"`
	Size     int64  `json:"size,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer creates a detection server over the shared model cache and
// pipelines.
func NewServer(config Config, catalog *models.Catalog, cache *modelcache.Cache,
	imagePipeline imageProcessor, videoPipeline videoProcessor,
) *Server {
	return &Server{
		catalog:           catalog,
		cache:             cache,
		imagePipeline:     imagePipeline,
		videoPipeline:     videoPipeline,
		corsOrigin:        config.CORSOrigin,
		maxUploadMB:       config.MaxUploadMB,
		defaultConfidence: config.DefaultConfidence,
		staticDir:         config.StaticDir,
	}
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/api/models", s.corsMiddleware(s.modelsHandler))
	mux.HandleFunc("/api/models/", s.corsMiddleware(s.modelHandler))
	mux.HandleFunc("/api/detect/image", s.corsMiddleware(s.detectImageHandler))
	mux.HandleFunc("/api/detect/video", s.corsMiddleware(s.detectVideoHandler))
	mux.HandleFunc("/api/video/status/", s.corsMiddleware(s.videoStatusHandler))
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	mux.Handle("/metrics", promhttp.Handler())
}
