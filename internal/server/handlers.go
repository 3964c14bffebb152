package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:       "healthy",
		Time:         time.Now().UTC().Format(time.RFC3339),
		ModelsLoaded: s.cache.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding health response: %v\n", err)
	}
}

// modelsHandler returns information about available models.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	descriptors := s.catalog.List()
	modelList := make([]ModelInfo, len(descriptors))
	for i, desc := range descriptors {
		modelList[i] = ModelInfo{
			ID:          desc.ID,
			Name:        desc.Name,
			Size:        desc.Size,
			Description: desc.Description,
			Filename:    desc.Filename,
		}
	}

	response := ModelsResponse{
		Models: modelList,
		Count:  len(modelList),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding models response: %v\n", err)
	}
}

// modelHandler dispatches /api/models/ subpaths: the loaded-model listing and
// per-model unload.
func (s *Server) modelHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/models/")
	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}

	if rest == "loaded" {
		s.loadedModelsHandler(w, r)
		return
	}

	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.unloadModelHandler(w, r, rest)
}

// loadedModelsHandler returns the models currently held in the cache.
func (s *Server) loadedModelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	loaded := s.cache.Snapshot()
	modelsLoaded.Set(float64(len(loaded)))

	response := LoadedModelsResponse{
		Models: loaded,
		Count:  len(loaded),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding loaded models response: %v\n", err)
	}
}

// unloadModelHandler evicts a single model from the cache. Unloading a known
// model that is not loaded succeeds; only identifiers missing from the catalog
// are rejected.
func (s *Server) unloadModelHandler(w http.ResponseWriter, _ *http.Request, id string) {
	if !s.catalog.Has(id) {
		s.writeErrorResponse(w, fmt.Sprintf("Unknown model: %s", id), http.StatusNotFound)
		return
	}

	s.cache.Unload(id)
	modelsLoaded.Set(float64(s.cache.Len()))
	w.WriteHeader(http.StatusNoContent)
}

// videoStatusHandler reports whether a processed video artifact exists and is
// ready to serve.
func (s *Server) videoStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/video/status/")
	// Reject anything that could escape the static directory.
	if filename == "" || filename != path.Base(filename) || strings.HasPrefix(filename, ".") {
		s.writeErrorResponse(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	response := VideoStatusResponse{Filename: filename}
	if info, err := os.Stat(filepath.Join(s.staticDir, filename)); err == nil && info.Size() > 0 {
		response.Ready = true
		response.Size = info.Size()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding video status response: %v\n", err)
	}
}

// writeErrorResponse writes a JSON error envelope with the given status.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Success: false, Error: message}); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding error response: %v\n", err)
	}
}
