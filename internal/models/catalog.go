package models

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Model identifier constants to avoid typos and ensure consistency.
const (
	YOLOv8Nano   = "yolov8n"
	YOLOv8Small  = "yolov8s"
	YOLOv8Medium = "yolov8m"
	YOLOv8Large  = "yolov8l"
)

// Default models cache directory.
const DefaultModelsDir = "models"

// Environment variable for models directory override.
const EnvModelsDir = "VIGIL_MODELS_DIR"

// Descriptor contains static metadata about a detection model.
// Descriptors are defined at startup and never mutated.
type Descriptor struct {
	ID          string
	Name        string
	Size        string
	Description string
	Filename    string
}

// Catalog maps model identifiers to their descriptors.
type Catalog struct {
	byID  map[string]Descriptor
	order []string
}

// NewCatalog builds a catalog from the given descriptors. Later entries with
// a duplicate ID replace earlier ones.
func NewCatalog(descriptors []Descriptor) *Catalog {
	c := &Catalog{byID: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if _, exists := c.byID[d.ID]; !exists {
			c.order = append(c.order, d.ID)
		}
		c.byID[d.ID] = d
	}
	return c
}

// DefaultCatalog returns the built-in YOLOv8 model catalog.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Descriptor{
		{
			ID:          YOLOv8Nano,
			Name:        "YOLOv8 Nano",
			Size:        "3.2MB",
			Description: "Fastest, least accurate - ideal for edge devices",
			Filename:    "yolov8n.onnx",
		},
		{
			ID:          YOLOv8Small,
			Name:        "YOLOv8 Small",
			Size:        "11.2MB",
			Description: "Good balance between speed and accuracy",
			Filename:    "yolov8s.onnx",
		},
		{
			ID:          YOLOv8Medium,
			Name:        "YOLOv8 Medium",
			Size:        "25.9MB",
			Description: "Higher accuracy with moderate speed",
			Filename:    "yolov8m.onnx",
		},
		{
			ID:          YOLOv8Large,
			Name:        "YOLOv8 Large",
			Size:        "43.7MB",
			Description: "Maximum accuracy, slower processing",
			Filename:    "yolov8l.onnx",
		},
	})
}

// Get returns the descriptor for the given model identifier.
func (c *Catalog) Get(id string) (Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Has reports whether the catalog contains the given model identifier.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// List returns all descriptors in their registration order.
func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// IDs returns all model identifiers sorted lexicographically.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetModelsDir returns the models cache directory path from various sources
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}

	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}

	return DefaultModelsDir
}

// WeightsPath resolves a descriptor's weight file location under the models
// cache directory.
func WeightsPath(modelsDir string, d Descriptor) string {
	return filepath.Join(GetModelsDir(modelsDir), d.Filename)
}

// WeightsCached reports whether the descriptor's weight file is already
// present in the cache directory.
func WeightsCached(modelsDir string, d Descriptor) bool {
	info, err := os.Stat(WeightsPath(modelsDir, d))
	return err == nil && info.Size() > 0
}

// ValidateWeightsExist checks that a weight file exists at the given path.
func ValidateWeightsExist(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("model weights not found: %s", path)
	}
	return nil
}
