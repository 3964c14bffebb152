package engine

import (
	"image"

	"github.com/MeKo-Tech/vigil/internal/models"
)

// Detection is a single raw box emitted by an engine for one frame.
// Coordinates are absolute pixels in the source frame's space, x1<=x2, y1<=y2.
type Detection struct {
	ClassIndex int
	Confidence float64
	X1, Y1     float64
	X2, Y2     float64
}

// Engine is the opaque object-detection capability bound to one model.
// Loading an engine is expensive (seconds); Infer is not.
type Engine interface {
	// Infer runs single-frame detection, discarding boxes below the
	// confidence threshold.
	Infer(img image.Image, confidenceThreshold float64) ([]Detection, error)

	// Labels returns the engine's class-index to label table.
	Labels() []string

	// Close releases the engine's resources.
	Close() error
}

// Loader creates engines from catalog descriptors.
type Loader interface {
	Load(desc models.Descriptor) (Engine, error)
}
