package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// Artifact is a persisted output file under the public serving root. It is
// either fully written and non-empty, or it does not exist.
type Artifact struct {
	Filename  string `json:"filename"`
	Path      string `json:"-"`
	SizeBytes int64  `json:"size_bytes"`
}

// URL returns the artifact's relative serving reference.
func (a Artifact) URL() string {
	return "/static/" + a.Filename
}

// newArtifactFilename generates an opaque random result filename with the
// given extension (including the dot). Random names keep concurrent requests
// from ever colliding on a filesystem path.
func newArtifactFilename(ext string) string {
	u := uuid.New()
	return fmt.Sprintf("result_%x%s", u[:], ext)
}

// newTempFilename generates a private staging filename for uploaded bytes,
// preserving the upload's extension so frame decoders can sniff the container.
func newTempFilename(dir, originalName string) string {
	u := uuid.New()
	return filepath.Join(dir, fmt.Sprintf("temp_%x%s", u[:], filepath.Ext(originalName)))
}
