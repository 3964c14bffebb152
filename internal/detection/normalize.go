// Package detection converts raw engine output into a canonical detection
// schema and renders annotations onto frames.
package detection

import (
	"fmt"
	"sort"

	"github.com/MeKo-Tech/vigil/internal/engine"
)

// Record is one canonical detected object, independent of the source engine's
// native output shape. The box is [x1, y1, x2, y2] in pixel space.
type Record struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"bbox"`
}

// Normalize converts raw engine detections into canonical records, resolving
// class indices against the engine's label table. Indices without a label get
// a synthesized class_<index> name. The result is ordered by confidence
// descending with ties keeping the engine's emission order.
func Normalize(raw []engine.Detection, labels []string) []Record {
	records := make([]Record, 0, len(raw))
	for _, d := range raw {
		records = append(records, Record{
			Class:      labelFor(d.ClassIndex, labels),
			Confidence: d.Confidence,
			Box:        [4]float64{d.X1, d.Y1, d.X2, d.Y2},
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Confidence > records[j].Confidence
	})

	return records
}

func labelFor(index int, labels []string) string {
	if index >= 0 && index < len(labels) {
		return labels[index]
	}
	return fmt.Sprintf("class_%d", index)
}
