package detection

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/vigil/internal/testutil"
)

func TestAnnotateDoesNotMutateInput(t *testing.T) {
	src := testutil.NewTestImage(64, 64, color.NRGBA{10, 20, 30, 255})
	before := make([]uint8, len(src.Pix))
	copy(before, src.Pix)

	annotator := NewAnnotator(DefaultStyle())
	out := annotator.Annotate(src, []Record{
		{Class: "person", Confidence: 0.9, Box: [4]float64{8, 8, 40, 40}},
	})

	require.NotNil(t, out)
	assert.Equal(t, before, src.Pix)
}

func TestAnnotateDrawsBox(t *testing.T) {
	src := testutil.NewTestImage(64, 64, color.NRGBA{0, 0, 0, 255})

	annotator := NewAnnotator(DefaultStyle())
	out := annotator.Annotate(src, []Record{
		{Class: "person", Confidence: 0.9, Box: [4]float64{10, 20, 50, 60}},
	})

	// Top-left corner of the outline carries the box color.
	r, g, b, _ := out.At(10, 20).RGBA()
	assert.Equal(t, uint32(0), r>>8)
	assert.Equal(t, uint32(255), g>>8)
	assert.Equal(t, uint32(0), b>>8)

	// A pixel inside the box interior remains untouched.
	r, g, b, _ = out.At(30, 40).RGBA()
	assert.Equal(t, uint32(0), r>>8)
	assert.Equal(t, uint32(0), g>>8)
	assert.Equal(t, uint32(0), b>>8)
}

func TestAnnotateNoRecords(t *testing.T) {
	src := testutil.NewTestImage(16, 16, color.NRGBA{50, 60, 70, 255})

	out := NewAnnotator(DefaultStyle()).Annotate(src, nil)
	require.NotNil(t, out)
	assert.Equal(t, src.Bounds(), out.Bounds())
	assert.Equal(t, src.Pix, out.Pix)
}

func TestNewAnnotatorZeroStyleFallsBack(t *testing.T) {
	a := NewAnnotator(Style{})
	def := DefaultStyle()
	assert.Equal(t, def.BoxColor, a.style.BoxColor)
	assert.Equal(t, def.Thickness, a.style.Thickness)
	assert.NotNil(t, a.style.FontFace)
}

func TestDrawRectClampsToBounds(t *testing.T) {
	dst := image.NewNRGBA(image.Rect(0, 0, 32, 32))

	// A rectangle partially outside the frame must not panic.
	drawRect(dst, image.Rect(-10, -10, 16, 16), color.NRGBA{0, 255, 0, 255}, 2)

	_, g, _, _ := dst.At(0, 15).RGBA()
	assert.Equal(t, uint32(255), g>>8)
}
