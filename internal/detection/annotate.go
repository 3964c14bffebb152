package detection

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Style controls how detections are rendered. A single fixed scheme is used
// for all classes.
type Style struct {
	BoxColor  color.Color
	Thickness int
	FontFace  font.Face
}

// DefaultStyle returns the standard annotation style.
func DefaultStyle() Style {
	return Style{
		BoxColor:  color.RGBA{0, 255, 0, 255},
		Thickness: 2,
		FontFace:  basicfont.Face7x13,
	}
}

// Annotator renders canonical detection records onto frames.
type Annotator struct {
	style Style
}

// NewAnnotator creates an annotator with the given style. Zero-value style
// fields fall back to the defaults.
func NewAnnotator(style Style) *Annotator {
	def := DefaultStyle()
	if style.BoxColor == nil {
		style.BoxColor = def.BoxColor
	}
	if style.Thickness < 1 {
		style.Thickness = def.Thickness
	}
	if style.FontFace == nil {
		style.FontFace = def.FontFace
	}
	return &Annotator{style: style}
}

// Annotate renders each record as a rectangle outline plus a class/confidence
// label into a fresh copy of the frame. The input image is never mutated.
// Records are drawn in their given order, so later boxes may overlay earlier
// ones where they overlap.
func (a *Annotator) Annotate(img image.Image, records []Record) *image.NRGBA {
	dst := imaging.Clone(img)

	for _, r := range records {
		rect := image.Rect(
			int(r.Box[0]+0.5), int(r.Box[1]+0.5),
			int(r.Box[2]+0.5), int(r.Box[3]+0.5),
		)
		drawRect(dst, rect, a.style.BoxColor, a.style.Thickness)
		a.drawLabel(dst, rect, fmt.Sprintf("%s %.2f", r.Class, r.Confidence))
	}

	return dst
}

// drawLabel renders the label text just above the box, or inside its top edge
// when the box touches the top of the frame.
func (a *Annotator) drawLabel(dst *image.NRGBA, box image.Rectangle, label string) {
	metrics := a.style.FontFace.Metrics()
	y := box.Min.Y - metrics.Descent.Ceil() - 2
	if y-metrics.Ascent.Ceil() < dst.Bounds().Min.Y {
		y = box.Min.Y + metrics.Ascent.Ceil() + 2
	}

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(a.style.BoxColor),
		Face: a.style.FontFace,
		Dot:  fixed.P(box.Min.X, y),
	}
	drawer.DrawString(label)
}
