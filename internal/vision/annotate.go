package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/your-org/visionguard/internal/models"
)

var (
	colorNormal   = color.RGBA{0, 200, 0, 255}
	colorAbnormal = color.RGBA{220, 30, 30, 255}
)

// Annotate draws person boxes and labels onto a copy of the frame. Abnormal
// persons get a red box with their score; everyone else green with their id.
func Annotate(img image.Image, persons []models.TrackedPerson, results map[int]models.DetectionResult) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	for _, p := range persons {
		label, c := overlayLabel(p, results)
		drawRect(out, p.BBox, c, 2)
		drawLabel(out, p.BBox.X+2, p.BBox.Y-4, label, c)
	}

	return out
}

// overlayLabel picks the box color and label text for one person. An
// abnormal person carries id, classification, score and confidence bucket.
func overlayLabel(p models.TrackedPerson, results map[int]models.DetectionResult) (string, color.RGBA) {
	if r, ok := results[p.PersonID]; ok && r.IsAbnormal {
		label := fmt.Sprintf("person %d %s %.2f %s",
			p.PersonID, r.Classification, r.Score, r.Confidence)
		return label, colorAbnormal
	}
	return fmt.Sprintf("person %d", p.PersonID), colorNormal
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) []byte {
	return encodeJPEG(img, quality)
}

func drawRect(img *image.RGBA, box models.BBox, c color.RGBA, thickness int) {
	for t := 0; t < thickness; t++ {
		x1, y1 := box.X+t, box.Y+t
		x2, y2 := box.X+box.W-t, box.Y+box.H-t
		for x := x1; x <= x2; x++ {
			setPixel(img, x, y1, c)
			setPixel(img, x, y2, c)
		}
		for y := y1; y <= y2; y++ {
			setPixel(img, x1, y, c)
			setPixel(img, x2, y, c)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
	if y < basicfont.Face7x13.Ascent {
		y = basicfont.Face7x13.Ascent
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}
