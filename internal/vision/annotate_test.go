package vision

import (
	"image"
	"strings"
	"testing"

	"github.com/your-org/visionguard/internal/models"
)

func TestOverlayLabelAbnormal(t *testing.T) {
	p := models.TrackedPerson{PersonID: 7, BBox: models.BBox{X: 10, Y: 10, W: 40, H: 80}}
	results := map[int]models.DetectionResult{7: {
		PersonID:       7,
		Score:          -2.61,
		IsAbnormal:     true,
		Classification: "Abnormal",
		Confidence:     models.ConfidenceMedium,
	}}

	label, c := overlayLabel(p, results)
	if c != colorAbnormal {
		t.Error("abnormal person should get the abnormal color")
	}
	for _, want := range []string{"person 7", "Abnormal", "-2.61", "MEDIUM"} {
		if !strings.Contains(label, want) {
			t.Errorf("label %q missing %q", label, want)
		}
	}
}

func TestOverlayLabelNormal(t *testing.T) {
	p := models.TrackedPerson{PersonID: 3}

	label, c := overlayLabel(p, nil)
	if c != colorNormal {
		t.Error("normal person should get the normal color")
	}
	if label != "person 3" {
		t.Errorf("label = %q, want %q", label, "person 3")
	}
}

func TestAnnotateDrawsOnCopy(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 64))
	persons := []models.TrackedPerson{{PersonID: 1, BBox: models.BBox{X: 5, Y: 5, W: 20, H: 30}}}

	out := Annotate(src, persons, nil)
	if out.Bounds() != src.Bounds() {
		t.Fatal("annotated frame must preserve bounds")
	}
	if &out.Pix[0] == &src.Pix[0] {
		t.Error("annotation must not mutate the source frame")
	}
}
