package analysis

import (
	"math"
	"strings"

	domain "github.com/bryanwahyu/designlens/internal/domain/analysis"
)

// RegionUnknown is reported when feedback names no known UI region.
const RegionUnknown = "unknown"

const (
	confidenceInside  = 0.9
	confidenceOutside = 0.2
	confidenceUnknown = 0.3
)

// Rect is an axis-aligned region in percentage space, bounds inclusive.
type Rect struct {
	MinX, MaxX, MinY, MaxY float64
}

func (r Rect) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

func (r Rect) Center() domain.Point {
	return domain.Point{X: (r.MinX + r.MaxX) / 2, Y: (r.MinY + r.MaxY) / 2}
}

// RegionType is one UI-region vocabulary with the places it is expected on screen.
type RegionType struct {
	Name     string
	Keywords []string
	Regions  []Rect
}

// DefaultRegions is the heuristic table. Order matters: ties go to the
// earlier entry.
var DefaultRegions = []RegionType{
	{
		Name:     "navigation",
		Keywords: []string{"navigation", "navbar", "nav bar", "menu", "sidebar", "breadcrumb", "tab bar", "hamburger"},
		Regions:  []Rect{{0, 25, 0, 100}, {0, 100, 0, 15}},
	},
	{
		Name:     "header",
		Keywords: []string{"header", "top bar", "banner", "logo", "masthead"},
		Regions:  []Rect{{0, 100, 0, 20}},
	},
	{
		Name:     "button",
		Keywords: []string{"button", "cta", "call to action", "click", "submit", "tap target"},
		Regions:  []Rect{{5, 95, 10, 95}},
	},
	{
		Name:     "card",
		Keywords: []string{"card", "tile", "panel", "thumbnail"},
		Regions:  []Rect{{5, 95, 10, 90}},
	},
	{
		Name:     "footer",
		Keywords: []string{"footer", "copyright", "bottom bar"},
		Regions:  []Rect{{0, 100, 80, 100}},
	},
	{
		Name:     "form",
		Keywords: []string{"input", "text field", "form field", "dropdown", "checkbox", "login form", "signup form"},
		Regions:  []Rect{{10, 90, 15, 90}},
	},
}

// Validation is the verdict on one annotation's placement.
type Validation struct {
	Valid      bool
	Confidence float64
	RegionType string
	Suggested  *domain.Point
}

// CoordinateValidator checks annotation coordinates against the region a
// feedback text talks about. It is a heuristic: false positives are accepted
// in exchange for consistent placement.
type CoordinateValidator struct {
	Regions []RegionType
}

func NewCoordinateValidator() *CoordinateValidator {
	return &CoordinateValidator{Regions: DefaultRegions}
}

// DetectRegion picks the region type with the most keyword hits in feedback.
func (v *CoordinateValidator) DetectRegion(feedback string) (RegionType, bool) {
	text := strings.ToLower(feedback)
	best, bestHits := -1, 0
	for i, rt := range v.Regions {
		hits := 0
		for _, kw := range rt.Keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return RegionType{Name: RegionUnknown}, false
	}
	return v.Regions[best], true
}

func (v *CoordinateValidator) Validate(a domain.Annotation) Validation {
	rt, ok := v.DetectRegion(a.Feedback)
	if !ok || len(rt.Regions) == 0 {
		return Validation{Valid: true, Confidence: confidenceUnknown, RegionType: RegionUnknown}
	}
	x, y := clampPercent(a.X), clampPercent(a.Y)
	for _, r := range rt.Regions {
		if r.Contains(x, y) {
			return Validation{Valid: true, Confidence: confidenceInside, RegionType: rt.Name}
		}
	}
	best := nearestCenter(rt.Regions, x, y)
	return Validation{Valid: false, Confidence: confidenceOutside, RegionType: rt.Name, Suggested: &best}
}

// CorrectAll moves every invalid annotation to its suggested point. Nothing
// is dropped, the input slice is not modified, and a second pass is a no-op
// because every suggestion is the centre of an expected region. Annotations
// without provider coordinates are left alone: there is nothing to correct.
func (v *CoordinateValidator) CorrectAll(in []domain.Annotation) []domain.Annotation {
	out := make([]domain.Annotation, len(in))
	for i, a := range in {
		if !a.Located {
			out[i] = a
			continue
		}
		a.X, a.Y = clampPercent(a.X), clampPercent(a.Y)
		res := v.Validate(a)
		if !res.Valid && res.Suggested != nil {
			if a.OriginalCoordinates == nil {
				a.OriginalCoordinates = &domain.Point{X: a.X, Y: a.Y}
			}
			a.X, a.Y = clampPercent(res.Suggested.X), clampPercent(res.Suggested.Y)
			a.CorrectionApplied = true
		}
		out[i] = a
	}
	return out
}

func nearestCenter(regions []Rect, x, y float64) domain.Point {
	var best domain.Point
	bestDist := math.Inf(1)
	for _, r := range regions {
		c := r.Center()
		if d := math.Hypot(c.X-x, c.Y-y); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
