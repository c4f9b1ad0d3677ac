package video

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/twpayne/go-polyline"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/stridecast/server/pkg/types"
)

// Renderer turns a run into a shareable artifact.
type Renderer interface {
	Render(run *types.Run) (*Artifact, error)
}

// Artifact is a rendered document ready for the blob store.
type Artifact struct {
	ContentType string
	Data        []byte
}

// SVGRenderer emits a portrait animated SVG: the route traced over the
// clip duration with start/end markers and a stats card. Runs without a
// route (treadmill imports) still render the stats card.
type SVGRenderer struct {
	Width    int
	Height   int
	Duration time.Duration

	printer *message.Printer
}

func NewSVGRenderer() *SVGRenderer {
	return &SVGRenderer{
		Width:    1080,
		Height:   1920,
		Duration: 10 * time.Second,
		printer:  message.NewPrinter(language.English),
	}
}

type point struct {
	x, y float64
}

func (r *SVGRenderer) Render(run *types.Run) (*Artifact, error) {
	var coords []point
	if run.Polyline != nil && *run.Polyline != "" {
		decoded, _, err := polyline.DecodeCoords([]byte(*run.Polyline))
		if err != nil {
			return nil, fmt.Errorf("decode polyline: %w", err)
		}
		coords = r.project(decoded)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		r.Width, r.Height, r.Width, r.Height)
	b.WriteString(`<defs><linearGradient id="bg" x1="0" y1="0" x2="1" y2="1">` +
		`<stop offset="0%" stop-color="#667eea"/><stop offset="100%" stop-color="#764ba2"/>` +
		`</linearGradient></defs>`)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#1a1a1a"/>`, r.Width, r.Height)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="url(#bg)" opacity="0.3"/>`, r.Width, r.Height)

	if len(coords) >= 2 {
		r.writeRoute(&b, coords)
	}
	r.writeCaptions(&b, run)

	b.WriteString(`</svg>`)
	return &Artifact{ContentType: "image/svg+xml", Data: []byte(b.String())}, nil
}

// project maps lat/lng pairs into screen space, centered and scaled so
// the route fits the viewport.
func (r *SVGRenderer) project(decoded [][]float64) []point {
	if len(decoded) == 0 {
		return nil
	}
	minLat, maxLat := decoded[0][0], decoded[0][0]
	minLng, maxLng := decoded[0][1], decoded[0][1]
	for _, c := range decoded {
		minLat = math.Min(minLat, c[0])
		maxLat = math.Max(maxLat, c[0])
		minLng = math.Min(minLng, c[1])
		maxLng = math.Max(maxLng, c[1])
	}
	centerLat := (minLat + maxLat) / 2
	centerLng := (minLng + maxLng) / 2

	// ~111km per degree; the 10000 factor leaves margin around the route.
	latRange := maxLat - minLat
	lngRange := maxLng - minLng
	scale := math.Min(
		float64(r.Width)/(lngRange*111000),
		float64(r.Height)/(latRange*111000),
	) * 10000
	if math.IsInf(scale, 0) || math.IsNaN(scale) {
		scale = 0
	}

	pts := make([]point, len(decoded))
	for i, c := range decoded {
		pts[i] = point{
			x: (c[1]-centerLng)*scale + float64(r.Width)/2,
			y: -(c[0]-centerLat)*scale + float64(r.Height)/2,
		}
	}
	return pts
}

func (r *SVGRenderer) writeRoute(b *strings.Builder, coords []point) {
	var pathLen float64
	for i := 1; i < len(coords); i++ {
		pathLen += math.Hypot(coords[i].x-coords[i-1].x, coords[i].y-coords[i-1].y)
	}

	points := make([]string, len(coords))
	for i, p := range coords {
		points[i] = fmt.Sprintf("%.1f,%.1f", p.x, p.y)
	}
	joined := strings.Join(points, " ")

	// Full route, faint.
	fmt.Fprintf(b, `<polyline points="%s" fill="none" stroke="rgba(255,255,255,0.3)" stroke-width="6"/>`, joined)

	// Progress trace: dash offset animates from the full path length to
	// zero, revealing the route over the clip duration.
	secs := r.Duration.Seconds()
	fmt.Fprintf(b,
		`<polyline points="%s" fill="none" stroke="#FF4500" stroke-width="8" stroke-linecap="round" stroke-linejoin="round" stroke-dasharray="%.1f" stroke-dashoffset="%.1f">`+
			`<animate attributeName="stroke-dashoffset" from="%.1f" to="0" dur="%.1fs" fill="freeze"/>`+
			`</polyline>`,
		joined, pathLen, pathLen, pathLen, secs)

	// Current position marker follows the route.
	var path strings.Builder
	fmt.Fprintf(&path, "M %.1f %.1f", coords[0].x, coords[0].y)
	for _, p := range coords[1:] {
		fmt.Fprintf(&path, " L %.1f %.1f", p.x, p.y)
	}
	fmt.Fprintf(b,
		`<circle r="12" fill="#3B82F6" stroke="white" stroke-width="4">`+
			`<animateMotion dur="%.1fs" fill="freeze" path="%s"/>`+
			`</circle>`,
		secs, path.String())

	start, end := coords[0], coords[len(coords)-1]
	fmt.Fprintf(b, `<circle cx="%.1f" cy="%.1f" r="10" fill="#22C55E" stroke="white" stroke-width="3"/>`, start.x, start.y)
	fmt.Fprintf(b, `<circle cx="%.1f" cy="%.1f" r="10" fill="#EF4444" stroke="white" stroke-width="3"/>`, end.x, end.y)
}

func (r *SVGRenderer) writeCaptions(b *strings.Builder, run *types.Run) {
	fmt.Fprintf(b,
		`<text x="%d" y="180" font-family="Helvetica, Arial, sans-serif" font-size="72" font-weight="bold" fill="white" text-anchor="middle">%s</text>`,
		r.Width/2, html.EscapeString(run.Name))

	cardY := r.Height - 560
	fmt.Fprintf(b, `<rect x="60" y="%d" width="%d" height="280" rx="24" fill="rgba(255,255,255,0.95)"/>`, cardY, r.Width-120)

	stats := []struct {
		label, value string
	}{
		{"Distance", r.formatDistance(run.Distance)},
		{"Duration", formatDuration(run.Duration)},
		{"Pace", formatPace(run.Distance, run.Duration)},
	}
	step := (r.Width - 120) / len(stats)
	for i, s := range stats {
		cx := 60 + step*i + step/2
		fmt.Fprintf(b,
			`<text x="%d" y="%d" font-family="Helvetica, Arial, sans-serif" font-size="24" fill="#6B7280" text-anchor="middle">%s</text>`,
			cx, cardY+90, s.label)
		fmt.Fprintf(b,
			`<text x="%d" y="%d" font-family="Helvetica, Arial, sans-serif" font-size="48" font-weight="bold" fill="#111827" text-anchor="middle">%s</text>`,
			cx, cardY+170, html.EscapeString(s.value))
	}

	fmt.Fprintf(b,
		`<text x="%d" y="%d" font-family="Helvetica, Arial, sans-serif" font-size="28" fill="rgba(255,255,255,0.8)" text-anchor="middle">Stridecast</text>`,
		r.Width/2, r.Height-60)
}

func (r *SVGRenderer) formatDistance(meters float64) string {
	return r.printer.Sprintf("%.2f km", meters/1000)
}

func formatDuration(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func formatPace(meters float64, seconds int64) string {
	if meters <= 0 || seconds <= 0 {
		return "--"
	}
	secPerKm := float64(seconds) / (meters / 1000)
	mins := int(secPerKm) / 60
	secs := int(secPerKm) % 60
	return fmt.Sprintf("%d:%02d /km", mins, secs)
}
