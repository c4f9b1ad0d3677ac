package video

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"

	"github.com/stridecast/server/pkg/types"
)

func encodedRoute(t *testing.T) string {
	t.Helper()
	coords := [][]float64{
		{51.5007, -0.1246},
		{51.5033, -0.1196},
		{51.5081, -0.1281},
		{51.5014, -0.1419},
	}
	return string(polyline.EncodeCoords(coords))
}

func TestRenderRouteVideo(t *testing.T) {
	route := encodedRoute(t)
	run := &types.Run{
		ID:       "101",
		Name:     "Thames Loop",
		Distance: 5021.3,
		Duration: 1725,
		Polyline: &route,
	}

	artifact, err := NewSVGRenderer().Render(run)
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", artifact.ContentType)

	svg := string(artifact.Data)
	assert.Contains(t, svg, `width="1080" height="1920"`)
	assert.Contains(t, svg, "Thames Loop")
	// Route layers: faint full trace plus animated progress trace.
	assert.Equal(t, 2, strings.Count(svg, "<polyline"))
	assert.Contains(t, svg, "stroke-dashoffset")
	assert.Contains(t, svg, "animateMotion")
	// Stats card.
	assert.Contains(t, svg, "5.02 km")
	assert.Contains(t, svg, "00:28:45")
	assert.Contains(t, svg, "5:43 /km")
}

func TestRenderWithoutRoute(t *testing.T) {
	run := &types.Run{
		ID:       "102",
		Name:     "Treadmill Intervals",
		Distance: 8000,
		Duration: 2400,
		Polyline: nil,
	}

	artifact, err := NewSVGRenderer().Render(run)
	require.NoError(t, err, "a run without GPS still renders a stats card")

	svg := string(artifact.Data)
	assert.NotContains(t, svg, "<polyline")
	assert.Contains(t, svg, "Treadmill Intervals")
	assert.Contains(t, svg, "8.00 km")
	assert.Contains(t, svg, "5:00 /km")
}

func TestRenderZeroDistancePace(t *testing.T) {
	run := &types.Run{ID: "103", Name: "Watch Glitch", Distance: 0, Duration: 60}

	artifact, err := NewSVGRenderer().Render(run)
	require.NoError(t, err)
	assert.Contains(t, string(artifact.Data), "--")
}

func TestRenderEscapesRunName(t *testing.T) {
	run := &types.Run{ID: "104", Name: `5k <PB> & "speedwork"`, Distance: 5000, Duration: 1500}

	artifact, err := NewSVGRenderer().Render(run)
	require.NoError(t, err)

	svg := string(artifact.Data)
	assert.NotContains(t, svg, "<PB>")
	assert.Contains(t, svg, "&lt;PB&gt;")
}

func TestRenderBadPolyline(t *testing.T) {
	bad := "\x80\x80not-a-polyline"
	run := &types.Run{ID: "105", Name: "Corrupt", Distance: 1000, Duration: 300, Polyline: &bad}

	_, err := NewSVGRenderer().Render(run)
	assert.Error(t, err)
}
