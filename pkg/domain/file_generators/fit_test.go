package file_generators

import (
	"testing"
	"time"

	"github.com/twpayne/go-polyline"

	"github.com/stridecast/server/pkg/types"
)

func testRun(route *string) *types.Run {
	return &types.Run{
		ID:                 "501",
		UserID:             "user-1",
		Name:               "Morning Run",
		Distance:           5000,
		Duration:           1500,
		StartDate:          time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC),
		AverageSpeed:       3.33,
		MaxSpeed:           4.1,
		TotalElevationGain: 42,
		Polyline:           route,
	}
}

func assertFitHeader(t *testing.T, result []byte) {
	t.Helper()
	if len(result) < 14 {
		t.Fatalf("Result too short to be a FIT file: %d bytes", len(result))
	}
	// Bytes 8-11 of the header are the ".FIT" marker.
	if fileType := string(result[8:12]); fileType != ".FIT" {
		t.Errorf("Expected .FIT file type in header, got %q", fileType)
	}
}

func TestGenerateFitFile(t *testing.T) {
	route := string(polyline.EncodeCoords([][]float64{
		{51.5007, -0.1246},
		{51.5033, -0.1196},
		{51.5081, -0.1281},
	}))

	result, err := GenerateFitFile(testRun(&route))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	assertFitHeader(t, result)
}

func TestGenerateFitFileWithoutRoute(t *testing.T) {
	withRoute := string(polyline.EncodeCoords([][]float64{
		{51.5007, -0.1246},
		{51.5033, -0.1196},
	}))

	plain, err := GenerateFitFile(testRun(nil))
	if err != nil {
		t.Fatalf("Expected no error for routeless run, got %v", err)
	}
	assertFitHeader(t, plain)

	full, err := GenerateFitFile(testRun(&withRoute))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(full) <= len(plain) {
		t.Errorf("Expected record messages to grow the file: %d <= %d bytes", len(full), len(plain))
	}
}

func TestGenerateFitFileValidation(t *testing.T) {
	if _, err := GenerateFitFile(nil); err == nil {
		t.Error("Expected error for nil run")
	}

	run := testRun(nil)
	run.StartDate = time.Time{}
	if _, err := GenerateFitFile(run); err == nil {
		t.Error("Expected error for missing start date")
	}
}
