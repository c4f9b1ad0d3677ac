package strava

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/stridecast/server/pkg/types"
)

// detailConcurrency bounds the number of in-flight detail fetches.
// Detail fetches are independent; results land in a pre-sized slice
// indexed by position, so no ordering dependency exists between them.
const detailConcurrency = 4

// runDefaults is the declared default for every field that can be absent
// in the upstream payload. Normalization starts from this table; nothing
// defaults ad hoc inline.
var runDefaults = types.Run{
	Distance:           0,
	Duration:           0,
	AverageSpeed:       0,
	MaxSpeed:           0,
	TotalElevationGain: 0,
	SportType:          "Run",
	Polyline:           nil,
}

// FetchRuns lists the athlete's recent activities, keeps only runs, and
// upgrades each to its full-resolution polyline via a detail fetch. A
// failing detail fetch downgrades that one run to its summary polyline
// instead of aborting the batch.
func (c *Client) FetchRuns(ctx context.Context, userID string, perPage int) ([]*types.Run, error) {
	activities, err := c.ListActivities(ctx, perPage)
	if err != nil {
		return nil, err
	}

	var summaries []Activity
	for _, a := range activities {
		if a.IsRun() {
			summaries = append(summaries, a)
		}
	}

	runs := make([]*types.Run, len(summaries))
	sem := make(chan struct{}, detailConcurrency)
	var wg sync.WaitGroup

	for i := range summaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			summary := &summaries[i]
			detail, err := c.GetActivity(ctx, summary.ID)
			if err != nil {
				c.logger.Warn("Detail fetch failed, falling back to summary polyline",
					"activity_id", summary.ID, "error", err)
				detail = nil
			}
			runs[i] = normalizeRun(summary, detail, userID)
		}(i)
	}
	wg.Wait()

	return runs, nil
}

// normalizeRun maps a Strava activity onto the internal Run shape,
// applying runDefaults for anything the payload omits. The detail
// activity, when present, supplies the full-resolution polyline.
func normalizeRun(summary, detail *Activity, userID string) *types.Run {
	run := runDefaults
	run.ID = strconv.FormatInt(summary.ID, 10)
	run.StravaID = summary.ID
	run.UserID = userID
	run.Name = summary.Name
	run.Distance = summary.Distance
	run.Duration = summary.MovingTime
	run.AverageSpeed = summary.AverageSpeed
	run.MaxSpeed = summary.MaxSpeed
	run.TotalElevationGain = summary.TotalElevationGain
	run.UpdatedAt = time.Now().UTC()

	if summary.SportType != "" {
		run.SportType = summary.SportType
	}

	if t, err := time.Parse(time.RFC3339, summary.StartDate); err == nil {
		run.StartDate = t
	}

	if p := pickPolyline(summary, detail); p != "" {
		run.Polyline = &p
	}

	return &run
}

// pickPolyline prefers the detail activity's full-resolution line, then
// its summary line, then the list entry's summary line.
func pickPolyline(summary, detail *Activity) string {
	if detail != nil {
		if detail.Map.Polyline != "" {
			return detail.Map.Polyline
		}
		if detail.Map.SummaryPolyline != "" {
			return detail.Map.SummaryPolyline
		}
	}
	return summary.Map.SummaryPolyline
}
