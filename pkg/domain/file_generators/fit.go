package file_generators

import (
	"bytes"
	"fmt"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
	"github.com/twpayne/go-polyline"

	"github.com/stridecast/server/pkg/types"
)

// GenerateFitFile encodes a stored run as a FIT activity file. Strava
// summaries carry no per-second samples, so record messages are
// synthesized by spreading the decoded route evenly across the run's
// duration at its average speed. Runs without a route produce a valid
// file with session totals only.
func GenerateFitFile(run *types.Run) ([]byte, error) {
	if run == nil {
		return nil, fmt.Errorf("run cannot be nil")
	}

	startTime := run.StartDate
	if startTime.IsZero() {
		return nil, fmt.Errorf("run %s has no start date", run.ID)
	}

	fit := &proto.FIT{
		Messages: []proto.Message{},
	}

	fileId := mesgdef.NewFileId(nil).
		SetType(typedef.FileActivity).
		SetManufacturer(typedef.ManufacturerDevelopment).
		SetProduct(1).
		SetTimeCreated(startTime)
	fit.Messages = append(fit.Messages, fileId.ToMesg(nil))

	activityMsg := mesgdef.NewActivity(nil).
		SetTimestamp(startTime).
		SetType(typedef.ActivityManual).
		SetNumSessions(1)
	fit.Messages = append(fit.Messages, activityMsg.ToMesg(nil))

	sessionMsg := mesgdef.NewSession(nil).
		SetTimestamp(startTime).
		SetSport(typedef.SportRunning).
		SetStartTime(startTime)

	if run.Duration > 0 {
		// FIT stores elapsed time in milliseconds.
		sessionMsg.SetTotalElapsedTime(uint32(run.Duration * 1000))
		sessionMsg.SetTotalTimerTime(uint32(run.Duration * 1000))
	}
	if run.Distance > 0 {
		sessionMsg.SetTotalDistanceScaled(run.Distance)
	}
	if run.AverageSpeed > 0 {
		sessionMsg.SetAvgSpeedScaled(run.AverageSpeed)
	}
	if run.MaxSpeed > 0 {
		sessionMsg.SetMaxSpeedScaled(run.MaxSpeed)
	}
	if run.TotalElevationGain > 0 {
		sessionMsg.SetTotalAscent(uint16(run.TotalElevationGain))
	}
	fit.Messages = append(fit.Messages, sessionMsg.ToMesg(nil))

	records, err := recordMessages(run, startTime)
	if err != nil {
		return nil, err
	}
	fit.Messages = append(fit.Messages, records...)

	var buf bytes.Buffer
	enc := encoder.New(&buf)
	if err := enc.Encode(fit); err != nil {
		return nil, fmt.Errorf("failed to encode FIT file: %w", err)
	}

	return buf.Bytes(), nil
}

func recordMessages(run *types.Run, startTime time.Time) ([]proto.Message, error) {
	if run.Polyline == nil || *run.Polyline == "" {
		return nil, nil
	}
	coords, _, err := polyline.DecodeCoords([]byte(*run.Polyline))
	if err != nil {
		return nil, fmt.Errorf("run %s: decode polyline: %w", run.ID, err)
	}
	if len(coords) < 2 {
		return nil, nil
	}

	span := float64(run.Duration)
	msgs := make([]proto.Message, 0, len(coords))
	for i, c := range coords {
		frac := float64(i) / float64(len(coords)-1)
		ts := startTime.Add(time.Duration(frac*span) * time.Second)

		rec := mesgdef.NewRecord(nil).
			SetTimestamp(ts).
			SetPositionLatDegrees(c[0]).
			SetPositionLongDegrees(c[1]).
			SetDistanceScaled(frac * run.Distance)
		if run.AverageSpeed > 0 {
			rec.SetSpeedScaled(run.AverageSpeed)
		}
		msgs = append(msgs, rec.ToMesg(nil))
	}
	return msgs, nil
}
