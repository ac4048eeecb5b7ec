package persist

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pedalhouse/engine/pkg/metrics"
)

// Validation codes. Rejections are reject-and-log; they never propagate
// past the session boundary.
const (
	CodeMissingSession       = "missing-session"
	CodeInvalidStartTime     = "invalid-startTime"
	CodeRosterRequired       = "roster-required"
	CodeAssignmentsRequired  = "device-assignments-required"
	CodeSessionTooShortEmpty = "session-too-short-and-empty"
	CodeSeriesTickMismatch   = "series-tick-mismatch"
	CodeSeriesSizeCap        = "series-size-cap"
)

// minSubstantialDurationMs is the duration below which an empty session
// is not worth persisting.
const minSubstantialDurationMs = 10_000

// maxSeriesPoints mirrors the timeline's encode-time cap.
const maxSeriesPoints = 200_000

// ValidationError is a rejected payload with a stable code.
type ValidationError struct {
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload validation failed (%s): %s", e.Code, e.Detail)
}

func reject(code, detail string) error {
	metrics.RecordValidationReject(code)
	return &ValidationError{Code: code, Detail: detail}
}

// Validate checks a payload before hand-off to the storage collaborator.
func Validate(p *Payload) error {
	if p == nil || p.SessionID == "" {
		return reject(CodeMissingSession, "payload has no session id")
	}
	if p.StartTime.IsZero() {
		return reject(CodeInvalidStartTime, "start time is zero")
	}
	if p.Roster == nil {
		return reject(CodeRosterRequired, "roster snapshot missing")
	}
	if p.DeviceAssignments == nil {
		return reject(CodeAssignmentsRequired, "device assignment history missing")
	}
	if p.DurationMs < minSubstantialDurationMs && p.Empty() {
		return reject(CodeSessionTooShortEmpty,
			fmt.Sprintf("%dms with no series, events, or memos", p.DurationMs))
	}
	if p.Timeline != nil {
		total := 0
		for key, rle := range p.Timeline.Series {
			n, err := countPoints(rle)
			if err != nil {
				return reject(CodeSeriesTickMismatch,
					fmt.Sprintf("series %s: %v", key, err))
			}
			if n != p.Timeline.Timebase.TickCount {
				return reject(CodeSeriesTickMismatch,
					fmt.Sprintf("series %s has %d points, tick count is %d",
						key, n, p.Timeline.Timebase.TickCount))
			}
			total += n
		}
		if total > maxSeriesPoints {
			return reject(CodeSeriesSizeCap,
				fmt.Sprintf("%d points exceed cap %d", total, maxSeriesPoints))
		}
	}
	return nil
}

// countPoints sums the run counts of an RLE string without
// materializing the series.
func countPoints(rle string) (int, error) {
	if rle == "" {
		return 0, nil
	}
	total := 0
	for _, run := range strings.Split(rle, "|") {
		count := 1
		if idx := strings.LastIndex(run, "*"); idx >= 0 {
			n, err := strconv.Atoi(run[idx+1:])
			if err != nil || n < 1 {
				return 0, fmt.Errorf("malformed run %q", run)
			}
			count = n
		}
		total += count
	}
	return total, nil
}
