// Package persist defines the persistence payload, its validation rules,
// and the retrying hand-off to the external storage collaborator. The
// core never touches file formats or path layout.
package persist

import (
	"time"

	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/internal/domain/timeline"
	"github.com/pedalhouse/engine/internal/domain/treasure"
)

// Payload is the outbound persistence document for one session.
type Payload struct {
	SessionID         string                   `json:"sessionId"`
	StartTime         time.Time                `json:"startTime"`
	EndTime           *time.Time               `json:"endTime"`
	DurationMs        int64                    `json:"durationMs"`
	Roster            []model.RosterEntry      `json:"roster"`
	DeviceAssignments []model.DeviceAssignment `json:"deviceAssignments"`
	TreasureBox       treasure.Summary         `json:"treasureBox"`
	Timeline          *timeline.Encoded        `json:"timeline"`
	VoiceMemos        []model.VoiceMemo        `json:"voiceMemos"`
}

// Empty reports whether the payload carries no recorded substance:
// no series, no events, no voice memos.
func (p *Payload) Empty() bool {
	if len(p.VoiceMemos) > 0 {
		return false
	}
	if p.Timeline == nil {
		return true
	}
	return len(p.Timeline.Series) == 0 && len(p.Timeline.Events) == 0
}
