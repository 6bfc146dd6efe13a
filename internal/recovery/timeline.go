package recovery

import (
	"harmonyshield/internal/models"
)

// MilestoneState is how a milestone is rendered
type MilestoneState string

const (
	MilestoneCompleted MilestoneState = "completed"
	MilestoneCurrent   MilestoneState = "current"
	MilestoneUpcoming  MilestoneState = "upcoming"
)

// Milestone is one step of the progress strip
type Milestone struct {
	Status models.RecoveryStatus `json:"status"`
	Label  string                `json:"label"`
	State  MilestoneState        `json:"state"`
}

// Timeline is the derived view of a request's progress
type Timeline struct {
	Status     models.RecoveryStatus  `json:"status"`
	Milestones []Milestone            `json:"milestones"`
	Updates    models.ProgressUpdates `json:"updates"`
}

var milestones = []struct {
	status models.RecoveryStatus
	label  string
}{
	{models.StatusPending, "Request Submitted"},
	{models.StatusInvestigating, "Under Investigation"},
	{models.StatusInProgress, "Recovery In Progress"},
	{models.StatusCompleted, "Recovery Completed"},
}

// BuildTimeline derives the milestone strip from the current status.
// A milestone is completed when its position is at or before the status,
// and current when it is the step right after the status. Updates are
// returned in stored order.
func BuildTimeline(status models.RecoveryStatus, updates models.ProgressUpdates) Timeline {
	current := status.Index()

	out := Timeline{
		Status:     status,
		Milestones: make([]Milestone, 0, len(milestones)),
		Updates:    append(models.ProgressUpdates{}, updates...),
	}
	for _, m := range milestones {
		i := m.status.Index()
		state := MilestoneUpcoming
		switch {
		case i <= current:
			state = MilestoneCompleted
		case i == current+1:
			state = MilestoneCurrent
		}
		out.Milestones = append(out.Milestones, Milestone{Status: m.status, Label: m.label, State: state})
	}
	return out
}
