package domain

import (
	"fmt"
	"time"
)

// ArchiveFrom selects the timestamp the archive threshold is measured from.
type ArchiveFrom string

const (
	ArchiveFromDeactivation  ArchiveFrom = "deactivation"
	ArchiveFromAnonymization ArchiveFrom = "anonymization"
)

// RetentionPolicy is read at every lifecycle pass. A zero duration disables
// the corresponding step.
type RetentionPolicy struct {
	AnonymizeAfter       time.Duration
	ArchiveAfter         time.Duration
	DeleteAfter          time.Duration
	ArchiveFrom          ArchiveFrom
	ReassignSubordinates bool
}

var DefaultRetentionPolicy = RetentionPolicy{
	AnonymizeAfter:       365 * 24 * time.Hour,
	ArchiveAfter:         730 * 24 * time.Hour,
	ArchiveFrom:          ArchiveFromDeactivation,
	ReassignSubordinates: true,
}

func (p RetentionPolicy) Validate() error {
	if p.AnonymizeAfter < 0 || p.ArchiveAfter < 0 || p.DeleteAfter < 0 {
		return fmt.Errorf("retention: durations must not be negative")
	}
	switch p.ArchiveFrom {
	case ArchiveFromDeactivation, ArchiveFromAnonymization:
	default:
		return fmt.Errorf("retention: unknown archive origin %q", p.ArchiveFrom)
	}
	return nil
}

// WorkItemPhase is the review phase of a work item. COMPLETED is terminal.
type WorkItemPhase string

const (
	PhaseNotStarted           WorkItemPhase = "NOT_STARTED"
	PhaseSelfEvaluation       WorkItemPhase = "SELF_EVALUATION"
	PhaseSupervisorEvaluation WorkItemPhase = "SUPERVISOR_EVALUATION"
	PhaseFinalMeeting         WorkItemPhase = "FINAL_MEETING"
	PhaseCompleted            WorkItemPhase = "COMPLETED"
)

type WorkItemStatus string

// IncompleteSubjectDeactivated is stamped on open work items whose subject
// was deactivated.
const IncompleteSubjectDeactivated = "Employee account deactivated"

const (
	WorkItemOpen       WorkItemStatus = "OPEN"
	WorkItemIncomplete WorkItemStatus = "INCOMPLETE"
)

// WorkItem is an in-flight review referencing a subject (the employee) and
// optionally a secondary party (the reviewing supervisor). The review
// workflow itself lives elsewhere; only the references matter here.
type WorkItem struct {
	ID                 string
	SubjectID          string
	SecondaryID        *string
	Phase              WorkItemPhase
	Status             WorkItemStatus
	IncompleteReason   string
	SecondaryChangedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ArchiveSnapshot is written once when an identity is archived.
type ArchiveSnapshot struct {
	ID            string
	OriginalID    string
	Snapshot      []byte // JSON of the identity at archival
	WorkItemCount int
	ArchivedAt    time.Time
}

// AdvanceReport lists what one lifecycle pass did.
type AdvanceReport struct {
	Anonymized []string `json:"anonymized"`
	Archived   []string `json:"archived"`
	Deleted    []string `json:"deleted"`
	Skipped    []string `json:"skipped"`
}

// LifecycleStats counts identities by lifecycle flag.
type LifecycleStats struct {
	Active      int `json:"active"`
	Deactivated int `json:"deactivated"`
	Anonymized  int `json:"anonymized"`
	Archived    int `json:"archived"`
}
