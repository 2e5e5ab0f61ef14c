package models

import "time"

type ParticipationStatus string

const (
	ParticipationPending  ParticipationStatus = "pending"
	ParticipationApproved ParticipationStatus = "approved"
	ParticipationRejected ParticipationStatus = "rejected"
)

// ParticipationRequest is a late request to join an event after its RSVP cutoff.
type ParticipationRequest struct {
	ID          string              `json:"id" db:"id"`
	EventID     string              `json:"event_id" db:"event_id"`
	SubjectID   string              `json:"subject_id" db:"subject_id"`
	SubjectType SubjectType         `json:"subject_type" db:"subject_type"`
	SubjectName string              `json:"subject_name" db:"subject_name"`
	RequesterID string              `json:"requester_id" db:"requester_id"`
	Status      ParticipationStatus `json:"status" db:"status"`
	ResolvedBy  *string             `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt  *time.Time          `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
}

// ParticipationRequestID is deterministic so at most one request exists per pair.
func ParticipationRequestID(eventID, subjectID string) string {
	return eventID + "_" + subjectID
}

// Subject is whoever an attendance operation is about: the member themself, one of
// their kids or a youth account they manage payments for.
type Subject struct {
	ID         string      `json:"id"`
	Type       SubjectType `json:"type"`
	Name       string      `json:"name"`
	Email      string      `json:"email,omitempty"`
	Category   Category    `json:"category"`
	Groups     []string    `json:"groups"`
	MemberType MemberType  `json:"member_type,omitempty"`
	// RecordStatus is the soft-status the subject's attendance records carry:
	// inactive for a deactivated kid.
	RecordStatus RecordStatus `json:"record_status,omitempty"`
}

type ProfileKind string

const (
	ProfileSelf        ProfileKind = "self"
	ProfileKid         ProfileKind = "kid"
	ProfileLinkedYouth ProfileKind = "linked_youth"
)

// Profile is one entry of the profile switcher.
type Profile struct {
	ID     string      `json:"id"`
	Kind   ProfileKind `json:"kind"`
	Name   string      `json:"name"`
	Active bool        `json:"active"`
}
