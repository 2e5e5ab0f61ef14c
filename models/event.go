package models

import "time"

type EventType string

const (
	EventNetPractice   EventType = "net_practice"
	EventLeagueMatch   EventType = "league_match"
	EventFamilyEvent   EventType = "family_event"
	EventMembershipFee EventType = "membership_fee"
)

func (t EventType) Valid() bool {
	switch t {
	case EventNetPractice, EventLeagueMatch, EventFamilyEvent, EventMembershipFee:
		return true
	}
	return false
}

// EventStatus представляет статус события.
type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventCancelled EventStatus = "cancelled"
)

type Event struct {
	ID                    string      `json:"id" db:"id"`
	Title                 string      `json:"title" db:"title"`
	Description           *string     `json:"description,omitempty" db:"description"`
	Type                  EventType   `json:"type" db:"type"`
	TargetGroups          []string    `json:"target_groups" db:"target_groups"`
	Fee                   float64     `json:"fee" db:"fee"`
	StartsAt              time.Time   `json:"starts_at" db:"starts_at"`
	Location              *string     `json:"location,omitempty" db:"location"`
	Status                EventStatus `json:"status" db:"status"`
	KidsEvent             bool        `json:"kids_event" db:"kids_event"`
	AttendanceCutoffHours *int        `json:"attendance_cutoff_hours,omitempty" db:"attendance_cutoff_hours"`
	CreatedBy             string      `json:"created_by" db:"created_by"`
	UpdatedBy             *string     `json:"updated_by,omitempty" db:"updated_by"`
	CreatedAt             time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at" db:"updated_at"`

	// Optional related records, not mapped directly.
	Attendance            []AttendanceRecord     `json:"attendance,omitempty" db:"-"`
	ParticipationRequests []ParticipationRequest `json:"participation_requests,omitempty" db:"-"`
}

func (e *Event) HasStarted(now time.Time) bool {
	return !now.Before(e.StartsAt)
}

func (e *Event) IsCancelled() bool {
	return e.Status == EventCancelled
}

type EventFilter struct {
	From      *time.Time
	To        *time.Time
	Type      *EventType
	KidsEvent *bool
	Status    *EventStatus
	Limit     int
}

type SubjectType string

const (
	SubjectAdult SubjectType = "adult"
	SubjectKid   SubjectType = "kid"
)

func (t SubjectType) Valid() bool {
	return t == SubjectAdult || t == SubjectKid
}

type PaymentStatus string

const (
	PaymentNone     PaymentStatus = ""
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRejected PaymentStatus = "REJECTED"
)

type RecordStatus string

const (
	RecordActive   RecordStatus = "active"
	RecordInactive RecordStatus = "inactive"
)

// AttendanceRecord is one per event and subject (adult member, kid or linked youth).
type AttendanceRecord struct {
	EventID         string        `json:"event_id" db:"event_id"`
	SubjectID       string        `json:"subject_id" db:"subject_id"`
	SubjectType     SubjectType   `json:"subject_type" db:"subject_type"`
	Name            string        `json:"name" db:"name"`
	Email           *string       `json:"email,omitempty" db:"email"`
	Category        Category      `json:"category" db:"category"`
	Groups          []string      `json:"groups" db:"groups"`
	Attending       bool          `json:"attending" db:"attending"`
	Attended        bool          `json:"attended" db:"attended"`
	FeeDue          float64       `json:"fee_due" db:"fee_due"`
	PaymentStatus   PaymentStatus `json:"payment_status,omitempty" db:"payment_status"`
	PaymentMarkedAt *time.Time    `json:"payment_marked_at,omitempty" db:"payment_marked_at"`
	PaymentMarkedBy *string       `json:"payment_marked_by,omitempty" db:"payment_marked_by"`
	ConfirmedAt     *time.Time    `json:"confirmed_at,omitempty" db:"confirmed_at"`
	ConfirmedBy     *string       `json:"confirmed_by,omitempty" db:"confirmed_by"`
	RejectedAt      *time.Time    `json:"rejected_at,omitempty" db:"rejected_at"`
	RejectedBy      *string       `json:"rejected_by,omitempty" db:"rejected_by"`
	RecordStatus    RecordStatus  `json:"status" db:"record_status"`
	RespondedAt     *time.Time    `json:"responded_at,omitempty" db:"responded_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// Response renders the adult-style YES/NO answer.
func (a *AttendanceRecord) Response() string {
	if a.Attending {
		return "YES"
	}
	return "NO"
}

// PaymentUpdate is one entry of an admin payment confirmation batch.
type PaymentUpdate struct {
	EventID     string      `json:"event_id"`
	SubjectID   string      `json:"subject_id"`
	SubjectType SubjectType `json:"subject_type"`
}
