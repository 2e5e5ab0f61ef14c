package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type RegistrationStatus string

const (
	RegistrationPending              RegistrationStatus = "pending"
	RegistrationApproved             RegistrationStatus = "approved"
	RegistrationRejected             RegistrationStatus = "rejected"
	RegistrationPendingAdminApproval RegistrationStatus = "pending_admin_approval"
	RegistrationRejectedByParent     RegistrationStatus = "rejected_by_parent"
)

// IsRejected reports whether the request sits in one of the rejected states a
// subject may resubmit from.
func (s RegistrationStatus) IsRejected() bool {
	return s == RegistrationRejected || s == RegistrationRejectedByParent
}

type RejectionReason string

const (
	RejectionIncorrectInfo RejectionReason = "incorrect_info"
	RejectionIncomplete    RejectionReason = "incomplete"
	RejectionWrongGroup    RejectionReason = "wrong_group"
	RejectionDuplicate     RejectionReason = "duplicate"
	RejectionOther         RejectionReason = "other"
)

func (r RejectionReason) Valid() bool {
	switch r {
	case RejectionIncorrectInfo, RejectionIncomplete, RejectionWrongGroup, RejectionDuplicate, RejectionOther:
		return true
	}
	return false
}

// RegistrationRequest is keyed by the same subject id the member will eventually get.
type RegistrationRequest struct {
	ID                  string             `json:"id" db:"id"`
	Email               string             `json:"email" db:"email"`
	Name                string             `json:"name" db:"name"`
	Status              RegistrationStatus `json:"status" db:"status"`
	Group               *string            `json:"group,omitempty" db:"requested_group"`
	MemberType          *MemberType        `json:"member_type,omitempty" db:"member_type"`
	Phone               *string            `json:"phone,omitempty" db:"phone"`
	BirthYear           *int               `json:"birth_year,omitempty" db:"birth_year"`
	BirthMonth          *int               `json:"birth_month,omitempty" db:"birth_month"`
	Gender              *string            `json:"gender,omitempty" db:"gender"`
	PictureURL          *string            `json:"picture_url,omitempty" db:"picture_url"`
	PaymentManagerID    *string            `json:"payment_manager_id,omitempty" db:"payment_manager_id"`
	ParentRequestID     *string            `json:"parent_request_id,omitempty" db:"parent_request_id"`
	ResubmissionCount   int                `json:"resubmission_count" db:"resubmission_count"`
	RejectionReason     *RejectionReason   `json:"rejection_reason,omitempty" db:"rejection_reason"`
	RejectionNotes      *string            `json:"rejection_notes,omitempty" db:"rejection_notes"`
	RejectedAt          *time.Time         `json:"rejected_at,omitempty" db:"rejected_at"`
	RejectedBy          *string            `json:"rejected_by,omitempty" db:"rejected_by"`
	CanResubmit         bool               `json:"can_resubmit" db:"can_resubmit"`
	LastRejectionReason *RejectionReason   `json:"last_rejection_reason,omitempty" db:"last_rejection_reason"`
	LastRejectionAt     *time.Time         `json:"last_rejection_at,omitempty" db:"last_rejection_at"`
	RejectionHistory    RejectionHistory   `json:"rejection_history" db:"rejection_history"`
	CreatedAt           time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at" db:"updated_at"`
}

type RejectionEntry struct {
	Reason        RejectionReason `json:"reason"`
	Notes         *string         `json:"notes,omitempty"`
	RejectedBy    string          `json:"rejected_by"`
	RejectedAt    time.Time       `json:"rejected_at"`
	AllowResubmit bool            `json:"allow_resubmit"`
}

// RejectionHistory is stored as a jsonb array.
type RejectionHistory []RejectionEntry

func (h RejectionHistory) Value() (driver.Value, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h)
}

func (h *RejectionHistory) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*h = RejectionHistory{}
		return nil
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	default:
		return errors.New("rejection_history: unsupported source type")
	}
}

// RegistrationDetails are the fields a prospective member fills in on the form.
type RegistrationDetails struct {
	Group               *string     `json:"group,omitempty"`
	MemberType          *MemberType `json:"member_type,omitempty"`
	Phone               *string     `json:"phone,omitempty"`
	BirthYear           *int        `json:"birth_year,omitempty"`
	BirthMonth          *int        `json:"birth_month,omitempty"`
	Gender              *string     `json:"gender,omitempty"`
	PaymentManagerEmail *string     `json:"payment_manager_email,omitempty"`
}

// ApprovalOverrides are admin-supplied values laid over the stored request on approval.
type ApprovalOverrides struct {
	Group            *string     `json:"group,omitempty"`
	MemberType       *MemberType `json:"member_type,omitempty"`
	Phone            *string     `json:"phone,omitempty"`
	BirthYear        *int        `json:"birth_year,omitempty"`
	PaymentManagerID *string     `json:"payment_manager_id,omitempty"`
}

// SignInOutcome is what a first sign-in attempt resolves to for a subject that is
// not yet a member.
type SignInOutcome struct {
	Status         RegistrationStatus   `json:"status"`
	Created        bool                 `json:"created"`
	CanResubmit    bool                 `json:"can_resubmit"`
	PreviousValues *RegistrationDetails `json:"previous_values,omitempty"`
	Rejection      *RejectionEntry      `json:"rejection,omitempty"`
}
