package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type KidStatus string

const (
	KidActive   KidStatus = "active"
	KidInactive KidStatus = "inactive"
)

type Kid struct {
	ID            string        `json:"id" db:"id"`
	ParentID      string        `json:"parent_id" db:"parent_id"`
	Name          string        `json:"name" db:"name"`
	BirthYear     int           `json:"birth_year" db:"birth_year"`
	BirthMonth    *int          `json:"birth_month,omitempty" db:"birth_month"`
	ParentEmails  []string      `json:"parent_emails" db:"parent_emails"`
	LinkedParents LinkedParents `json:"linked_parents" db:"linked_parents"`
	Status        KidStatus     `json:"status" db:"status"`
	CreatedBy     string        `json:"created_by" db:"created_by"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`

	Age int `json:"age" db:"-"`
}

func (k *Kid) HasParentEmail(email string) bool {
	return containsString(k.ParentEmails, email)
}

type LinkedParent struct {
	MemberID string    `json:"uid"`
	LinkedBy string    `json:"linked_by"`
	LinkedAt time.Time `json:"linked_at"`
}

// LinkedParents is stored as a jsonb array audit list.
type LinkedParents []LinkedParent

func (p LinkedParents) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

func (p *LinkedParents) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = LinkedParents{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("linked_parents: unsupported source type")
	}
}

// ParentRequestStatus tracks a youth's request for a payment manager.
type ParentRequestStatus string

const (
	ParentRequestPending  ParentRequestStatus = "pending"
	ParentRequestApproved ParentRequestStatus = "approved"
	ParentRequestRejected ParentRequestStatus = "rejected"
)

type ParentRequest struct {
	ID          string              `json:"id" db:"id"`
	ParentID    string              `json:"parent_id" db:"parent_id"`
	YouthID     string              `json:"youth_id" db:"youth_id"`
	YouthName   string              `json:"youth_name" db:"youth_name"`
	YouthEmail  string              `json:"youth_email" db:"youth_email"`
	YouthGroups []string            `json:"youth_groups" db:"youth_groups"`
	Status      ParentRequestStatus `json:"status" db:"status"`
	ResolvedBy  *string             `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt  *time.Time          `json:"resolved_at,omitempty" db:"resolved_at"`
	Reason      *string             `json:"reason,omitempty" db:"reason"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
}
