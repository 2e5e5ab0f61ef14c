package models

import "time"

type MemberRole string

const (
	RolePlayer MemberRole = "player"
	RoleAdmin  MemberRole = "admin"
)

func (r MemberRole) Valid() bool {
	return r == RolePlayer || r == RoleAdmin
}

// MemberStatus is the account status of an approved member. Removed is a soft delete.
type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberDisabled MemberStatus = "disabled"
	MemberRemoved  MemberStatus = "removed"
)

type MemberType string

const (
	MemberTypeStandard MemberType = "standard"
	MemberTypeStudent  MemberType = "student"
)

func (t MemberType) Valid() bool {
	return t == MemberTypeStandard || t == MemberTypeStudent
}

type Category string

const (
	CategoryMen     Category = "men"
	CategoryWomen   Category = "women"
	CategoryJuniors Category = "juniors"
)

// Member (a.k.a. player). ID is the identity provider subject id.
type Member struct {
	ID               string       `json:"id" db:"id"`
	Email            string       `json:"email" db:"email"`
	Name             string       `json:"name" db:"name"`
	Role             MemberRole   `json:"role" db:"role"`
	Status           MemberStatus `json:"status" db:"status"`
	Gender           *string      `json:"gender,omitempty" db:"gender"`
	PaysViaParent    bool         `json:"pays_via_parent" db:"pays_via_parent"`
	Groups           []string     `json:"groups" db:"groups"`
	LegacyGroup      *string      `json:"-" db:"legacy_group"`
	MemberType       MemberType   `json:"member_type" db:"member_type"`
	Phone            *string      `json:"phone,omitempty" db:"phone"`
	BirthYear        *int         `json:"birth_year,omitempty" db:"birth_year"`
	BirthMonth       *int         `json:"birth_month,omitempty" db:"birth_month"`
	KidIDs           []string     `json:"kids_profiles" db:"kid_ids"`
	LinkedYouthIDs   []string     `json:"linked_youth" db:"linked_youth_ids"`
	LinkedParents    []string     `json:"linked_parents" db:"linked_parents"`
	PaymentManagerID *string      `json:"payment_manager_id,omitempty" db:"payment_manager_id"`
	ActiveProfileID  string       `json:"active_profile_id" db:"active_profile_id"`
	LastLoginProfile *string      `json:"last_login_profile,omitempty" db:"last_login_profile"`
	ProfileCompleted bool         `json:"profile_completed" db:"profile_completed"`
	PictureURL       *string      `json:"picture_url,omitempty" db:"picture_url"`
	AvatarKey        *string      `json:"-" db:"avatar_key"`
	ApprovedBy       *string      `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt       *time.Time   `json:"approved_at,omitempty" db:"approved_at"`
	StatusUpdatedAt  *time.Time   `json:"status_updated_at,omitempty" db:"status_updated_at"`
	StatusUpdatedBy  *string      `json:"status_updated_by,omitempty" db:"status_updated_by"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`

	// Derived at the read boundary, never stored.
	Category  Category `json:"category" db:"-"`
	Age       *int     `json:"age,omitempty" db:"-"`
	AvatarURL *string  `json:"avatar_url,omitempty" db:"-"`
}

func (m *Member) IsAdmin() bool {
	return m.Role == RoleAdmin
}

func (m *Member) IsActiveAdmin() bool {
	return m.Role == RoleAdmin && m.Status == MemberActive
}

func (m *Member) OwnsKid(kidID string) bool {
	return containsString(m.KidIDs, kidID)
}

func (m *Member) ManagesYouth(youthID string) bool {
	return containsString(m.LinkedYouthIDs, youthID)
}

// StatusHistoryEntry is one row of the member's append-only status log.
type StatusHistoryEntry struct {
	ID         int64        `json:"id" db:"id"`
	MemberID   string       `json:"member_id" db:"member_id"`
	Action     string       `json:"action" db:"action"`
	FromStatus string       `json:"from_status" db:"from_status"`
	ToStatus   MemberStatus `json:"to_status" db:"to_status"`
	ActorID    string       `json:"actor_id" db:"actor_id"`
	Reason     *string      `json:"reason,omitempty" db:"reason"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

type MemberFilter struct {
	Search string
	Role   *MemberRole
	Status *MemberStatus
	Page   int
	Limit  int
}

type MemberListResponse struct {
	Members    []Member `json:"members"`
	TotalCount int      `json:"total_count"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
