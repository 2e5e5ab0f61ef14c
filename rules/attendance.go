package rules

import (
	"time"

	"github.com/Dosada05/club-system/models"
)

// NetPracticeCutoff is the only hard-coded RSVP cutoff.
const NetPracticeCutoff = 48 * time.Hour

// RSVPClosed reports whether self-service RSVP is closed for the event at now.
func RSVPClosed(event *models.Event, now time.Time) bool {
	if event.Type != models.EventNetPractice {
		return false
	}
	return !now.Before(event.StartsAt.Add(-NetPracticeCutoff))
}

// ParticipationCutoff returns how long before the start participation requests open.
// An explicit per-event value wins, including zero. Zero means participation
// requests are disabled for the event.
func ParticipationCutoff(event *models.Event) time.Duration {
	if event.AttendanceCutoffHours != nil {
		return time.Duration(*event.AttendanceCutoffHours) * time.Hour
	}
	if event.Type == models.EventNetPractice {
		return NetPracticeCutoff
	}
	return 0
}

// CanSelfMarkPaid is the single guard for self-service payment marking.
func CanSelfMarkPaid(status models.PaymentStatus) bool {
	return status == models.PaymentUnpaid || status == models.PaymentRejected
}

// SelfMarkableStatuses lists the statuses CanSelfMarkPaid accepts, for SQL guards.
func SelfMarkableStatuses() []models.PaymentStatus {
	return []models.PaymentStatus{models.PaymentUnpaid, models.PaymentRejected}
}

// InitialPaymentStatus is the status a record gets once the subject is attending.
func InitialPaymentStatus(current models.PaymentStatus, attending bool, feeDue float64) models.PaymentStatus {
	if !attending {
		if current == models.PaymentUnpaid {
			return models.PaymentNone
		}
		return current
	}
	if current == models.PaymentNone && feeDue > 0 {
		return models.PaymentUnpaid
	}
	return current
}

// ProfileComplete reports whether an approved member has everything the club needs.
func ProfileComplete(groups []string, memberType models.MemberType, phone *string, birthYear *int) bool {
	return len(groups) > 0 &&
		memberType.Valid() &&
		phone != nil && *phone != "" &&
		birthYear != nil && *birthYear > 0
}
