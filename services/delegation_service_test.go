package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dosada05/club-system/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateKid(t *testing.T) {
	env := newTestEnv()
	env.store.addMember(models.Member{ID: "parent", Email: "parent@example.com", Name: "Parent"})
	ctx := context.Background()

	kid, err := env.delegation.CreateKid(ctx, "admin", CreateKidInput{
		ParentEmail: " Parent@Example.com ",
		Name:        "Ollie",
		BirthYear:   2015,
		BirthMonth:  intPtr(6),
	})
	require.NoError(t, err)
	assert.Equal(t, "parent", kid.ParentID)
	assert.Equal(t, []string{"parent@example.com"}, kid.ParentEmails)
	require.Len(t, kid.LinkedParents, 1)
	assert.Equal(t, "admin", kid.LinkedParents[0].LinkedBy)
	assert.Equal(t, 9, kid.Age)
	assert.Equal(t, models.KidActive, kid.Status)

	parent, _ := env.store.member("parent")
	assert.Equal(t, []string{kid.ID}, parent.KidIDs)
}

func TestCreateKid_Validation(t *testing.T) {
	env := newTestEnv()
	env.store.addMember(models.Member{ID: "parent", Email: "parent@example.com"})
	env.store.addMember(models.Member{ID: "gone", Email: "gone@example.com", Status: models.MemberRemoved})
	ctx := context.Background()

	tests := []struct {
		name    string
		in      CreateKidInput
		wantErr error
	}{
		{"missing name", CreateKidInput{ParentEmail: "parent@example.com", BirthYear: 2015}, ErrValidationFailed},
		{"future birth year", CreateKidInput{ParentEmail: "parent@example.com", Name: "A", BirthYear: 2030}, ErrValidationFailed},
		{"bad month", CreateKidInput{ParentEmail: "parent@example.com", Name: "A", BirthYear: 2015, BirthMonth: intPtr(13)}, ErrValidationFailed},
		{"unknown parent", CreateKidInput{ParentEmail: "nobody@example.com", Name: "A", BirthYear: 2015}, ErrParentNotFound},
		{"removed parent", CreateKidInput{ParentEmail: "gone@example.com", Name: "A", BirthYear: 2015}, ErrParentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.delegation.CreateKid(ctx, "admin", tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, env.store.kids)
}

func TestAddSecondaryParent(t *testing.T) {
	env := newTestEnv()
	env.store.addMember(models.Member{ID: "mum", Email: "mum@example.com"})
	env.store.addMember(models.Member{ID: "dad", Email: "dad@example.com"})
	env.addKid(models.Kid{ID: "kid1", ParentID: "mum", Name: "Ollie", BirthYear: 2015, ParentEmails: []string{"mum@example.com"}})
	ctx := context.Background()

	kid, err := env.delegation.AddSecondaryParent(ctx, "admin", "kid1", "DAD@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"mum@example.com", "dad@example.com"}, kid.ParentEmails)

	dad, _ := env.store.member("dad")
	assert.Equal(t, []string{"kid1"}, dad.KidIDs)
	assert.Equal(t, []string{"mum"}, dad.LinkedParents)

	_, err = env.delegation.AddSecondaryParent(ctx, "admin", "kid1", "dad@example.com")
	assert.ErrorIs(t, err, ErrParentEmailExists)

	_, err = env.delegation.AddSecondaryParent(ctx, "admin", "missing", "dad@example.com")
	assert.ErrorIs(t, err, ErrKidNotFound)
}

func TestAddSecondaryParent_IsAtomic(t *testing.T) {
	env := newTestEnv()
	env.store.addMember(models.Member{ID: "mum", Email: "mum@example.com"})
	env.store.addMember(models.Member{ID: "dad", Email: "dad@example.com"})
	env.addKid(models.Kid{ID: "kid1", ParentID: "mum", Name: "Ollie", BirthYear: 2015, ParentEmails: []string{"mum@example.com"}})
	env.store.failures["members.AddLinkedParent"] = errors.New("write failed")

	_, err := env.delegation.AddSecondaryParent(context.Background(), "admin", "kid1", "dad@example.com")
	require.Error(t, err)

	kid := env.store.kids["kid1"]
	assert.Equal(t, []string{"mum@example.com"}, kid.ParentEmails)
	dad, _ := env.store.member("dad")
	assert.Empty(t, dad.KidIDs)
}

func TestDeactivateKid_CascadesToAttendance(t *testing.T) {
	env := newTestEnv()
	seedClub(env)
	ctx := context.Background()
	env.addEvent(models.Event{ID: "kids", Type: models.EventFamilyEvent, KidsEvent: true, StartsAt: testNow.Add(72 * time.Hour)})
	_, err := env.attendance.SetAttending(ctx, "kids", "parent", "kid1", true)
	require.NoError(t, err)

	kid, err := env.delegation.DeactivateKid(ctx, "admin", "kid1")
	require.NoError(t, err)
	assert.Equal(t, models.KidInactive, kid.Status)
	rec, _ := env.store.record("kids", "kid1")
	assert.Equal(t, models.RecordInactive, rec.RecordStatus)

	_, err = env.delegation.DeactivateKid(ctx, "admin", "kid1")
	assert.ErrorIs(t, err, ErrKidStatusUnchanged)

	// Inactive kids drop out of the switcher and can no longer be acted for.
	_, err = env.delegation.SwitchProfile(ctx, "parent", "kid1")
	assert.ErrorIs(t, err, ErrNotAccessible)
	_, err = env.attendance.SetAttending(ctx, "kids", "parent", "kid1", false)
	assert.ErrorIs(t, err, ErrNotAccessible)

	_, err = env.delegation.ReactivateKid(ctx, "admin", "kid1")
	require.NoError(t, err)
	rec, _ = env.store.record("kids", "kid1")
	assert.Equal(t, models.RecordActive, rec.RecordStatus)
	assert.Contains(t, env.recorder.transitions, recordedTransition{"kid", "inactive", "active"})
}

func TestInactiveKid_AdminAttendanceStaysInactive(t *testing.T) {
	env := newTestEnv()
	seedClub(env)
	ctx := context.Background()
	env.addEvent(models.Event{ID: "past", Type: models.EventFamilyEvent, KidsEvent: true, StartsAt: testNow.Add(-24 * time.Hour)})
	env.addEvent(models.Event{ID: "np", Type: models.EventFamilyEvent, KidsEvent: true, StartsAt: testNow.Add(24 * time.Hour), AttendanceCutoffHours: intPtr(48)})

	req, err := env.participation.RequestParticipation(ctx, "np", "parent", "kid1")
	require.NoError(t, err)

	_, err = env.delegation.DeactivateKid(ctx, "admin", "kid1")
	require.NoError(t, err)

	records, err := env.attendance.AdminAddPastAttendees(ctx, "admin", "past", []string{"kid1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.RecordInactive, records[0].RecordStatus)
	rec, ok := env.store.record("past", "kid1")
	require.True(t, ok)
	assert.Equal(t, models.RecordInactive, rec.RecordStatus)

	_, err = env.participation.Approve(ctx, req.ID, "admin")
	require.NoError(t, err)
	rec, ok = env.store.record("np", "kid1")
	require.True(t, ok)
	assert.Equal(t, models.RecordInactive, rec.RecordStatus)

	_, err = env.delegation.ReactivateKid(ctx, "admin", "kid1")
	require.NoError(t, err)
	rec, _ = env.store.record("past", "kid1")
	assert.Equal(t, models.RecordActive, rec.RecordStatus)
}

func TestSwitchProfileAndListProfiles(t *testing.T) {
	env := newTestEnv()
	seedClub(env)
	env.store.addMember(models.Member{ID: "youth", Email: "youth@example.com", Name: "Youth", Groups: []string{"U-15"}})
	env.store.addMember(models.Member{ID: "gone", Email: "gone@example.com", Name: "Gone", Status: models.MemberDisabled})
	env.store.mu.Lock()
	parent := env.store.members["parent"]
	parent.LinkedYouthIDs = []string{"youth", "gone"}
	env.store.members["parent"] = parent
	env.store.mu.Unlock()
	ctx := context.Background()

	profile, err := env.delegation.SwitchProfile(ctx, "parent", "youth")
	require.NoError(t, err)
	assert.Equal(t, models.ProfileLinkedYouth, profile.Kind)
	assert.True(t, profile.Active)

	stored, _ := env.store.member("parent")
	assert.Equal(t, "youth", stored.ActiveProfileID)

	_, err = env.delegation.SwitchProfile(ctx, "parent", "gone")
	assert.ErrorIs(t, err, ErrNotAccessible)
	_, err = env.delegation.SwitchProfile(ctx, "p1", "kid1")
	assert.ErrorIs(t, err, ErrNotAccessible)

	profiles, err := env.delegation.ListProfiles(ctx, "parent")
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, models.Profile{ID: "parent", Kind: models.ProfileSelf, Name: "Parent"}, profiles[0])
	assert.Equal(t, models.Profile{ID: "kid1", Kind: models.ProfileKid, Name: "Kiddo"}, profiles[1])
	assert.Equal(t, models.Profile{ID: "youth", Kind: models.ProfileLinkedYouth, Name: "Youth", Active: true}, profiles[2])

	self, err := env.delegation.SwitchProfile(ctx, "parent", "")
	require.NoError(t, err)
	assert.Equal(t, models.ProfileSelf, self.Kind)
}

func TestResolveSubject(t *testing.T) {
	env := newTestEnv()
	seedClub(env)
	ctx := context.Background()

	self, err := env.delegation.ResolveSubject(ctx, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, models.SubjectAdult, self.Type)
	assert.Equal(t, models.MemberTypeStudent, self.MemberType)
	assert.Equal(t, "s1@example.com", self.Email)

	kid, err := env.delegation.ResolveSubject(ctx, "parent", "kid1")
	require.NoError(t, err)
	assert.Equal(t, models.SubjectKid, kid.Type)
	assert.Equal(t, models.CategoryJuniors, kid.Category)
	assert.Equal(t, []string{"Kids"}, kid.Groups)

	_, err = env.delegation.ResolveSubject(ctx, "p1", "s1")
	assert.ErrorIs(t, err, ErrNotAccessible)

	_, err = env.delegation.LookupSubject(ctx, "ghost")
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}
