package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/repositories"
)

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// memStore is an in-memory stand-in for the Postgres schema. WithinTx snapshots the
// whole store and restores it when fn fails, so tests can assert all-or-nothing writes.
type memStore struct {
	mu             sync.Mutex
	members        map[string]models.Member
	history        []models.StatusHistoryEntry
	registrations  map[string]models.RegistrationRequest
	kids           map[string]models.Kid
	parentRequests map[string]models.ParentRequest
	events         map[string]models.Event
	attendance     map[string]models.AttendanceRecord
	participations map[string]models.ParticipationRequest

	// failures makes the named operation return the error once.
	failures map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		members:        map[string]models.Member{},
		registrations:  map[string]models.RegistrationRequest{},
		kids:           map[string]models.Kid{},
		parentRequests: map[string]models.ParentRequest{},
		events:         map[string]models.Event{},
		attendance:     map[string]models.AttendanceRecord{},
		participations: map[string]models.ParticipationRequest{},
		failures:       map[string]error{},
	}
}

func (s *memStore) fail(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneMember(m models.Member) models.Member {
	m.Groups = cloneStrings(m.Groups)
	m.KidIDs = cloneStrings(m.KidIDs)
	m.LinkedYouthIDs = cloneStrings(m.LinkedYouthIDs)
	m.LinkedParents = cloneStrings(m.LinkedParents)
	return m
}

func cloneRegistration(r models.RegistrationRequest) models.RegistrationRequest {
	r.RejectionHistory = append(models.RejectionHistory(nil), r.RejectionHistory...)
	return r
}

func cloneKid(k models.Kid) models.Kid {
	k.ParentEmails = cloneStrings(k.ParentEmails)
	k.LinkedParents = append(models.LinkedParents(nil), k.LinkedParents...)
	return k
}

func (s *memStore) snapshot() *memStore {
	c := newMemStore()
	for k, v := range s.members {
		c.members[k] = cloneMember(v)
	}
	c.history = append([]models.StatusHistoryEntry(nil), s.history...)
	for k, v := range s.registrations {
		c.registrations[k] = cloneRegistration(v)
	}
	for k, v := range s.kids {
		c.kids[k] = cloneKid(v)
	}
	for k, v := range s.parentRequests {
		c.parentRequests[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.attendance {
		c.attendance[k] = v
	}
	for k, v := range s.participations {
		c.participations[k] = v
	}
	return c
}

func (s *memStore) restore(c *memStore) {
	s.members = c.members
	s.history = c.history
	s.registrations = c.registrations
	s.kids = c.kids
	s.parentRequests = c.parentRequests
	s.events = c.events
	s.attendance = c.attendance
	s.participations = c.participations
}

func (s *memStore) WithinTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	s.mu.Lock()
	snap := s.snapshot()
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) addMember(m models.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Status == "" {
		m.Status = models.MemberActive
	}
	if m.Role == "" {
		m.Role = models.RolePlayer
	}
	if m.MemberType == "" {
		m.MemberType = models.MemberTypeStandard
	}
	if m.ActiveProfileID == "" {
		m.ActiveProfileID = m.ID
	}
	s.members[m.ID] = cloneMember(m)
}

func (s *memStore) member(id string) (models.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	return cloneMember(m), ok
}

func (s *memStore) registration(id string) (models.RegistrationRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[id]
	return cloneRegistration(r), ok
}

func attendanceKey(eventID, subjectID string) string {
	return eventID + "|" + subjectID
}

func (s *memStore) record(eventID, subjectID string) (models.AttendanceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.attendance[attendanceKey(eventID, subjectID)]
	return r, ok
}

// --- members ---

type fakeMembers struct{ s *memStore }

var _ repositories.MemberRepository = fakeMembers{}

func (f fakeMembers) Create(_ context.Context, _ repositories.SQLExecutor, m *models.Member) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.s.fail("members.Create"); err != nil {
		return err
	}
	if _, ok := f.s.members[m.ID]; ok {
		return repositories.ErrMemberIDConflict
	}
	for _, existing := range f.s.members {
		if strings.EqualFold(existing.Email, m.Email) {
			return repositories.ErrMemberEmailConflict
		}
	}
	m.CreatedAt, m.UpdatedAt = testNow, testNow
	f.s.members[m.ID] = cloneMember(*m)
	return nil
}

func (f fakeMembers) GetByID(_ context.Context, _ repositories.SQLExecutor, id string) (*models.Member, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m, ok := f.s.members[id]
	if !ok {
		return nil, repositories.ErrMemberNotFound
	}
	c := cloneMember(m)
	return &c, nil
}

func (f fakeMembers) GetByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id string) (*models.Member, error) {
	return f.GetByID(ctx, exec, id)
}

func (f fakeMembers) GetByEmail(_ context.Context, _ repositories.SQLExecutor, email string) (*models.Member, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, m := range f.s.members {
		if strings.EqualFold(m.Email, email) {
			c := cloneMember(m)
			return &c, nil
		}
	}
	return nil, repositories.ErrMemberNotFound
}

func (f fakeMembers) update(id string, fn func(m *models.Member)) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m, ok := f.s.members[id]
	if !ok {
		return repositories.ErrMemberNotFound
	}
	fn(&m)
	m.UpdatedAt = testNow
	f.s.members[id] = m
	return nil
}

func (f fakeMembers) UpdateProfile(_ context.Context, _ repositories.SQLExecutor, in *models.Member) error {
	return f.update(in.ID, func(m *models.Member) {
		m.Name = in.Name
		m.Gender = in.Gender
		m.PaysViaParent = in.PaysViaParent
		m.Groups = cloneStrings(in.Groups)
		m.LegacyGroup = in.LegacyGroup
		m.MemberType = in.MemberType
		m.Phone = in.Phone
		m.BirthYear = in.BirthYear
		m.BirthMonth = in.BirthMonth
		m.PaymentManagerID = in.PaymentManagerID
		m.ProfileCompleted = in.ProfileCompleted
	})
}

func (f fakeMembers) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, id string, status models.MemberStatus, actorID string, at time.Time) error {
	if err := f.s.fail("members.UpdateStatus"); err != nil {
		return err
	}
	return f.update(id, func(m *models.Member) {
		m.Status = status
		m.StatusUpdatedAt = &at
		m.StatusUpdatedBy = &actorID
	})
}

func (f fakeMembers) UpdateRole(_ context.Context, _ repositories.SQLExecutor, id string, role models.MemberRole) error {
	return f.update(id, func(m *models.Member) { m.Role = role })
}

func (f fakeMembers) AppendHistory(_ context.Context, _ repositories.SQLExecutor, entry *models.StatusHistoryEntry) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.s.fail("members.AppendHistory"); err != nil {
		return err
	}
	entry.ID = int64(len(f.s.history) + 1)
	f.s.history = append(f.s.history, *entry)
	return nil
}

func (f fakeMembers) ListHistory(_ context.Context, memberID string) ([]models.StatusHistoryEntry, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []models.StatusHistoryEntry
	for _, e := range f.s.history {
		if e.MemberID == memberID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f fakeMembers) CountActiveAdmins(_ context.Context, _ repositories.SQLExecutor, excludeID string) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	n := 0
	for _, m := range f.s.members {
		if m.ID != excludeID && m.IsActiveAdmin() {
			n++
		}
	}
	return n, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(cloneStrings(list), v)
}

func (f fakeMembers) AddKid(_ context.Context, _ repositories.SQLExecutor, memberID, kidID string) error {
	return f.update(memberID, func(m *models.Member) { m.KidIDs = appendUnique(m.KidIDs, kidID) })
}

func (f fakeMembers) AddLinkedYouth(_ context.Context, _ repositories.SQLExecutor, memberID, youthID string) error {
	if err := f.s.fail("members.AddLinkedYouth"); err != nil {
		return err
	}
	return f.update(memberID, func(m *models.Member) { m.LinkedYouthIDs = appendUnique(m.LinkedYouthIDs, youthID) })
}

func (f fakeMembers) AddLinkedParent(_ context.Context, _ repositories.SQLExecutor, memberID, parentID string) error {
	if err := f.s.fail("members.AddLinkedParent"); err != nil {
		return err
	}
	return f.update(memberID, func(m *models.Member) { m.LinkedParents = appendUnique(m.LinkedParents, parentID) })
}

func (f fakeMembers) SetActiveProfile(_ context.Context, id, profileID string) error {
	return f.update(id, func(m *models.Member) {
		m.ActiveProfileID = profileID
		m.LastLoginProfile = &profileID
	})
}

func (f fakeMembers) SetAvatarKey(_ context.Context, id string, key *string) error {
	return f.update(id, func(m *models.Member) { m.AvatarKey = key })
}

func (f fakeMembers) List(_ context.Context, filter models.MemberFilter) ([]models.Member, int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var all []models.Member
	for _, m := range f.s.members {
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		if filter.Role != nil && m.Role != *filter.Role {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(m.Name+" "+m.Email), strings.ToLower(filter.Search)) {
			continue
		}
		all = append(all, cloneMember(m))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	start := (filter.Page - 1) * filter.Limit
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// --- registrations ---

type fakeRegistrations struct{ s *memStore }

var _ repositories.RegistrationRepository = fakeRegistrations{}

func (f fakeRegistrations) Create(_ context.Context, _ repositories.SQLExecutor, r *models.RegistrationRequest) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.registrations[r.ID]; ok {
		return repositories.ErrRegistrationConflict
	}
	r.CreatedAt, r.UpdatedAt = testNow, testNow
	f.s.registrations[r.ID] = cloneRegistration(*r)
	return nil
}

func (f fakeRegistrations) GetByID(_ context.Context, _ repositories.SQLExecutor, id string) (*models.RegistrationRequest, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.registrations[id]
	if !ok {
		return nil, repositories.ErrRegistrationNotFound
	}
	c := cloneRegistration(r)
	return &c, nil
}

func (f fakeRegistrations) GetForUpdate(ctx context.Context, exec repositories.SQLExecutor, id string) (*models.RegistrationRequest, error) {
	return f.GetByID(ctx, exec, id)
}

func (f fakeRegistrations) Update(_ context.Context, _ repositories.SQLExecutor, r *models.RegistrationRequest) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.registrations[r.ID]; !ok {
		return repositories.ErrRegistrationNotFound
	}
	r.UpdatedAt = testNow
	f.s.registrations[r.ID] = cloneRegistration(*r)
	return nil
}

func (f fakeRegistrations) Delete(_ context.Context, _ repositories.SQLExecutor, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.registrations[id]; !ok {
		return repositories.ErrRegistrationNotFound
	}
	delete(f.s.registrations, id)
	return nil
}

func (f fakeRegistrations) ListByStatus(_ context.Context, statuses ...models.RegistrationStatus) ([]models.RegistrationRequest, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []models.RegistrationRequest
	for _, r := range f.s.registrations {
		for _, st := range statuses {
			if r.Status == st {
				out = append(out, cloneRegistration(r))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- kids ---

type fakeKids struct{ s *memStore }

var _ repositories.KidRepository = fakeKids{}

func (f fakeKids) Create(_ context.Context, _ repositories.SQLExecutor, k *models.Kid) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.members[k.ParentID]; !ok {
		return repositories.ErrKidParentInvalid
	}
	k.CreatedAt, k.UpdatedAt = testNow, testNow
	f.s.kids[k.ID] = cloneKid(*k)
	return nil
}

func (f fakeKids) GetByID(_ context.Context, _ repositories.SQLExecutor, id string) (*models.Kid, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	k, ok := f.s.kids[id]
	if !ok {
		return nil, repositories.ErrKidNotFound
	}
	c := cloneKid(k)
	return &c, nil
}

func (f fakeKids) GetForUpdate(ctx context.Context, exec repositories.SQLExecutor, id string) (*models.Kid, error) {
	return f.GetByID(ctx, exec, id)
}

func (f fakeKids) AddParent(_ context.Context, _ repositories.SQLExecutor, kidID, email string, link models.LinkedParent) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	k, ok := f.s.kids[kidID]
	if !ok {
		return repositories.ErrKidNotFound
	}
	for _, e := range k.ParentEmails {
		if strings.EqualFold(e, email) {
			return repositories.ErrKidParentConflict
		}
	}
	k = cloneKid(k)
	k.ParentEmails = append(k.ParentEmails, email)
	k.LinkedParents = append(k.LinkedParents, link)
	f.s.kids[kidID] = k
	return nil
}

func (f fakeKids) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, id string, status models.KidStatus) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	k, ok := f.s.kids[id]
	if !ok {
		return repositories.ErrKidNotFound
	}
	k.Status = status
	f.s.kids[id] = k
	return nil
}

func (f fakeKids) ListByIDs(_ context.Context, ids []string) ([]models.Kid, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []models.Kid
	for _, id := range ids {
		if k, ok := f.s.kids[id]; ok {
			out = append(out, cloneKid(k))
		}
	}
	return out, nil
}

// --- parent requests ---

type fakeParentRequests struct{ s *memStore }

var _ repositories.ParentRequestRepository = fakeParentRequests{}

func (f fakeParentRequests) Create(_ context.Context, _ repositories.SQLExecutor, pr *models.ParentRequest) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.members[pr.ParentID]; !ok {
		return repositories.ErrParentRequestParentInvalid
	}
	pr.CreatedAt = testNow
	f.s.parentRequests[pr.ID] = *pr
	return nil
}

func (f fakeParentRequests) GetByID(_ context.Context, _ repositories.SQLExecutor, id string) (*models.ParentRequest, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	pr, ok := f.s.parentRequests[id]
	if !ok {
		return nil, repositories.ErrParentRequestNotFound
	}
	return &pr, nil
}

func (f fakeParentRequests) GetForUpdate(ctx context.Context, exec repositories.SQLExecutor, id string) (*models.ParentRequest, error) {
	return f.GetByID(ctx, exec, id)
}

func (f fakeParentRequests) Resolve(_ context.Context, _ repositories.SQLExecutor, id string, status models.ParentRequestStatus, resolvedBy string, reason *string, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	pr, ok := f.s.parentRequests[id]
	if !ok || pr.Status != models.ParentRequestPending {
		return repositories.ErrParentRequestNotFound
	}
	pr.Status = status
	pr.ResolvedBy = &resolvedBy
	pr.ResolvedAt = &at
	pr.Reason = reason
	f.s.parentRequests[id] = pr
	return nil
}

func (f fakeParentRequests) ListByParent(_ context.Context, parentID string, status *models.ParentRequestStatus) ([]models.ParentRequest, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []models.ParentRequest
	for _, pr := range f.s.parentRequests {
		if pr.ParentID == parentID && (status == nil || pr.Status == *status) {
			out = append(out, pr)
		}
	}
	return out, nil
}

// --- events ---

type fakeEvents struct{ s *memStore }

var _ repositories.EventRepository = fakeEvents{}

func (f fakeEvents) Create(_ context.Context, e *models.Event) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e.CreatedAt, e.UpdatedAt = testNow, testNow
	f.s.events[e.ID] = *e
	return nil
}

func (f fakeEvents) GetByID(_ context.Context, _ repositories.SQLExecutor, id string) (*models.Event, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.events[id]
	if !ok {
		return nil, repositories.ErrEventNotFound
	}
	return &e, nil
}

func (f fakeEvents) List(_ context.Context, filter models.EventFilter) ([]models.Event, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []models.Event
	for _, e := range f.s.events {
		if filter.Type != nil && e.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (f fakeEvents) Update(_ context.Context, e *models.Event) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.events[e.ID]; !ok {
		return repositories.ErrEventNotFound
	}
	f.s.events[e.ID] = *e
	return nil
}

func (f fakeEvents) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, id string, status models.EventStatus, actorID string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	e, ok := f.s.events[id]
	if !ok {
		return repositories.ErrEventNotFound
	}
	e.Status = status
	e.UpdatedBy = &actorID
	f.s.events[id] = e
	return nil
}

func (f fakeEvents) Delete(_ context.Context, _ repositories.SQLExecutor, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.events[id]; !ok {
		return repositories.ErrEventNotFound
	}
	delete(f.s.events, id)
	for k, a := range f.s.attendance {
		if a.EventID == id {
			delete(f.s.attendance, k)
		}
	}
	for k, p := range f.s.participations {
		if p.EventID == id {
			delete(f.s.participations, k)
		}
	}
	return nil
}

// --- attendance ---

type fakeAttendance struct{ s *memStore }

var _ repositories.AttendanceRepository = fakeAttendance{}

func (f fakeAttendance) Get(_ context.Context, _ repositories.SQLExecutor, eventID, subjectID string) (*models.AttendanceRecord, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	a, ok := f.s.attendance[attendanceKey(eventID, subjectID)]
	if !ok {
		return nil, repositories.ErrAttendanceNotFound
	}
	return &a, nil
}

func (f fakeAttendance) Upsert(_ context.Context, _ repositories.SQLExecutor, a *models.AttendanceRecord) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.s.fail("attendance.Upsert"); err != nil {
		return err
	}
	if _, ok := f.s.events[a.EventID]; !ok {
		return repositories.ErrAttendanceEventInvalid
	}
	if a.RecordStatus == "" {
		a.RecordStatus = models.RecordActive
	}
	rec := *a
	if existing, ok := f.s.attendance[attendanceKey(a.EventID, a.SubjectID)]; ok {
		rec.PaymentMarkedAt, rec.PaymentMarkedBy = existing.PaymentMarkedAt, existing.PaymentMarkedBy
		rec.ConfirmedAt, rec.ConfirmedBy = existing.ConfirmedAt, existing.ConfirmedBy
		rec.RejectedAt, rec.RejectedBy = existing.RejectedAt, existing.RejectedBy
	}
	rec.UpdatedAt = testNow
	f.s.attendance[attendanceKey(a.EventID, a.SubjectID)] = rec
	return nil
}

func (f fakeAttendance) MarkPending(_ context.Context, _ repositories.SQLExecutor, eventID, subjectID, markedBy string, at time.Time, allowed []models.PaymentStatus) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	key := attendanceKey(eventID, subjectID)
	a, ok := f.s.attendance[key]
	if !ok {
		return repositories.ErrAttendanceStateChanged
	}
	permitted := false
	for _, st := range allowed {
		if a.PaymentStatus == st {
			permitted = true
		}
	}
	if !permitted {
		return repositories.ErrAttendanceStateChanged
	}
	a.PaymentStatus = models.PaymentPending
	a.PaymentMarkedAt = &at
	a.PaymentMarkedBy = &markedBy
	f.s.attendance[key] = a
	return nil
}

func (f fakeAttendance) ResolvePayment(_ context.Context, _ repositories.SQLExecutor, eventID, subjectID string, status models.PaymentStatus, actorID string, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.s.fail("attendance.ResolvePayment"); err != nil {
		return err
	}
	key := attendanceKey(eventID, subjectID)
	a, ok := f.s.attendance[key]
	if !ok {
		return repositories.ErrAttendanceNotFound
	}
	a.PaymentStatus = status
	switch status {
	case models.PaymentPaid:
		a.ConfirmedAt, a.ConfirmedBy = &at, &actorID
	case models.PaymentRejected:
		a.RejectedAt, a.RejectedBy = &at, &actorID
	}
	f.s.attendance[key] = a
	return nil
}

func (f fakeAttendance) SetAttended(_ context.Context, _ repositories.SQLExecutor, eventID, subjectID string, attended bool) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	key := attendanceKey(eventID, subjectID)
	a, ok := f.s.attendance[key]
	if !ok {
		return repositories.ErrAttendanceNotFound
	}
	a.Attended = attended
	f.s.attendance[key] = a
	return nil
}

func (f fakeAttendance) SetRecordStatusForSubject(_ context.Context, _ repositories.SQLExecutor, subjectID string, status models.RecordStatus) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for k, a := range f.s.attendance {
		if a.SubjectID == subjectID && a.RecordStatus != status {
			a.RecordStatus = status
			f.s.attendance[k] = a
			n++
		}
	}
	return n, nil
}

func (f fakeAttendance) ListByEvent(_ context.Context, _ repositories.SQLExecutor, eventID string) ([]models.AttendanceRecord, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []models.AttendanceRecord
	for _, a := range f.s.attendance {
		if a.EventID == eventID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- participation ---

type fakeParticipations struct{ s *memStore }

var _ repositories.ParticipationRepository = fakeParticipations{}

func (f fakeParticipations) CreateIfAbsent(_ context.Context, _ repositories.SQLExecutor, p *models.ParticipationRequest) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.events[p.EventID]; !ok {
		return repositories.ErrEventNotFound
	}
	if _, ok := f.s.participations[p.ID]; ok {
		return repositories.ErrParticipationDuplicate
	}
	p.CreatedAt = testNow
	f.s.participations[p.ID] = *p
	return nil
}

func (f fakeParticipations) GetByID(_ context.Context, _ repositories.SQLExecutor, id string) (*models.ParticipationRequest, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.participations[id]
	if !ok {
		return nil, repositories.ErrParticipationNotFound
	}
	return &p, nil
}

func (f fakeParticipations) GetForUpdate(ctx context.Context, exec repositories.SQLExecutor, id string) (*models.ParticipationRequest, error) {
	return f.GetByID(ctx, exec, id)
}

func (f fakeParticipations) Resolve(_ context.Context, _ repositories.SQLExecutor, id string, status models.ParticipationStatus, resolvedBy string, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.participations[id]
	if !ok || p.Status != models.ParticipationPending {
		return repositories.ErrParticipationNotFound
	}
	p.Status = status
	p.ResolvedBy = &resolvedBy
	p.ResolvedAt = &at
	f.s.participations[id] = p
	return nil
}

func (f fakeParticipations) ListByEvent(_ context.Context, _ repositories.SQLExecutor, eventID string) ([]models.ParticipationRequest, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []models.ParticipationRequest
	for _, p := range f.s.participations {
		if p.EventID == eventID {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- collaborators ---

type recordedTransition struct{ entity, from, to string }

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []recordedTransition
}

func (r *fakeRecorder) RecordTransition(entity, from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, recordedTransition{entity, from, to})
}

type fakeNotifier struct {
	mu       sync.Mutex
	approved []string
	rejected []string
	parents  []string
	err      error
}

func (n *fakeNotifier) RegistrationApproved(_ context.Context, email, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved = append(n.approved, email)
	return n.err
}

func (n *fakeNotifier) RegistrationRejected(_ context.Context, email, _, _ string, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, email)
	return n.err
}

func (n *fakeNotifier) PaymentManagerRequested(_ context.Context, parentEmail, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parents = append(n.parents, parentEmail)
	return n.err
}

// testEnv wires every service against one memStore with a fixed clock.
type testEnv struct {
	store    *memStore
	recorder *fakeRecorder
	notifier *fakeNotifier

	registration  *registrationService
	status        *memberStatusService
	delegation    *delegationService
	events        *eventService
	attendance    *attendanceService
	participation *participationService
	members       *memberService
}

func newTestEnv() *testEnv {
	store := newMemStore()
	rec := &fakeRecorder{}
	notifier := &fakeNotifier{}
	logger := discardLogger()

	members := fakeMembers{store}
	registrations := fakeRegistrations{store}
	kids := fakeKids{store}
	parentRequests := fakeParentRequests{store}
	events := fakeEvents{store}
	attendance := fakeAttendance{store}
	participations := fakeParticipations{store}

	env := &testEnv{store: store, recorder: rec, notifier: notifier}
	env.registration = NewRegistrationService(store, members, registrations, parentRequests, notifier, rec, logger).(*registrationService)
	env.status = NewMemberStatusService(store, members, rec, logger).(*memberStatusService)
	env.delegation = NewDelegationService(store, members, kids, attendance, rec, logger).(*delegationService)
	env.events = NewEventService(store, events, attendance, participations, rec, logger).(*eventService)
	env.attendance = NewAttendanceService(store, events, attendance, env.delegation, rec, logger).(*attendanceService)
	env.participation = NewParticipationService(store, events, attendance, participations, env.delegation, rec, logger).(*participationService)
	env.members = NewMemberService(members, nil, logger).(*memberService)
	env.setNow(testNow)
	return env
}

func (e *testEnv) setNow(t time.Time) {
	clock := fixedClock(t)
	e.registration.now = clock
	e.status.now = clock
	e.delegation.now = clock
	e.events.now = clock
	e.attendance.now = clock
	e.participation.now = clock
	e.members.now = clock
}

func (e *testEnv) addEvent(ev models.Event) models.Event {
	if ev.Status == "" {
		ev.Status = models.EventScheduled
	}
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.events[ev.ID] = ev
	return ev
}

func (e *testEnv) addKid(k models.Kid) {
	if k.Status == "" {
		k.Status = models.KidActive
	}
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.kids[k.ID] = cloneKid(k)
	if parent, ok := e.store.members[k.ParentID]; ok {
		parent.KidIDs = appendUnique(parent.KidIDs, k.ID)
		e.store.members[k.ParentID] = parent
	}
}

func intPtr(v int) *int { return &v }
