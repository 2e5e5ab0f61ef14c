package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dosada05/club-system/identity"
	"github.com/Dosada05/club-system/middleware"
	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/repositories"
	"github.com/Dosada05/club-system/services"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fakes embed the service interface so tests only implement the calls they expect;
// anything else panics.

type fakeAttendanceService struct {
	services.AttendanceService
	SetAttendingFunc    func(eventID, memberID, subjectID string, attending bool) (*models.AttendanceRecord, error)
	MarkPaidFunc        func(eventID, memberID, subjectID string) (*models.AttendanceRecord, error)
	ConfirmPaymentsFunc func(adminID string, in services.PaymentConfirmationInput) (int, error)
}

func (f *fakeAttendanceService) SetAttending(_ context.Context, eventID, memberID, subjectID string, attending bool) (*models.AttendanceRecord, error) {
	return f.SetAttendingFunc(eventID, memberID, subjectID, attending)
}

func (f *fakeAttendanceService) MarkPaid(_ context.Context, eventID, memberID, subjectID string) (*models.AttendanceRecord, error) {
	return f.MarkPaidFunc(eventID, memberID, subjectID)
}

func (f *fakeAttendanceService) AdminConfirmPayments(_ context.Context, adminID string, in services.PaymentConfirmationInput) (int, error) {
	return f.ConfirmPaymentsFunc(adminID, in)
}

type fakeEventService struct {
	services.EventService
	ListFunc func(filter models.EventFilter, subject *models.Subject) ([]models.Event, error)
}

func (f *fakeEventService) List(_ context.Context, filter models.EventFilter, subject *models.Subject) ([]models.Event, error) {
	return f.ListFunc(filter, subject)
}

type fakeSubjects struct {
	ResolveFunc func(memberID, subjectID string) (*models.Subject, error)
}

func (f *fakeSubjects) ResolveSubject(_ context.Context, memberID, subjectID string) (*models.Subject, error) {
	return f.ResolveFunc(memberID, subjectID)
}

func (f *fakeSubjects) LookupSubject(context.Context, string) (*models.Subject, error) {
	return nil, errors.New("not used")
}

type fakeRegistrationService struct {
	services.RegistrationService
	ApproveFunc       func(requestID, approverID string, overrides *models.ApprovalOverrides) (string, error)
	OnFirstSignInFunc func(in services.FirstSignInInput) (*models.SignInOutcome, error)
}

func (f *fakeRegistrationService) Approve(_ context.Context, requestID, approverID string, overrides *models.ApprovalOverrides) (string, error) {
	return f.ApproveFunc(requestID, approverID, overrides)
}

func (f *fakeRegistrationService) OnFirstSignIn(_ context.Context, in services.FirstSignInInput) (*models.SignInOutcome, error) {
	return f.OnFirstSignInFunc(in)
}

type fakeStatusService struct {
	services.MemberStatusService
	ChangeStatusFunc func(targetID, actorID string, action services.StatusAction) (*models.Member, error)
}

func (f *fakeStatusService) ChangeStatus(_ context.Context, targetID, actorID string, action services.StatusAction, _ *string) (*models.Member, error) {
	return f.ChangeStatusFunc(targetID, actorID, action)
}

type fakeMemberService struct {
	services.MemberService
	UploadAvatarFunc func(memberID, contentType string, body []byte) (*models.Member, error)
}

func (f *fakeMemberService) UploadAvatar(_ context.Context, memberID, contentType string, reader io.Reader) (*models.Member, error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return f.UploadAvatarFunc(memberID, contentType, body)
}

type fakeAuthService struct {
	services.AuthService
	IdentifyFunc func(assertion string) (*identity.Assertion, error)
	SignInFunc   func(assertion string) (*services.SignInResult, error)
	revoked      []string
}

func (f *fakeAuthService) SignIn(_ context.Context, assertion string) (*services.SignInResult, error) {
	return f.SignInFunc(assertion)
}

func (f *fakeAuthService) SignOut(_ context.Context, sessionID string) error {
	f.revoked = append(f.revoked, sessionID)
	return nil
}

func (f *fakeAuthService) Identify(_ context.Context, assertion string) (*identity.Assertion, error) {
	return f.IdentifyFunc(assertion)
}

// withMember stands in for middleware.Authenticate.
func withMember(member *models.Member) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.ContextWithMember(r.Context(), member, "sess-1")))
		})
	}
}

func serve(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestMapServiceErrorToHTTP(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantMsg    string
	}{
		{services.ErrValidationFailed, http.StatusBadRequest, "validation failed"},
		{services.ErrInvalidToken, http.StatusUnauthorized, "invalid or expired token"},
		{services.ErrAttendanceCutoff, http.StatusForbidden, "RSVP is closed"},
		{fmt.Errorf("load: %w", services.ErrEventNotFound), http.StatusNotFound, "event not found"},
		{services.ErrPaymentNotAllowed, http.StatusConflict, "payment cannot be marked"},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, "the server encountered a problem"},
		{fmt.Errorf("list events: %w", repositories.ErrSchemaMissing), http.StatusInternalServerError, repositories.ErrSchemaMissing.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rr := httptest.NewRecorder()
			mapServiceErrorToHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, decodeBody(t, rr)["error"], tt.wantMsg)
			assert.NotContains(t, rr.Body.String(), "connection reset")
		})
	}
}

func TestDecodeAndValidate(t *testing.T) {
	type payload struct {
		ParentEmail string `json:"parent_email" validate:"required,email"`
		BirthYear   int    `json:"birth_year" validate:"required"`
	}

	tests := []struct {
		name       string
		body       string
		wantOK     bool
		wantFields map[string]interface{}
		wantError  string
	}{
		{name: "valid", body: `{"parent_email":"p@example.com","birth_year":2015}`, wantOK: true},
		{name: "unknown field", body: `{"parent_email":"p@example.com","birth_year":2015,"x":1}`, wantError: `body contains unknown key "x"`},
		{name: "empty body", body: ``, wantError: "body must not be empty"},
		{name: "two values", body: `{} {}`, wantError: "body must only contain a single JSON value"},
		{
			name: "field errors",
			body: `{"parent_email":"nope"}`,
			wantFields: map[string]interface{}{
				"parent_email": "must be a valid email address",
				"birth_year":   "is required",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload

			ok := decodeAndValidate(rr, req, &dst)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, 2015, dst.BirthYear)
				return
			}
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			body := decodeBody(t, rr)
			if tt.wantFields != nil {
				assert.Equal(t, tt.wantFields, body["error"])
			} else {
				assert.Equal(t, tt.wantError, body["error"])
			}
		})
	}
}

func newEventRouter(h *EventHandler, member *models.Member) http.Handler {
	r := chi.NewRouter()
	r.Use(withMember(member))
	r.Get("/events", h.ListEvents)
	r.Post("/events/{eventID}/attendance", h.SetAttendance)
	r.Post("/events/{eventID}/payment", h.MarkPaid)
	r.Post("/admin/payments/confirm", h.ConfirmPayments)
	return r
}

func TestSetAttendance_UsesActingProfile(t *testing.T) {
	var got []string
	attendance := &fakeAttendanceService{
		SetAttendingFunc: func(eventID, memberID, subjectID string, attending bool) (*models.AttendanceRecord, error) {
			if subjectID == "stranger-kid" {
				return nil, services.ErrNotAccessible
			}
			got = []string{eventID, memberID, subjectID, fmt.Sprint(attending)}
			return &models.AttendanceRecord{EventID: eventID, SubjectID: subjectID, Attending: attending}, nil
		},
	}
	h := NewEventHandler(nil, attendance, nil, nil)
	parent := &models.Member{ID: "parent", Role: models.RolePlayer, Status: models.MemberActive, ActiveProfileID: "kid1"}
	router := newEventRouter(h, parent)

	rr := serve(t, router, http.MethodPost, "/events/ev1/attendance", `{"attending":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"ev1", "parent", "kid1", "true"}, got)

	rr = serve(t, router, http.MethodPost, "/events/ev1/attendance", `{"attending":false,"subject_id":"parent"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"ev1", "parent", "parent", "false"}, got)

	rr = serve(t, router, http.MethodPost, "/events/ev1/attendance", `{"attending":true,"subject_id":"stranger-kid"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, []string{"ev1", "parent", "parent", "false"}, got)

	rr = serve(t, router, http.MethodPost, "/events/ev1/attendance", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, map[string]interface{}{"attending": "is required"}, decodeBody(t, rr)["error"])
}

func TestMarkPaid_MapsBusinessRules(t *testing.T) {
	attendance := &fakeAttendanceService{
		MarkPaidFunc: func(eventID, memberID, subjectID string) (*models.AttendanceRecord, error) {
			if subjectID == "kid1" {
				return nil, services.ErrNotAttendedYet
			}
			return &models.AttendanceRecord{EventID: eventID, SubjectID: subjectID, PaymentStatus: models.PaymentPending}, nil
		},
	}
	h := NewEventHandler(nil, attendance, nil, nil)
	router := newEventRouter(h, &models.Member{ID: "parent", Status: models.MemberActive})

	rr := serve(t, router, http.MethodPost, "/events/ev1/payment", "")
	require.Equal(t, http.StatusOK, rr.Code)
	record := decodeBody(t, rr)["attendance"].(map[string]interface{})
	assert.Equal(t, "PENDING", record["payment_status"])

	rr = serve(t, router, http.MethodPost, "/events/ev1/payment", `{"subject_id":"kid1"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestListEvents_Visibility(t *testing.T) {
	var gotSubject *models.Subject
	events := &fakeEventService{ListFunc: func(_ models.EventFilter, subject *models.Subject) ([]models.Event, error) {
		gotSubject = subject
		return []models.Event{{ID: "ev1"}}, nil
	}}
	subjects := &fakeSubjects{ResolveFunc: func(memberID, subjectID string) (*models.Subject, error) {
		return &models.Subject{ID: subjectID, Type: models.SubjectAdult, Groups: []string{"Men"}}, nil
	}}
	h := NewEventHandler(events, nil, nil, subjects)

	player := newEventRouter(h, &models.Member{ID: "p1", Role: models.RolePlayer, Status: models.MemberActive})
	rr := serve(t, player, http.MethodGet, "/events?all=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, gotSubject)
	assert.Equal(t, "p1", gotSubject.ID)

	admin := newEventRouter(h, &models.Member{ID: "a1", Role: models.RoleAdmin, Status: models.MemberActive})
	rr = serve(t, admin, http.MethodGet, "/events?all=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, gotSubject)

	rr = serve(t, admin, http.MethodGet, "/events?type=party", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = serve(t, admin, http.MethodGet, "/events?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConfirmPayments(t *testing.T) {
	attendance := &fakeAttendanceService{
		ConfirmPaymentsFunc: func(adminID string, in services.PaymentConfirmationInput) (int, error) {
			if in.Status == "bogus" {
				return 0, services.ErrInvalidPaymentStatus
			}
			return len(in.Payments), nil
		},
	}
	h := NewEventHandler(nil, attendance, nil, nil)
	router := newEventRouter(h, &models.Member{ID: "a1", Role: models.RoleAdmin, Status: models.MemberActive})

	body := `{"status":"paid","payments":[{"event_id":"ev1","subject_id":"p1","subject_type":"adult"}]}`
	rr := serve(t, router, http.MethodPost, "/admin/payments/confirm", body)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), decodeBody(t, rr)["updated"])

	rr = serve(t, router, http.MethodPost, "/admin/payments/confirm", `{"status":"bogus","payments":[{"event_id":"ev1"}]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, router, http.MethodPost, "/admin/payments/confirm", `{"status":"paid","payments":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func newAdminRouter(h *AdminHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(withMember(&models.Member{ID: "a1", Role: models.RoleAdmin, Status: models.MemberActive}))
	r.Post("/admin/registrations/{requestID}/approve", h.ApproveRegistration)
	r.Post("/admin/members/{memberID}/status", h.ChangeStatus)
	return r
}

func TestApproveRegistration_Overrides(t *testing.T) {
	var gotOverrides *models.ApprovalOverrides
	registrations := &fakeRegistrationService{ApproveFunc: func(requestID, approverID string, overrides *models.ApprovalOverrides) (string, error) {
		gotOverrides = overrides
		if requestID == "done" {
			return "", services.ErrAlreadyApproved
		}
		return requestID, nil
	}}
	router := newAdminRouter(NewAdminHandler(registrations, nil, nil, nil))

	rr := serve(t, router, http.MethodPost, "/admin/registrations/sub-1/approve", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sub-1", decodeBody(t, rr)["member_id"])
	assert.Nil(t, gotOverrides)

	rr = serve(t, router, http.MethodPost, "/admin/registrations/sub-1/approve", `{"group":"Women","birth_year":1990}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, gotOverrides)
	assert.Equal(t, "Women", *gotOverrides.Group)
	assert.Equal(t, 1990, *gotOverrides.BirthYear)

	rr = serve(t, router, http.MethodPost, "/admin/registrations/done/approve", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestChangeStatus(t *testing.T) {
	statuses := &fakeStatusService{ChangeStatusFunc: func(targetID, actorID string, action services.StatusAction) (*models.Member, error) {
		if targetID == actorID {
			return nil, services.ErrSelfStatusChange
		}
		return &models.Member{ID: targetID, Status: models.MemberDisabled}, nil
	}}
	router := newAdminRouter(NewAdminHandler(nil, nil, statuses, nil))

	rr := serve(t, router, http.MethodPost, "/admin/members/p1/status", `{"action":"disable"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, router, http.MethodPost, "/admin/members/a1/status", `{"action":"disable"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(t, router, http.MethodPost, "/admin/members/p1/status", `{"action":"ban"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, map[string]interface{}{"action": "must be one of disable enable remove restore"}, decodeBody(t, rr)["error"])
}

func TestUploadAvatar(t *testing.T) {
	members := &fakeMemberService{UploadAvatarFunc: func(memberID, contentType string, body []byte) (*models.Member, error) {
		if contentType != "image/png" {
			return nil, services.ErrValidationFailed
		}
		url := "https://cdn.example.com/" + memberID + ".png"
		return &models.Member{ID: memberID, AvatarURL: &url}, nil
	}}
	h := NewMemberHandler(members, nil, nil)
	router := chi.NewRouter()
	router.Use(withMember(&models.Member{ID: "m1", Status: models.MemberActive}))
	router.Put("/me/avatar", h.UploadAvatar)

	upload := func(contentType string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{`form-data; name="avatar"; filename="me.png"`}
		header["Content-Type"] = []string{contentType}
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, _ = part.Write([]byte("\x89PNG"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPut, "/me/avatar", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := upload("image/png")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	member := decodeBody(t, rr)["member"].(map[string]interface{})
	assert.Equal(t, "https://cdn.example.com/m1.png", member["avatar_url"])

	rr = upload("text/plain")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, router, http.MethodPut, "/me/avatar", `{"avatar":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegistrationSubmit(t *testing.T) {
	auth := &fakeAuthService{IdentifyFunc: func(assertion string) (*identity.Assertion, error) {
		if assertion != "good" {
			return nil, services.ErrInvalidToken
		}
		return &identity.Assertion{SubjectID: "sub-1", Email: "new@example.com", Name: "New"}, nil
	}}
	var gotInput services.FirstSignInInput
	registrations := &fakeRegistrationService{OnFirstSignInFunc: func(in services.FirstSignInInput) (*models.SignInOutcome, error) {
		gotInput = in
		return &models.SignInOutcome{Status: models.RegistrationPending, Created: true}, nil
	}}
	h := NewRegistrationHandler(auth, registrations)
	router := chi.NewRouter()
	router.Post("/registration", h.Submit)

	rr := serve(t, router, http.MethodPost, "/registration", `{"assertion":"good","details":{"phone":"07700 900000"}}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "sub-1", gotInput.SubjectID)
	require.NotNil(t, gotInput.Details)
	require.NotNil(t, gotInput.Details.Phone)
	assert.Equal(t, "07700 900000", *gotInput.Details.Phone)

	rr = serve(t, router, http.MethodPost, "/registration", `{"assertion":"forged"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(t, router, http.MethodPost, "/registration", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSignInAndOut(t *testing.T) {
	expires := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	auth := &fakeAuthService{SignInFunc: func(assertion string) (*services.SignInResult, error) {
		switch assertion {
		case "member":
			return &services.SignInResult{Token: "tok", ExpiresAt: &expires, Member: &models.Member{ID: "m1"}}, nil
		case "disabled":
			return nil, services.ErrAccountDisabled
		}
		return &services.SignInResult{Registration: &models.SignInOutcome{Status: models.RegistrationPending}}, nil
	}}
	h := NewAuthHandler(auth, true)
	router := chi.NewRouter()
	router.Post("/auth/session", h.SignIn)
	router.With(withMember(&models.Member{ID: "m1", Status: models.MemberActive})).Delete("/auth/session", h.SignOut)

	rr := serve(t, router, http.MethodPost, "/auth/session", `{"assertion":"member"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookieName, cookies[0].Name)
	assert.Equal(t, "tok", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)

	rr = serve(t, router, http.MethodPost, "/auth/session", `{"assertion":"newcomer"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Result().Cookies())
	assert.Contains(t, decodeBody(t, rr), "registration")

	rr = serve(t, router, http.MethodPost, "/auth/session", `{"assertion":"disabled"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(t, router, http.MethodDelete, "/auth/session", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"sess-1"}, auth.revoked)
}
