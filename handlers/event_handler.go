package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Dosada05/club-system/middleware"
	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/services"
)

type EventHandler struct {
	eventService         services.EventService
	attendanceService    services.AttendanceService
	participationService services.ParticipationService
	subjects             services.SubjectResolver
}

func NewEventHandler(
	es services.EventService,
	as services.AttendanceService,
	ps services.ParticipationService,
	subjects services.SubjectResolver,
) *EventHandler {
	return &EventHandler{
		eventService:         es,
		attendanceService:    as,
		participationService: ps,
		subjects:             subjects,
	}
}

// ListEvents
// @Summary Список событий
// @Tags events
// @Description Участник видит события своих групп (или детские события для профиля ребенка). Администратор с all=true видит все.
// @Produce json
// @Param from query string false "Начало периода (RFC3339)"
// @Param to query string false "Конец периода (RFC3339)"
// @Param type query string false "Тип события"
// @Param limit query int false "Лимит"
// @Param all query bool false "Все события (только администратор)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string "Некорректные параметры"
// @Security BearerAuth
// @Router /events [get]
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	member, err := middleware.GetMemberFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var subject *models.Subject
	if !(member.IsActiveAdmin() && r.URL.Query().Get("all") == "true") {
		actingID, _ := middleware.GetActingSubjectID(r.Context())
		subject, err = h.subjects.ResolveSubject(r.Context(), member.ID, actingID)
		if err != nil {
			mapServiceErrorToHTTP(w, r, err)
			return
		}
	}

	events, err := h.eventService.List(r.Context(), filter, subject)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"events": events})
}

func parseEventFilter(r *http.Request) (models.EventFilter, error) {
	var filter models.EventFilter
	query := r.URL.Query()

	if v := query.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid from query parameter")
		}
		filter.From = &t
	}
	if v := query.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid to query parameter")
		}
		filter.To = &t
	}
	if v := query.Get("type"); v != "" {
		et := models.EventType(v)
		if !et.Valid() {
			return filter, errors.New("invalid type query parameter")
		}
		filter.Type = &et
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return filter, errors.New("invalid limit query parameter")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// GetEvent
// @Summary Событие по ID
// @Tags events
// @Produce json
// @Param eventID path string true "Event ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "Событие не найдено"
// @Security BearerAuth
// @Router /events/{eventID} [get]
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var event *models.Event
	if member, _ := middleware.GetMemberFromContext(r.Context()); member != nil && member.IsActiveAdmin() {
		event, err = h.eventService.GetWithDetails(r.Context(), eventID)
	} else {
		event, err = h.eventService.Get(r.Context(), eventID)
	}
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"event": event})
}

type attendanceRequest struct {
	Attending *bool  `json:"attending" validate:"required"`
	SubjectID string `json:"subject_id,omitempty"`
}

// actingSubject returns the explicit subject of the request body or, when empty, the
// member's active profile.
func actingSubject(r *http.Request, explicit string) (memberID, subjectID string, err error) {
	memberID, err = middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		return "", "", err
	}
	if explicit != "" {
		return memberID, explicit, nil
	}
	subjectID, err = middleware.GetActingSubjectID(r.Context())
	return memberID, subjectID, err
}

// SetAttendance
// @Summary Ответить на приглашение
// @Tags events
// @Description Отмечает, придет ли профиль на событие. По умолчанию используется активный профиль.
// @Accept json
// @Produce json
// @Param eventID path string true "Event ID"
// @Param body body attendanceRequest true "Ответ"
// @Success 200 {object} models.AttendanceRecord
// @Failure 403 {object} map[string]string "Профиль недоступен или прием ответов закрыт"
// @Failure 409 {object} map[string]string "Событие отменено или уже началось"
// @Security BearerAuth
// @Router /events/{eventID}/attendance [post]
func (h *EventHandler) SetAttendance(w http.ResponseWriter, r *http.Request) {
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input attendanceRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	memberID, subjectID, err := actingSubject(r, input.SubjectID)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	record, err := h.attendanceService.SetAttending(r.Context(), eventID, memberID, subjectID, *input.Attending)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"attendance": record})
}

type subjectRequest struct {
	SubjectID string `json:"subject_id,omitempty"`
}

func (h *EventHandler) optionalSubject(w http.ResponseWriter, r *http.Request) (string, bool) {
	var input subjectRequest
	if r.ContentLength != 0 {
		if !decodeAndValidate(w, r, &input) {
			return "", false
		}
	}
	return input.SubjectID, true
}

// MarkPaid
// @Summary Отметить оплату
// @Tags events
// @Description Переводит оплату в статус PENDING до подтверждения администратором.
// @Accept json
// @Produce json
// @Param eventID path string true "Event ID"
// @Param body body subjectRequest false "Профиль (по умолчанию активный)"
// @Success 200 {object} models.AttendanceRecord
// @Failure 403 {object} map[string]string "Оплата сейчас невозможна"
// @Security BearerAuth
// @Router /events/{eventID}/payment [post]
func (h *EventHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	explicit, ok := h.optionalSubject(w, r)
	if !ok {
		return
	}

	memberID, subjectID, err := actingSubject(r, explicit)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	record, err := h.attendanceService.MarkPaid(r.Context(), eventID, memberID, subjectID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"attendance": record})
}

// RequestParticipation
// @Summary Запрос на участие после закрытия приема ответов
// @Tags events
// @Accept json
// @Produce json
// @Param eventID path string true "Event ID"
// @Param body body subjectRequest false "Профиль (по умолчанию активный)"
// @Success 201 {object} models.ParticipationRequest
// @Failure 403 {object} map[string]string "Окно запросов закрыто"
// @Failure 409 {object} map[string]string "Запрос уже существует"
// @Security BearerAuth
// @Router /events/{eventID}/participation-requests [post]
func (h *EventHandler) RequestParticipation(w http.ResponseWriter, r *http.Request) {
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	explicit, ok := h.optionalSubject(w, r)
	if !ok {
		return
	}

	memberID, subjectID, err := actingSubject(r, explicit)
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	pr, err := h.participationService.RequestParticipation(r.Context(), eventID, memberID, subjectID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, jsonResponse{"participation_request": pr})
}

// CreateEvent
// @Summary Создать событие
// @Tags admin-events
// @Accept json
// @Produce json
// @Param body body services.EventInput true "Событие"
// @Success 201 {object} models.Event
// @Failure 400 {object} map[string]string "Ошибка валидации"
// @Security BearerAuth
// @Router /admin/events [post]
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input services.EventInput
	if !decodeAndValidate(w, r, &input) {
		return
	}

	event, err := h.eventService.Create(r.Context(), adminID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, jsonResponse{"event": event})
}

// UpdateEvent
// @Summary Изменить событие
// @Tags admin-events
// @Accept json
// @Produce json
// @Param eventID path string true "Event ID"
// @Param body body services.EventInput true "Событие"
// @Success 200 {object} models.Event
// @Failure 409 {object} map[string]string "Событие уже началось или отменено"
// @Security BearerAuth
// @Router /admin/events/{eventID} [put]
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input services.EventInput
	if !decodeAndValidate(w, r, &input) {
		return
	}

	event, err := h.eventService.Update(r.Context(), adminID, eventID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"event": event})
}

// CancelEvent
// @Summary Отменить событие
// @Tags admin-events
// @Produce json
// @Param eventID path string true "Event ID"
// @Success 200 {object} models.Event
// @Failure 409 {object} map[string]string "Событие уже отменено"
// @Security BearerAuth
// @Router /admin/events/{eventID}/cancel [post]
func (h *EventHandler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	event, err := h.eventService.Cancel(r.Context(), adminID, eventID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"event": event})
}

// DeleteEvent
// @Summary Удалить событие
// @Tags admin-events
// @Param eventID path string true "Event ID"
// @Success 204 "Событие удалено"
// @Failure 404 {object} map[string]string "Событие не найдено"
// @Failure 409 {object} map[string]string "Событие уже началось"
// @Security BearerAuth
// @Router /admin/events/{eventID} [delete]
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := h.eventService.Delete(r.Context(), adminID, eventID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAttendance
// @Summary Список ответов и оплат по событию
// @Tags admin-events
// @Produce json
// @Param eventID path string true "Event ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/events/{eventID}/attendance [get]
func (h *EventHandler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	records, err := h.attendanceService.ListForEvent(r.Context(), eventID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"attendance": records})
}

type pastAttendeesRequest struct {
	SubjectIDs []string `json:"subject_ids" validate:"required,min=1,dive,required"`
}

// AddPastAttendees
// @Summary Добавить присутствовавших задним числом
// @Tags admin-events
// @Accept json
// @Produce json
// @Param eventID path string true "Event ID"
// @Param body body pastAttendeesRequest true "ID профилей"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string "Профиль не найден или не подходит к событию"
// @Security BearerAuth
// @Router /admin/events/{eventID}/attendance [post]
func (h *EventHandler) AddPastAttendees(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input pastAttendeesRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	records, err := h.attendanceService.AdminAddPastAttendees(r.Context(), adminID, eventID, input.SubjectIDs)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"attendance": records})
}

type setAttendedRequest struct {
	Attended *bool `json:"attended" validate:"required"`
}

// SetAttended
// @Summary Отметить фактическое присутствие
// @Tags admin-events
// @Accept json
// @Produce json
// @Param eventID path string true "Event ID"
// @Param subjectID path string true "Subject ID"
// @Param body body setAttendedRequest true "Присутствие"
// @Success 200 {object} models.AttendanceRecord
// @Security BearerAuth
// @Router /admin/events/{eventID}/attendance/{subjectID}/attended [put]
func (h *EventHandler) SetAttended(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	subjectID, err := urlParam(r, "subjectID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input setAttendedRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	record, err := h.attendanceService.AdminSetAttended(r.Context(), adminID, eventID, subjectID, *input.Attended)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"attendance": record})
}

// ConfirmPayments
// @Summary Подтвердить или отклонить оплаты
// @Tags admin-events
// @Description Применяет один статус оплаты ко всем записям в одной транзакции.
// @Accept json
// @Produce json
// @Param body body services.PaymentConfirmationInput true "Записи и статус"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string "Нет корректных записей или неверный статус"
// @Security BearerAuth
// @Router /admin/payments/confirm [post]
func (h *EventHandler) ConfirmPayments(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input services.PaymentConfirmationInput
	if !decodeAndValidate(w, r, &input) {
		return
	}

	updated, err := h.attendanceService.AdminConfirmPayments(r.Context(), adminID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"updated": updated})
}

// ListParticipationRequests
// @Summary Запросы на участие по событию
// @Tags admin-events
// @Produce json
// @Param eventID path string true "Event ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/events/{eventID}/participation-requests [get]
func (h *EventHandler) ListParticipationRequests(w http.ResponseWriter, r *http.Request) {
	eventID, err := urlParam(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	requests, err := h.participationService.ListForEvent(r.Context(), eventID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"participation_requests": requests})
}

// ApproveParticipation
// @Summary Одобрить запрос на участие
// @Tags admin-events
// @Produce json
// @Param requestID path string true "Participation request ID"
// @Success 200 {object} models.ParticipationRequest
// @Failure 409 {object} map[string]string "Запрос уже рассмотрен"
// @Security BearerAuth
// @Router /admin/participation-requests/{requestID}/approve [post]
func (h *EventHandler) ApproveParticipation(w http.ResponseWriter, r *http.Request) {
	h.resolveParticipation(w, r, h.participationService.Approve)
}

// RejectParticipation
// @Summary Отклонить запрос на участие
// @Tags admin-events
// @Produce json
// @Param requestID path string true "Participation request ID"
// @Success 200 {object} models.ParticipationRequest
// @Failure 409 {object} map[string]string "Запрос уже рассмотрен"
// @Security BearerAuth
// @Router /admin/participation-requests/{requestID}/reject [post]
func (h *EventHandler) RejectParticipation(w http.ResponseWriter, r *http.Request) {
	h.resolveParticipation(w, r, h.participationService.Reject)
}

type participationResolver func(ctx context.Context, requestID, adminID string) (*models.ParticipationRequest, error)

func (h *EventHandler) resolveParticipation(w http.ResponseWriter, r *http.Request, resolve participationResolver) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	requestID, err := urlParam(r, "requestID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	pr, err := resolve(r.Context(), requestID, adminID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"participation_request": pr})
}
