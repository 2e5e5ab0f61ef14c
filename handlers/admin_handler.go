package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Dosada05/club-system/middleware"
	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/services"
)

// AdminHandler serves the /admin registration, member and kid routes. Every route is
// mounted behind middleware.RequireAdmin.
type AdminHandler struct {
	registrationService services.RegistrationService
	memberService       services.MemberService
	statusService       services.MemberStatusService
	delegationService   services.DelegationService
}

func NewAdminHandler(
	rs services.RegistrationService,
	ms services.MemberService,
	ss services.MemberStatusService,
	ds services.DelegationService,
) *AdminHandler {
	return &AdminHandler{
		registrationService: rs,
		memberService:       ms,
		statusService:       ss,
		delegationService:   ds,
	}
}

// ListRegistrations
// @Summary Ожидающие заявки
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/registrations [get]
func (h *AdminHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	requests, err := h.registrationService.ListPending(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"registrations": requests})
}

// GetRegistration
// @Summary Заявка по ID
// @Tags admin
// @Produce json
// @Param requestID path string true "Registration ID"
// @Success 200 {object} models.RegistrationRequest
// @Failure 404 {object} map[string]string "Заявка не найдена"
// @Security BearerAuth
// @Router /admin/registrations/{requestID} [get]
func (h *AdminHandler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	requestID, err := urlParam(r, "requestID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	request, err := h.registrationService.Get(r.Context(), requestID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"registration": request})
}

// ApproveRegistration
// @Summary Одобрить заявку
// @Tags admin
// @Description Создает участника. Поля тела запроса переопределяют данные заявки.
// @Accept json
// @Produce json
// @Param requestID path string true "Registration ID"
// @Param body body models.ApprovalOverrides false "Переопределения"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string "Не хватает данных заявки"
// @Failure 409 {object} map[string]string "Заявка уже рассмотрена"
// @Security BearerAuth
// @Router /admin/registrations/{requestID}/approve [post]
func (h *AdminHandler) ApproveRegistration(w http.ResponseWriter, r *http.Request) {
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

	var overrides *models.ApprovalOverrides
	if r.ContentLength != 0 {
		overrides = &models.ApprovalOverrides{}
		if !decodeAndValidate(w, r, overrides) {
			return
		}
	}

	memberID, err := h.registrationService.Approve(r.Context(), requestID, adminID, overrides)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"member_id": memberID})
}

// RejectRegistration
// @Summary Отклонить заявку
// @Tags admin
// @Accept json
// @Produce json
// @Param requestID path string true "Registration ID"
// @Param body body services.RejectInput true "Причина"
// @Success 200 {object} models.RegistrationRequest
// @Failure 409 {object} map[string]string "Заявка уже рассмотрена"
// @Security BearerAuth
// @Router /admin/registrations/{requestID}/reject [post]
func (h *AdminHandler) RejectRegistration(w http.ResponseWriter, r *http.Request) {
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

	var input services.RejectInput
	if !decodeAndValidate(w, r, &input) {
		return
	}

	request, err := h.registrationService.Reject(r.Context(), requestID, adminID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"registration": request})
}

// ListMembers
// @Summary Список участников
// @Tags admin
// @Produce json
// @Param search query string false "Поиск по имени или email"
// @Param role query string false "Роль"
// @Param status query string false "Статус"
// @Param page query int false "Страница"
// @Param limit query int false "Лимит"
// @Success 200 {object} models.MemberListResponse
// @Security BearerAuth
// @Router /admin/members [get]
func (h *AdminHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.MemberFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Page:   toInt(q.Get("page"), 1),
		Limit:  toInt(q.Get("limit"), 20),
	}
	if v := q.Get("role"); v != "" {
		role := models.MemberRole(v)
		if !role.Valid() {
			failedValidationResponse(w, r, map[string]string{"role": "must be one of player admin"})
			return
		}
		filter.Role = &role
	}
	if v := q.Get("status"); v != "" {
		status := models.MemberStatus(v)
		filter.Status = &status
	}

	res, err := h.memberService.List(r.Context(), filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, res)
}

type changeStatusRequest struct {
	Action string  `json:"action" validate:"required,oneof=disable enable remove restore"`
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// ChangeStatus
// @Summary Изменить статус участника
// @Tags admin
// @Accept json
// @Produce json
// @Param memberID path string true "Member ID"
// @Param body body changeStatusRequest true "Действие"
// @Success 200 {object} models.Member
// @Failure 403 {object} map[string]string "Нельзя изменить статус себе или последнему администратору"
// @Failure 409 {object} map[string]string "Переход невозможен из текущего статуса"
// @Security BearerAuth
// @Router /admin/members/{memberID}/status [post]
func (h *AdminHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	memberID, err := urlParam(r, "memberID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input changeStatusRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	member, err := h.statusService.ChangeStatus(r.Context(), memberID, adminID, services.StatusAction(input.Action), input.Reason)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"member": member})
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=player admin"`
}

// ChangeRole
// @Summary Изменить роль участника
// @Tags admin
// @Accept json
// @Produce json
// @Param memberID path string true "Member ID"
// @Param body body changeRoleRequest true "Роль"
// @Success 200 {object} models.Member
// @Failure 403 {object} map[string]string "Нельзя понизить последнего администратора"
// @Security BearerAuth
// @Router /admin/members/{memberID}/role [put]
func (h *AdminHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	memberID, err := urlParam(r, "memberID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input changeRoleRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	member, err := h.statusService.ChangeRole(r.Context(), memberID, adminID, models.MemberRole(input.Role))
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"member": member})
}

type setGroupsRequest struct {
	Groups []string `json:"groups" validate:"required,min=1,dive,required"`
}

// SetGroups
// @Summary Назначить группы участнику
// @Tags admin
// @Accept json
// @Produce json
// @Param memberID path string true "Member ID"
// @Param body body setGroupsRequest true "Группы"
// @Success 200 {object} models.Member
// @Security BearerAuth
// @Router /admin/members/{memberID}/groups [put]
func (h *AdminHandler) SetGroups(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	memberID, err := urlParam(r, "memberID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input setGroupsRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	member, err := h.memberService.SetGroups(r.Context(), adminID, memberID, input.Groups)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"member": member})
}

// StatusHistory
// @Summary История статусов участника
// @Tags admin
// @Produce json
// @Param memberID path string true "Member ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/members/{memberID}/history [get]
func (h *AdminHandler) StatusHistory(w http.ResponseWriter, r *http.Request) {
	memberID, err := urlParam(r, "memberID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	history, err := h.statusService.History(r.Context(), memberID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"history": history})
}

// CreateKid
// @Summary Создать профиль ребенка
// @Tags admin
// @Accept json
// @Produce json
// @Param body body services.CreateKidInput true "Ребенок"
// @Success 201 {object} models.Kid
// @Failure 400 {object} map[string]string "Родитель не найден или ошибка валидации"
// @Security BearerAuth
// @Router /admin/kids [post]
func (h *AdminHandler) CreateKid(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input services.CreateKidInput
	if !decodeAndValidate(w, r, &input) {
		return
	}

	kid, err := h.delegationService.CreateKid(r.Context(), adminID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, jsonResponse{"kid": kid})
}

type addParentRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// AddSecondaryParent
// @Summary Добавить второго родителя
// @Tags admin
// @Accept json
// @Produce json
// @Param kidID path string true "Kid ID"
// @Param body body addParentRequest true "Email родителя"
// @Success 200 {object} models.Kid
// @Failure 409 {object} map[string]string "Родитель уже привязан"
// @Security BearerAuth
// @Router /admin/kids/{kidID}/parents [post]
func (h *AdminHandler) AddSecondaryParent(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	kidID, err := urlParam(r, "kidID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input addParentRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	kid, err := h.delegationService.AddSecondaryParent(r.Context(), adminID, kidID, input.Email)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"kid": kid})
}

// DeactivateKid
// @Summary Деактивировать профиль ребенка
// @Tags admin
// @Produce json
// @Param kidID path string true "Kid ID"
// @Success 200 {object} models.Kid
// @Failure 409 {object} map[string]string "Статус не изменился"
// @Security BearerAuth
// @Router /admin/kids/{kidID}/deactivate [post]
func (h *AdminHandler) DeactivateKid(w http.ResponseWriter, r *http.Request) {
	h.setKidStatus(w, r, h.delegationService.DeactivateKid)
}

// ReactivateKid
// @Summary Восстановить профиль ребенка
// @Tags admin
// @Produce json
// @Param kidID path string true "Kid ID"
// @Success 200 {object} models.Kid
// @Failure 409 {object} map[string]string "Статус не изменился"
// @Security BearerAuth
// @Router /admin/kids/{kidID}/reactivate [post]
func (h *AdminHandler) ReactivateKid(w http.ResponseWriter, r *http.Request) {
	h.setKidStatus(w, r, h.delegationService.ReactivateKid)
}

func (h *AdminHandler) setKidStatus(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, adminID, kidID string) (*models.Kid, error)) {
	adminID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	kidID, err := urlParam(r, "kidID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	kid, err := apply(r.Context(), adminID, kidID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"kid": kid})
}

func toInt(s string, def int) int {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return def
}
