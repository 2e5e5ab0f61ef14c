package handlers

import (
	"errors"
	"net/http"

	"github.com/Dosada05/club-system/middleware"
	"github.com/Dosada05/club-system/services"
)

const maxAvatarSize = 5 << 20 // 5MB

type MemberHandler struct {
	memberService       services.MemberService
	delegationService   services.DelegationService
	registrationService services.RegistrationService
}

func NewMemberHandler(ms services.MemberService, ds services.DelegationService, rs services.RegistrationService) *MemberHandler {
	return &MemberHandler{
		memberService:       ms,
		delegationService:   ds,
		registrationService: rs,
	}
}

// Me
// @Summary Текущий участник
// @Tags me
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]string "Неавторизован"
// @Security BearerAuth
// @Router /me [get]
func (h *MemberHandler) Me(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	member, err := h.memberService.Me(r.Context(), memberID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"member": member})
}

// CompleteProfile
// @Summary Заполнить профиль
// @Tags me
// @Description Телефон, тип членства, год и месяц рождения, пол. Группу можно выбрать только пока она не задана.
// @Accept json
// @Produce json
// @Param body body services.CompleteProfileInput true "Поля профиля"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string "Ошибка валидации"
// @Failure 403 {object} map[string]string "Группу меняет только администратор"
// @Security BearerAuth
// @Router /me/profile [put]
func (h *MemberHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input services.CompleteProfileInput
	if !decodeAndValidate(w, r, &input) {
		return
	}

	member, err := h.memberService.CompleteProfile(r.Context(), memberID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"member": member})
}

// UploadAvatar
// @Summary Загрузить аватар
// @Tags me
// @Accept multipart/form-data
// @Produce json
// @Param avatar formData file true "Изображение (jpeg, png, gif, webp)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string "Некорректный файл или загрузка отключена"
// @Security BearerAuth
// @Router /me/avatar [put]
func (h *MemberHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarSize+1024)
	if err := r.ParseMultipartForm(maxAvatarSize); err != nil {
		badRequestResponse(w, r, errors.New("avatar must be a multipart upload of at most 5MB"))
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		badRequestResponse(w, r, errors.New("content type required"))
		return
	}

	member, err := h.memberService.UploadAvatar(r.Context(), memberID, contentType, file)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"member": member})
}

// ListProfiles
// @Summary Доступные профили
// @Tags me
// @Description Свой профиль, активные профили детей и связанные аккаунты подростков.
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /me/profiles [get]
func (h *MemberHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	profiles, err := h.delegationService.ListProfiles(r.Context(), memberID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"profiles": profiles})
}

type switchProfileRequest struct {
	ProfileID string `json:"profile_id"`
}

// SwitchProfile
// @Summary Переключить активный профиль
// @Tags me
// @Accept json
// @Produce json
// @Param body body switchProfileRequest true "ID профиля (пусто = свой)"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]string "Профиль недоступен"
// @Security BearerAuth
// @Router /me/active-profile [post]
func (h *MemberHandler) SwitchProfile(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input switchProfileRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	profile, err := h.delegationService.SwitchProfile(r.Context(), memberID, input.ProfileID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"profile": profile})
}

// ListParentRequests
// @Summary Запросы на управление оплатой
// @Tags me
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /me/parent-requests [get]
func (h *MemberHandler) ListParentRequests(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	requests, err := h.registrationService.ListParentRequests(r.Context(), memberID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"parent_requests": requests})
}

// ApproveParentRequest
// @Summary Согласиться управлять оплатой подростка
// @Tags me
// @Produce json
// @Param requestID path string true "Parent request ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]string "Запрос адресован другому участнику"
// @Failure 409 {object} map[string]string "Запрос уже рассмотрен"
// @Security BearerAuth
// @Router /me/parent-requests/{requestID}/approve [post]
func (h *MemberHandler) ApproveParentRequest(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	requestID, err := urlParam(r, "requestID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	pr, err := h.registrationService.ApproveDelegation(r.Context(), requestID, memberID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"parent_request": pr})
}

type rejectParentRequest struct {
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// RejectParentRequest
// @Summary Отказаться управлять оплатой подростка
// @Tags me
// @Accept json
// @Produce json
// @Param requestID path string true "Parent request ID"
// @Param body body rejectParentRequest false "Причина"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]string "Запрос адресован другому участнику"
// @Failure 409 {object} map[string]string "Запрос уже рассмотрен"
// @Security BearerAuth
// @Router /me/parent-requests/{requestID}/reject [post]
func (h *MemberHandler) RejectParentRequest(w http.ResponseWriter, r *http.Request) {
	memberID, err := middleware.GetMemberIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	requestID, err := urlParam(r, "requestID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input rejectParentRequest
	if r.ContentLength != 0 {
		if !decodeAndValidate(w, r, &input) {
			return
		}
	}

	pr, err := h.registrationService.RejectDelegation(r.Context(), requestID, memberID, input.Reason)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"parent_request": pr})
}
