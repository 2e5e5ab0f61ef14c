package handlers

import (
	"net/http"

	"github.com/Dosada05/club-system/models"
	"github.com/Dosada05/club-system/services"
)

// RegistrationHandler serves prospective members. They have no session yet, so every
// request carries the identity provider assertion instead.
type RegistrationHandler struct {
	authService         services.AuthService
	registrationService services.RegistrationService
}

func NewRegistrationHandler(as services.AuthService, rs services.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{
		authService:         as,
		registrationService: rs,
	}
}

type registrationRequest struct {
	Assertion string                     `json:"assertion" validate:"required"`
	Details   models.RegistrationDetails `json:"details"`
}

type resubmitRequest struct {
	Assertion string `json:"assertion" validate:"required"`
	services.ResubmitInput
}

// Submit
// @Summary Подать заявку на вступление
// @Tags registration
// @Description Создает заявку при первом входе или возвращает состояние существующей.
// @Accept json
// @Produce json
// @Param body body registrationRequest true "Подтверждение и данные анкеты"
// @Success 200 {object} models.SignInOutcome
// @Failure 400 {object} map[string]string "Ошибка валидации"
// @Failure 401 {object} map[string]string "Недействительное подтверждение"
// @Failure 409 {object} map[string]string "Уже участник клуба"
// @Router /registration [post]
func (h *RegistrationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var input registrationRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	a, err := h.authService.Identify(r.Context(), input.Assertion)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	outcome, err := h.registrationService.OnFirstSignIn(r.Context(), services.FirstSignInInput{
		SubjectID:  a.SubjectID,
		Email:      a.Email,
		Name:       a.Name,
		PictureURL: a.PictureURL,
		Details:    &input.Details,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	status := http.StatusOK
	if outcome.Created {
		status = http.StatusCreated
	}
	respond(w, r, status, jsonResponse{"registration": outcome})
}

// UpdatePending
// @Summary Обновить данные ожидающей заявки
// @Tags registration
// @Accept json
// @Produce json
// @Param body body registrationRequest true "Подтверждение и новые данные"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string "Ошибка валидации"
// @Failure 404 {object} map[string]string "Заявка не найдена"
// @Failure 409 {object} map[string]string "Заявка уже рассмотрена"
// @Router /registration [put]
func (h *RegistrationHandler) UpdatePending(w http.ResponseWriter, r *http.Request) {
	var input registrationRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	a, err := h.authService.Identify(r.Context(), input.Assertion)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	req, err := h.registrationService.UpdatePendingDetails(r.Context(), a.SubjectID, input.Details)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"registration": req})
}

// Resubmit
// @Summary Повторно подать отклоненную заявку
// @Tags registration
// @Accept json
// @Produce json
// @Param body body resubmitRequest true "Подтверждение и исправленные данные"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string "Ошибка валидации"
// @Failure 403 {object} map[string]string "Повторная подача запрещена"
// @Failure 409 {object} map[string]string "Заявка не отклонена"
// @Router /registration/resubmit [post]
func (h *RegistrationHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	var input resubmitRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	a, err := h.authService.Identify(r.Context(), input.Assertion)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	req, err := h.registrationService.Resubmit(r.Context(), a.SubjectID, input.ResubmitInput)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, jsonResponse{"registration": req})
}
